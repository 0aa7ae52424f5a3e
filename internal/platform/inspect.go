package platform

import (
	"context"
	"strings"

	"github.com/opd-ai/go-procmon/internal/monitor"
)

// inspector opens diagnostics by inspecting the target process and
// logging what it finds.
type inspector struct {
	inspect func(ctx context.Context, pid int) (*Inspection, error)
	logger  monitor.Logger
}

// OpenDiagnostics implements monitor.DiagnosticsOpener.
func (i *inspector) OpenDiagnostics(ctx context.Context, target monitor.DiagnosticsTarget) error {
	in, err := i.inspect(ctx, target.PID)
	if err != nil {
		return err
	}

	args := []any{
		"pid", in.PID,
		"kind", target.Kind,
		"name", in.Name,
		"exe", in.Exe,
		"cmdline", strings.Join(in.Cmdline, " "),
		"threads", in.Threads,
		"open_files", in.OpenFiles,
		"state", in.State,
	}
	if a := target.UIAffinity; a != nil {
		args = append(args, "surface", a.ContentSurfaceID, "window", a.WindowID)
	}
	i.logger.Info("process inspection", args...)
	return nil
}
