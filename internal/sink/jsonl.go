package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/opd-ai/go-procmon/internal/monitor"
)

// JSONLines writes one JSON document per snapshot.
type JSONLines struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

// NewJSONLines returns a sink writing to w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{w: w, enc: json.NewEncoder(w)}
}

// OnSnapshot implements monitor.Sink. A reader that has gone away (closed
// pipe or file) closes the sink.
func (j *JSONLines) OnSnapshot(_ context.Context, snap *monitor.Snapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.enc.Encode(snap); err != nil {
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return monitor.ErrSinkClosed
		}
		return fmt.Errorf("writing snapshot %d: %w", snap.Sequence, err)
	}
	return nil
}
