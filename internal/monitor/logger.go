package monitor

// Logger is the structured logging interface used by the engine.
// It follows the slog-style signature; pkg/procmon adapts *slog.Logger to it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func orNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

// NopLogger returns a Logger that discards every message.
func NopLogger() Logger { return nopLogger{} }
