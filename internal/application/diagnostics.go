package application

// Diagnostics receives warnings and debug notes about degraded input.
// *slog.Logger satisfies it.
type Diagnostics interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type NopDiagnostics struct{}

func (NopDiagnostics) Debug(string, ...any) {}
func (NopDiagnostics) Warn(string, ...any)  {}
