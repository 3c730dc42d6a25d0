package types

// Logger is the logging surface every package in this module depends on.
// Concrete implementations (internal/logging wraps go.uber.org/zap) are
// injected from cmd/reviewpipe; no other package imports zap directly.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// NopLogger discards everything. Used as a safe zero value in tests.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any) {}
func (NopLogger) Infof(string, ...any)  {}
func (NopLogger) Warnf(string, ...any)  {}
func (NopLogger) Errorf(string, ...any) {}
func (NopLogger) Fatalf(string, ...any) {}
