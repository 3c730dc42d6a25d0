// Package logging wraps go.uber.org/zap's SugaredLogger behind
// types.Logger, so the rest of the module depends only on the small
// interface and cmd/reviewpipe is the sole place zap is constructed.
package logging

import (
	"go.uber.org/zap"

	"github.com/bittoy/reviewpipe/internal/types"
)

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a production zap logger (JSON encoding, info level) wrapped
// as a types.Logger.
func New() (types.Logger, func(), error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, func() {}, err
	}
	sugar := logger.Sugar()
	return &zapLogger{sugar: sugar}, func() { _ = logger.Sync() }, nil
}

func (l *zapLogger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *zapLogger) Warnf(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...) }
func (l *zapLogger) Fatalf(format string, args ...any) { l.sugar.Fatalf(format, args...) }
