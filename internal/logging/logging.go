// Package logging provides the structured logger used across the module,
// a thin wrapper over zap matching the ambient logging idiom found across
// the example corpus (a small typed façade over *zap.Logger rather than
// passing zap.Field values at every call site).
package logging

import (
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"
)

// Logger wraps *zap.Logger with the module's common fields already bound.
type Logger struct {
	z *zap.Logger
}

// New builds a production JSON logger.
func New() (*Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

// Nop returns a logger that discards everything, for tests.
func Nop() *Logger {
	return &Logger{z: zap.NewNop()}
}

// With returns a child logger with additional fields bound.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }
func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }

func (l *Logger) Sync() error { return l.z.Sync() }

// HexBytes logs a byte slice as a lowercase hex string, the module's usual
// rendering for node/replica ids and op refs in logs.
func HexBytes(key string, b []byte) zap.Field {
	return zap.String(key, hex.EncodeToString(b))
}

// Kind is a typed field for an op kind, avoiding zap.Any's reflection path
// for a value on the hot apply path.
func Kind(key string, k fmt.Stringer) zap.Field {
	return zap.Stringer(key, k)
}
