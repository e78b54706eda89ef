// Package diag is the process-wide diagnostic channel for the server's
// own operational messages. It is deliberately separate from the log
// store: ingest problems, transport events and worker lifecycle notes go
// here, never into the aggregated log data.
package diag

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sink receives diagnostic messages tagged with the emitting component.
type Sink interface {
	Log(component, msg string)
	Error(component, msg string)
}

var (
	mu   sync.Mutex
	sink Sink = NewZapSink()
)

// SetSink replaces the active sink. Passing nil restores the default zap
// sink. Concurrent Log/Error calls block until the swap completes.
func SetSink(s Sink) {
	mu.Lock()
	defer mu.Unlock()
	if s == nil {
		s = NewZapSink()
	}
	sink = s
}

// Log reports an informational message.
func Log(component, msg string) {
	mu.Lock()
	defer mu.Unlock()
	sink.Log(component, msg)
}

// Logf reports a formatted informational message.
func Logf(component, format string, args ...any) {
	Log(component, fmt.Sprintf(format, args...))
}

// Error reports an error message.
func Error(component, msg string) {
	mu.Lock()
	defer mu.Unlock()
	sink.Error(component, msg)
}

// Errorf reports a formatted error message.
func Errorf(component, format string, args ...any) {
	Error(component, fmt.Sprintf(format, args...))
}

// ZapSink writes structured console lines through zap.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink builds the default sink: console-encoded zap output with
// info lines on stdout and error lines on stderr.
func NewZapSink() *ZapSink {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	enc := zapcore.NewConsoleEncoder(encCfg)

	core := zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l < zapcore.ErrorLevel
		})),
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zapcore.ErrorLevel
		})),
	)

	return &ZapSink{logger: zap.New(core)}
}

// NewZapSinkWithLogger wraps an existing zap logger, for tests and
// embedders that manage their own logging setup.
func NewZapSinkWithLogger(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger}
}

func (s *ZapSink) Log(component, msg string) {
	s.logger.Info(msg, zap.String("component", component))
}

func (s *ZapSink) Error(component, msg string) {
	s.logger.Error(msg, zap.String("component", component))
}

// LegacySink prints plain tagged lines, matching the original console
// output format. Selected with --legacy-console.
type LegacySink struct{}

func (LegacySink) Log(component, msg string) {
	fmt.Fprintf(os.Stdout, "[%s] %s\n", component, msg)
}

func (LegacySink) Error(component, msg string) {
	fmt.Fprintf(os.Stderr, "[%s] %s\n", component, msg)
}
