// Package log is the structured logger used across phe. It wraps a zap
// SugaredLogger behind a small interface so packages can depend on it
// without importing zap directly.
package log

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger can log to different levels with structured key/value pairs.
type Logger interface {
	Info(keyvals ...interface{})
	Debug(keyvals ...interface{})
	Warn(keyvals ...interface{})
	Error(keyvals ...interface{})
	Fatal(keyvals ...interface{})
	Infow(msg string, keyvals ...interface{})
	Debugw(msg string, keyvals ...interface{})
	Warnw(msg string, keyvals ...interface{})
	Errorw(msg string, keyvals ...interface{})
	Fatalw(msg string, keyvals ...interface{})
	With(args ...interface{}) Logger
	Named(s string) Logger
}

type log struct {
	*zap.SugaredLogger
}

func (l *log) With(args ...interface{}) Logger {
	return &log{l.SugaredLogger.With(args...)}
}

func (l *log) Named(s string) Logger {
	return &log{l.SugaredLogger.Named(s)}
}

const (
	DebugLevel = int(zapcore.DebugLevel)
	InfoLevel  = int(zapcore.InfoLevel)
	WarnLevel  = int(zapcore.WarnLevel)
	ErrorLevel = int(zapcore.ErrorLevel)
)

// DefaultLevel is the level of DefaultLogger. PHE_LOG=debug lowers it.
var DefaultLevel = InfoLevel

func init() {
	if lvl, ok := os.LookupEnv("PHE_LOG"); ok {
		if parsed, err := ParseLevel(lvl); err == nil {
			DefaultLevel = parsed
		}
	}
}

// ParseLevel maps "debug", "info", "warn" and "error" to a level.
func ParseLevel(s string) (int, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return 0, err
	}
	return int(l), nil
}

var defaultOnce sync.Once

// DefaultLogger is a JSON logger to stdout at DefaultLevel.
func DefaultLogger() Logger {
	defaultOnce.Do(func() {
		zap.ReplaceGlobals(newZapLogger(nil, jsonEncoder(), DefaultLevel))
	})
	return &log{zap.S()}
}

// New returns a logger writing to output (stdout when nil) at level.
func New(output zapcore.WriteSyncer, level int, isJSON bool) Logger {
	encoder := consoleEncoder()
	if isJSON {
		encoder = jsonEncoder()
	}
	return &log{newZapLogger(output, encoder, level).Sugar()}
}

// Nop discards everything.
func Nop() Logger {
	return &log{zap.NewNop().Sugar()}
}

func newZapLogger(output zapcore.WriteSyncer, encoder zapcore.Encoder, level int) *zap.Logger {
	if output == nil {
		output = os.Stdout
	}
	core := zapcore.NewCore(encoder, output, zapcore.Level(level))
	return zap.New(core, zap.WithCaller(true))
}

func jsonEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(cfg)
}

func consoleEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

type ctxKey struct{}

// ToContext attaches l to ctx.
func ToContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContextOrDefault returns the logger set by ToContext, or DefaultLogger.
func FromContextOrDefault(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	return DefaultLogger()
}
