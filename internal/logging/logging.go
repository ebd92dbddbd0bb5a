package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the process-wide logging threshold
type Level int8

const (
	LevelOff Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

// TraceLevel sits below zap's debug level
const TraceLevel = zapcore.DebugLevel - 1

var levelNames = []string{"LOG_LEVEL_OFF", "LOG_LEVEL_ERROR", "LOG_LEVEL_WARN", "LOG_LEVEL_INFO", "LOG_LEVEL_DEBUG", "LOG_LEVEL_TRACE"}

func (l Level) String() string {
	if int(l) >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("LOG_LEVEL(%d)", int(l))
}

// MarshalText implements encoding.TextMarshaler
func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText accepts "LOG_LEVEL_DEBUG" or "debug"
func (l *Level) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	for i, name := range levelNames {
		if strings.EqualFold(s, name) || strings.EqualFold("LOG_LEVEL_"+s, name) {
			*l = Level(i)
			return nil
		}
	}
	return fmt.Errorf("unknown log level %q", s)
}

func (l Level) zap() zapcore.Level {
	switch l {
	case LevelError:
		return zapcore.ErrorLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelTrace:
		return TraceLevel
	}
	// Above fatal: nothing is enabled.
	return zapcore.FatalLevel + 1
}

func fromZap(l zapcore.Level) Level {
	switch {
	case l <= TraceLevel:
		return LevelTrace
	case l == zapcore.DebugLevel:
		return LevelDebug
	case l == zapcore.InfoLevel:
		return LevelInfo
	case l == zapcore.WarnLevel:
		return LevelWarn
	}
	return LevelError
}

// Entry is what a log handler receives for each emitted entry
type Entry struct {
	Time     time.Time
	Message  string
	File     string
	Function string
	Line     int
	Level    Level
}

// Handler observes log entries at or above the threshold
type Handler func(Entry)

var (
	atom    = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	handler atomic.Pointer[Handler]
	global  atomic.Pointer[zap.Logger]
	once    sync.Once
)

// SetLevel replaces the process-wide threshold. It is meant to be called
// before concurrent traffic starts.
func SetLevel(l Level) { atom.SetLevel(l.zap()) }

// GetLevel returns the current threshold
func GetLevel() Level {
	if atom.Level() > zapcore.FatalLevel {
		return LevelOff
	}
	return fromZap(atom.Level())
}

// SetHandler installs h to observe every emitted entry; nil removes it
func SetHandler(h Handler) {
	if h == nil {
		handler.Store(nil)
		return
	}
	handler.Store(&h)
}

func hook(e zapcore.Entry) error {
	h := handler.Load()
	if h == nil {
		return nil
	}
	(*h)(Entry{
		Time:     e.Time,
		Message:  e.Message,
		File:     e.Caller.File,
		Function: e.Caller.Function,
		Line:     e.Caller.Line,
		Level:    fromZap(e.Level),
	})
	return nil
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l < zapcore.DebugLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}

// New builds a logger writing to w in the given format ("json" or
// "console"). It shares the process-wide level and handler.
func New(w io.Writer, format string) *zap.Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = encodeLevel

	var enc zapcore.Encoder
	if format == "console" {
		enc = zapcore.NewConsoleEncoder(cfg)
	} else {
		enc = zapcore.NewJSONEncoder(cfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), atom)
	return zap.New(core, zap.AddCaller(), zap.Hooks(hook))
}

// Configure replaces the process logger
func Configure(w io.Writer, format string, level Level) *zap.Logger {
	SetLevel(level)
	l := New(w, format)
	global.Store(l)
	return l
}

// L returns the process logger, a JSON logger on stderr unless Configure
// installed another.
func L() *zap.Logger {
	once.Do(func() {
		if global.Load() == nil {
			global.CompareAndSwap(nil, New(os.Stderr, "json"))
		}
	})
	return global.Load()
}

// Trace logs at TraceLevel
func Trace(l *zap.Logger, msg string, fields ...zap.Field) {
	if !l.Core().Enabled(TraceLevel) {
		return
	}
	if ce := l.WithOptions(zap.AddCallerSkip(1)).Check(TraceLevel, msg); ce != nil {
		ce.Write(fields...)
	}
}

type contextKey struct{}

// WithFields adds log fields to the context
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, contextKey{}, append(Fields(ctx), fields...))
}

// Fields extracts log fields from the context
func Fields(ctx context.Context) []zap.Field {
	fields, _ := ctx.Value(contextKey{}).([]zap.Field)
	return append([]zap.Field(nil), fields...)
}

// WithContext enriches the logger with fields from the context
func WithContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	return logger.With(Fields(ctx)...)
}
