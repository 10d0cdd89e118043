package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Options selects where and how log lines are written.
type Options struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string

	// Format is "text" (console encoder) or "json".
	Format string

	// Output is "stdout", "stderr" or a file path (appended to).
	Output string
}

var (
	mu     sync.RWMutex
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar  = newSugar(zapcore.Lock(os.Stdout), "text")
	closer func() error
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel converts a level name into a Level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// SetLevel changes the minimum level. Unknown names are ignored.
func SetLevel(name string) {
	if l, err := ParseLevel(name); err == nil {
		level.SetLevel(l.zapLevel())
	}
}

// Configure replaces the output and encoding of the package logger.
//
// It may be called at any time; lines logged concurrently go to either the
// old or the new destination.
func Configure(opts Options) error {
	l := LevelInfo
	if opts.Level != "" {
		parsed, err := ParseLevel(opts.Level)
		if err != nil {
			return err
		}
		l = parsed
	}

	format := strings.ToLower(opts.Format)
	if format == "" {
		format = "text"
	}
	if format != "text" && format != "json" {
		return fmt.Errorf("unknown log format %q", opts.Format)
	}

	sink, closeSink, err := openOutput(opts.Output)
	if err != nil {
		return err
	}

	mu.Lock()
	previous := closer
	sugar = newSugar(sink, format)
	closer = closeSink
	mu.Unlock()

	level.SetLevel(l.zapLevel())

	if previous != nil {
		_ = previous()
	}
	return nil
}

// Sync flushes buffered log lines.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return sugar.Sync()
}

func openOutput(output string) (zapcore.WriteSyncer, func() error, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil, nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil, nil
	}

	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output %s: %w", output, err)
	}
	return zapcore.Lock(f), f.Close, nil
}

func newSugar(sink zapcore.WriteSyncer, format string) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")

	var enc zapcore.Encoder
	if format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	return zap.New(zapcore.NewCore(enc, sink, level)).Sugar()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func Debug(format string, v ...any) {
	current().Debugf(format, v...)
}

func Info(format string, v ...any) {
	current().Infof(format, v...)
}

func Warn(format string, v ...any) {
	current().Warnf(format, v...)
}

func Error(format string, v ...any) {
	current().Errorf(format, v...)
}
