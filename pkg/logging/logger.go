// Package logging is the structured logger shared by the linker service and
// CLI. Lines go to a console or JSON writer, plus an optional rotating file.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config is the logging section of the linker config file.
type Config struct {
	Level       Level  `yaml:"level"`
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`
	// JSONFormat selects JSON lines over the console writer.
	JSONFormat bool `yaml:"json"`
	// Output defaults to os.Stderr.
	Output io.Writer  `yaml:"-"`
	File   FileConfig `yaml:"file"`
}

func DefaultConfig() *Config {
	return &Config{
		Level:       LevelInfo,
		ServiceName: "penf-linker",
		Environment: "development",
		Output:      os.Stderr,
	}
}

// Logger is what every linker component logs through.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// With returns a child logger that adds fields to every line.
	With(fields ...Field) Logger
}

type Field struct {
	Key   string
	Value interface{}
}

func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

func Err(err error) Field { return Field{Key: zerolog.ErrorFieldName, Value: err} }

// Component names the subsystem a child logger belongs to.
func Component(name string) Field { return Field{Key: "component", Value: name} }

// fieldList flattens fields into zerolog's ordered key/value form.
func fieldList(fields []Field) []interface{} {
	kv := make([]interface{}, 0, 2*len(fields))
	for _, f := range fields {
		kv = append(kv, f.Key, f.Value)
	}
	return kv
}

type zlogger struct {
	zl zerolog.Logger
}

// NewLogger builds a Logger from cfg; a nil cfg means DefaultConfig.
func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	w := out
	if !cfg.JSONFormat {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	if cfg.File.Path != "" {
		w = zerolog.MultiLevelWriter(w, NewRotatingWriter(cfg.File))
	}

	zl := zerolog.New(w).Level(parseLevel(cfg.Level)).With().
		Timestamp().
		Str("service_name", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Logger()
	return &zlogger{zl: zl}
}

func parseLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

func (l *zlogger) Debug(msg string, fields ...Field) { l.emit(l.zl.Debug(), msg, fields) }
func (l *zlogger) Info(msg string, fields ...Field)  { l.emit(l.zl.Info(), msg, fields) }
func (l *zlogger) Warn(msg string, fields ...Field)  { l.emit(l.zl.Warn(), msg, fields) }
func (l *zlogger) Error(msg string, fields ...Field) { l.emit(l.zl.Error(), msg, fields) }

func (l *zlogger) emit(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		return
	}
	if len(fields) > 0 {
		e = e.Fields(fieldList(fields))
	}
	e.Msg(msg)
}

func (l *zlogger) With(fields ...Field) Logger {
	return &zlogger{zl: l.zl.With().Fields(fieldList(fields)).Logger()}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...Field) {}
func (nopLogger) Info(string, ...Field)  {}
func (nopLogger) Warn(string, ...Field)  {}
func (nopLogger) Error(string, ...Field) {}
func (n nopLogger) With(...Field) Logger { return n }

// NewNopLogger discards everything; tests use it.
func NewNopLogger() Logger { return nopLogger{} }
