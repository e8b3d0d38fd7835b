package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the host's zap logger. Components derive children from it with
// Named and ForApp.
type Logger struct {
	*zap.Logger
}

// Config selects level, encoding and sinks
type Config struct {
	Level       string // debug, info, warn, error
	Development bool
	OutputPaths []string
}

// New builds a logger from cfg. Unknown levels are rejected.
func New(cfg Config) (*Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, err
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stdout"}
	}

	encoding, encoder := "json", jsonEncoder()
	if cfg.Development {
		encoding, encoder = "console", consoleEncoder()
	}

	zl, err := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		Encoding:          encoding,
		EncoderConfig:     encoder,
		OutputPaths:       cfg.OutputPaths,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !cfg.Development,
	}.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: zl}, nil
}

// NewProduction logs JSON lines to stdout
func NewProduction(level string) (*Logger, error) {
	return New(Config{Level: level})
}

// NewDevelopment logs colored console lines with stack traces on warnings
func NewDevelopment(level string) (*Logger, error) {
	return New(Config{Level: level, Development: true})
}

// NewNop discards everything
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// ForApp tags every entry with the application name
func (l *Logger) ForApp(name string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("app", name))}
}

// Named returns a child logger for a component
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger.Named(component)}
}

func consoleEncoder() zapcore.EncoderConfig {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder
	return enc
}

func jsonEncoder() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	return enc
}
