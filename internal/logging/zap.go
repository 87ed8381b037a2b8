package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// #region config
// Config selects the logger level and encoding.
type Config struct {
	Level   string   `yaml:"level"`   // debug | info | warn | error (default info)
	Format  string   `yaml:"format"`  // json | console (default json)
	Verbose bool     `yaml:"verbose"` // forces debug
	Outputs []string `yaml:"outputs"` // default stderr
}
// #endregion config

// #region new
// New builds a production zap logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	if cfg.Verbose {
		level = zapcore.DebugLevel
	}
	config.Level = zap.NewAtomicLevelAt(level)

	switch strings.ToLower(cfg.Format) {
	case "", "json":
	case "console":
		config.Encoding = "console"
		config.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
	config.EncoderConfig.TimeKey = "ts"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if len(cfg.Outputs) > 0 {
		config.OutputPaths = cfg.Outputs
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
// #endregion new
