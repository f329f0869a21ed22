package main

import (
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is read from ONNXLAYERS_* environment variables.
type Config struct {
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"console"`
	MaxParallel int    `envconfig:"MAX_PARALLEL" default:"4"`
	Output      string `envconfig:"OUTPUT" default:"text"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("onnxlayers", &cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to read environment")
	}
	if cfg.MaxParallel < 1 {
		return cfg, errors.Errorf("ONNXLAYERS_MAX_PARALLEL must be positive, got %d", cfg.MaxParallel)
	}
	if err := checkFormat(cfg.Output); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newLogger(cfg Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", cfg.LogLevel)
	}

	var zc zap.Config
	switch cfg.LogFormat {
	case "json":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, errors.Errorf("invalid log format %q, want console or json", cfg.LogFormat)
	}
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
