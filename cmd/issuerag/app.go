package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fyrsmithlabs/issuerag/internal/config"
	"github.com/fyrsmithlabs/issuerag/internal/logging"
	"github.com/fyrsmithlabs/issuerag/internal/services"
	"go.uber.org/zap"
)

// load reads the config file and environment, applying --log-level.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.LoadWithFile(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}

// newLogger builds the application logger. One-shot commands log to
// stderr so stdout carries only their result.
func newLogger(cfg *config.Config, toStderr bool) (*logging.Logger, error) {
	lc, err := logging.ConfigFromApp(cfg.Logging)
	if err != nil {
		return nil, err
	}
	if toStderr {
		lc.Output = logging.OutputConfig{Stderr: true}
	}
	return logging.NewLogger(lc, nil)
}

// app is what a one-shot command runs against.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	reg    services.Registry
}

func (o *rootOptions) open(ctx context.Context) (*app, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := newLogger(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	reg, err := services.Build(ctx, cfg, logger.Underlying())
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, reg: reg}, nil
}

func (a *app) Close() {
	if err := a.reg.Close(); err != nil {
		a.logger.Underlying().Warn("closing services", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
