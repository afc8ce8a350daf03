package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/mailmerge/config"
	"github.com/hazyhaar/mailmerge/convert"
	"github.com/hazyhaar/mailmerge/dbopen"
	"github.com/hazyhaar/mailmerge/observability"
	"github.com/hazyhaar/mailmerge/pipeline"
)

// app is what every subcommand shares: configuration and logger.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

// newApp loads the configuration, applies environment and flag overrides
// and installs a JSON logger on logOut.
func newApp(cmd *cobra.Command, logOut io.Writer) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.Listen = env("MAILMERGE_LISTEN", cfg.Listen)
	cfg.LogLevel = env("LOG_LEVEL", cfg.LogLevel)
	cfg.AuditDB = env("MAILMERGE_AUDIT_DB", cfg.AuditDB)
	cfg.Converter.Backend = env("MAILMERGE_CONVERTER", cfg.Converter.Backend)
	cfg.MCPRoot = env("MAILMERGE_MCP_ROOT", cfg.MCPRoot)
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch mode, _ := cmd.Flags().GetString("color"); mode {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	}

	lvl, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) converter() (*convert.Serial, error) {
	return convert.New(a.cfg.Convert(a.logger))
}

// history is the optional batch history store.
type history struct {
	db       io.Closer
	recorder *observability.Recorder
	metrics  *observability.MetricsManager
}

// openHistory opens the audit database, or returns nil when audit_db is
// empty.
func (a *app) openHistory() (*history, error) {
	if a.cfg.AuditDB == "" {
		return nil, nil
	}
	db, err := dbopen.Open(a.cfg.AuditDB, dbopen.WithSchema(observability.Schema))
	if err != nil {
		return nil, fmt.Errorf("audit db: %w", err)
	}
	mm := observability.NewMetricsManager(db, 100, 5*time.Second, a.logger)
	rec := observability.NewRecorder(db, observability.RecorderConfig{Metrics: mm, Logger: a.logger})
	return &history{db: db, recorder: rec, metrics: mm}, nil
}

// Close flushes pending writes, then closes the database.
func (h *history) Close() error {
	if h == nil {
		return nil
	}
	h.recorder.Close()
	h.metrics.Close()
	return h.db.Close()
}

// cleanup deletes history older than retention every interval until ctx
// is done.
func (h *history) cleanup(ctx context.Context, logger *slog.Logger, retention, interval time.Duration) {
	if h == nil || retention <= 0 {
		return
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		cutoff := time.Now().Add(-retention)
		runs, err := h.recorder.Cleanup(ctx, cutoff)
		if err != nil {
			logger.Warn("history cleanup", "error", err)
		}
		points, err := h.metrics.Cleanup(ctx, cutoff)
		if err != nil {
			logger.Warn("metrics cleanup", "error", err)
		}
		if runs+points > 0 {
			logger.Info("history cleanup", "runs", runs, "metrics", points)
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func (a *app) orchestrator(conv convert.Converter, h *history) *pipeline.Orchestrator {
	var opts []pipeline.Option
	if h != nil {
		opts = append(opts, pipeline.WithObserver(h.recorder))
	}
	return pipeline.New(conv, a.cfg.Pipeline(a.logger), opts...)
}

func readInputs(templatePath, dataPath string) (pipeline.Input, error) {
	tpl, err := os.ReadFile(templatePath)
	if err != nil {
		return pipeline.Input{}, err
	}
	data, err := os.ReadFile(dataPath)
	if err != nil {
		return pipeline.Input{}, err
	}
	return pipeline.Input{Template: tpl, Data: data}, nil
}
