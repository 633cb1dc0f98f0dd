package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/hfslurp/internal/config"
	"github.com/ligustah/hfslurp/internal/logging"
	"github.com/ligustah/hfslurp/internal/metrics"
	"github.com/ligustah/hfslurp/internal/progress"
	"github.com/ligustah/hfslurp/internal/state"
)

// loadConfig resolves defaults, the config file, .env, the environment and
// finally the command line flags carried by override.
func (g *Globals) loadConfig(override config.Config) (config.Config, error) {
	cfg, err := config.Load(g.cli.Config)
	if err != nil {
		return config.Config{}, withCode(ExitInvalidArgs, err)
	}
	override.MetricsAddr = g.cli.MetricsAddr
	override.Log = config.LogConfig{Level: g.cli.LogLevel, Format: g.cli.LogFormat}
	cfg = cfg.Merge(override)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, withCode(ExitInvalidArgs, err)
	}
	return cfg, nil
}

func (g *Globals) newLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.NewWithWriter(g.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, withCode(ExitInvalidArgs, err)
	}
	return logger, nil
}

// openStateBucket opens the bucket holding state records: the state_url
// bucket when configured, the save directory otherwise.
func openStateBucket(ctx context.Context, cfg config.Config) (*blob.Bucket, error) {
	if cfg.StateURL == "" {
		b, err := state.OpenDir(cfg.SaveDir)
		if err != nil {
			return nil, withCode(ExitStorageError, err)
		}
		return b, nil
	}
	b, err := blob.OpenBucket(ctx, cfg.StateURL)
	if err != nil {
		return nil, withCode(ExitStorageError, fmt.Errorf("open state bucket: %w", err))
	}
	return b, nil
}

// startMetrics serves Prometheus metrics on cfg.MetricsAddr. Without an
// address it returns a no-op recorder.
func startMetrics(cfg config.Config, logger *zap.Logger) (metrics.Recorder, func(), error) {
	if cfg.MetricsAddr == "" {
		return metrics.NoopRecorder{}, func() {}, nil
	}

	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(reg)

	ln, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		return nil, nil, withCode(ExitInvalidArgs, fmt.Errorf("listen on %s: %w", cfg.MetricsAddr, err))
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return recorder, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}

func newReporter(cfg config.Config, g *Globals) progress.Reporter {
	switch cfg.Progress {
	case config.ProgressBar:
		return progress.NewBar(g.Stderr)
	case config.ProgressText:
		return progress.NewText(progress.Options{
			Repo:           cfg.Repo,
			Workers:        cfg.Workers,
			Output:         g.Stderr,
			UpdateInterval: 5 * time.Second,
		})
	default:
		return progress.Noop{}
	}
}
