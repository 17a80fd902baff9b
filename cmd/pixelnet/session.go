package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/luciancaetano/pixelnet"
	"github.com/luciancaetano/pixelnet/internal/config"
	"github.com/luciancaetano/pixelnet/internal/logging"
	"github.com/luciancaetano/pixelnet/internal/metrics"
	"github.com/luciancaetano/pixelnet/internal/token"
	"github.com/luciancaetano/pixelnet/ws"
)

// session holds what every networked command shares: logger, metrics and
// the token fetcher, all built from one validated config.
type session struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Collector
	fetcher  *token.Fetcher
}

func newSession(cfg *config.Config) (*session, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &session{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics: metrics.New(
			metrics.WithNamespace(cfg.Metrics.Namespace),
			metrics.WithRegistry(registry),
		),
		fetcher: token.NewFetcher(cfg.APIBase,
			token.WithRateLimit(cfg.TokenRate, 1),
			token.WithLogger(logger.Named("tokens")),
		),
	}, nil
}

// engine builds an engine for mode. Tokens are fetched on Start unless the
// engine only reads.
func (s *session) engine(mode pixelnet.Mode, observer pixelnet.Observer) (pixelnet.Engine, error) {
	opts := s.cfg.EngineOptions()
	opts.Mode = mode
	opts.Logger = s.logger.Named("engine")
	opts.Metrics = s.metrics
	if mode != pixelnet.ModeReadOnly {
		opts.TokenSource = s.fetcher
	}
	opts.Observer = observer

	dialer := ws.NewDialer(s.cfg.WSURL, mode)
	dialer.Logger = s.logger.Named("transport")
	return ws.New(dialer, nil, opts)
}

// serveMetrics starts the metrics endpoint when an address is configured.
// The returned function shuts it down.
func (s *session) serveMetrics(state func() pixelnet.ConnState) func(context.Context) {
	addr := s.cfg.Metrics.Addr
	if addr == "" {
		return func(context.Context) {}
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsRouter(s.registry, state),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.logger.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	return func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Warn("metrics shutdown", zap.Error(err))
		}
	}
}

func (s *session) close() {
	_ = s.logger.Sync()
}
