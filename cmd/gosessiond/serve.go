package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/csrf"
	"github.com/MrEthical07/goSession/httpapi"
	"github.com/MrEthical07/goSession/internal/config"
	"github.com/MrEthical07/goSession/internal/obs"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/mailqueue"
	otelexport "github.com/MrEthical07/goSession/metrics/export/otel"
	promexport "github.com/MrEthical07/goSession/metrics/export/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the email worker",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := obs.NewLogger(obs.LogConfig{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		App:    cfg.App.Name,
		Env:    cfg.App.Env,
		Ver:    cfg.App.Version,
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return err
	}
	return a.run(ctx)
}

// app owns every long-lived component of a running server.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	rdb    redis.UniversalClient
	engine *goSession.Engine
	worker *mailqueue.Worker
	server *http.Server
	otel   *otelexport.OTelExporter

	closeStore func()
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log, closeStore: func() {}}
	defer func() {
		if err != nil {
			a.release()
		}
	}()

	a.rdb = newRedis(cfg.Redis)
	if err = waitFor(ctx, "redis", func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() }); err != nil {
		return nil, err
	}

	users, closeStore, err := newUserStore(ctx, cfg, a.rdb)
	if err != nil {
		return nil, err
	}
	a.closeStore = closeStore

	queue, err := mailqueue.New(a.rdb, queueConfig(cfg.Queue))
	if err != nil {
		return nil, err
	}

	b := goSession.New().
		WithConfig(engineConfig(cfg)).
		WithRedis(a.rdb).
		WithUserStore(users).
		WithQueue(queue).
		WithLogger(log)
	if cfg.Audit.Enabled {
		b = b.WithAuditSink(goSession.NewZapSink(log))
	}
	if a.engine, err = b.Build(); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		promexport.NewCollector(a.engine),
	)

	if a.otel, err = otelexport.NewOTelExporter(otel.GetMeterProvider().Meter("gosession"), a.engine); err != nil {
		return nil, err
	}

	limiter := rate.New(a.rdb)
	if cfg.Worker.Enabled {
		sender, err := newSender(cfg.SMTP, log)
		if err != nil {
			return nil, err
		}
		a.worker, err = mailqueue.NewWorker(queue, sender, limiter, workerConfig(cfg), log, reg)
		if err != nil {
			return nil, err
		}
	}

	sameSite, err := cfg.Cookie.SameSiteMode()
	if err != nil {
		return nil, err
	}
	guardCfg := csrf.DefaultConfig()
	guardCfg.Secure = cfg.Cookie.Secure
	guardCfg.Domain = cfg.Cookie.Domain
	guardCfg.SameSite = sameSite

	apiCfg := httpapi.DefaultConfig()
	apiCfg.APIPrefix = cfg.HTTP.APIPrefix
	apiCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	apiCfg.TrustProxy = cfg.HTTP.TrustProxy
	apiCfg.RateLimitMax = cfg.HTTP.RateLimitMax
	apiCfg.RateLimitWindow = cfg.HTTP.RateLimitWindow
	apiCfg.RefreshCookie.Secure = cfg.Cookie.Secure
	apiCfg.RefreshCookie.Domain = cfg.Cookie.Domain
	apiCfg.RefreshCookie.SameSite = sameSite

	srv, err := httpapi.New(a.engine, csrf.New(guardCfg), limiter, apiCfg, log, reg)
	if err != nil {
		return nil, err
	}
	a.server = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}
	return a, nil
}

// run serves until ctx ends or the listener fails, then shuts down.
func (a *app) run(ctx context.Context) error {
	if a.worker != nil {
		if err := a.worker.Start(context.WithoutCancel(ctx)); err != nil {
			a.release()
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http listening", zap.String("addr", a.server.Addr))
		errCh <- a.server.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal")
	case runErr = <-errCh:
		if errors.Is(runErr, http.ErrServerClosed) {
			runErr = nil
		}
		if runErr != nil {
			a.log.Error("http serve", zap.Error(runErr))
		}
	}

	if err := a.shutdown(a.cfg.HTTP.ShutdownTimeout); err != nil && runErr == nil {
		runErr = err
	}
	a.log.Info("bye")
	return runErr
}

// shutdown stops intake first, then drains the worker, then releases
// storage. It gives up after timeout.
func (a *app) shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var errs []error
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("http shutdown: %w", err))
			}
		}
		if a.worker != nil {
			if err := a.worker.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("worker stop: %w", err))
			}
		}
		a.release()
		done <- errors.Join(errs...)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		a.log.Error("forced exit after shutdown timeout", zap.Duration("timeout", timeout))
		return ctx.Err()
	}
}

func (a *app) release() {
	if a.otel != nil {
		_ = a.otel.Close()
	}
	if a.engine != nil {
		a.engine.Close()
	}
	a.closeStore()
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}
