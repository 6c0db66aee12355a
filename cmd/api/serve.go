package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/config"
	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/router"
	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/telemetry"
	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/user"
)

const shutdownGrace = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			lg, err := newLogger()
			if err != nil {
				return err
			}
			defer lg.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, lg.Sugar())
		},
	}
}

func serve(ctx context.Context, cfg config.Config, sugar *zap.SugaredLogger) error {
	sugar.Infow("starting sherpa-broker", "version", cfg.VersionTag, "cache", cfg.CacheBackend, "provider", cfg.OAuthDomain)

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.OTelService, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		doneCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := shutdownTelemetry(doneCtx); err != nil {
			sugar.Warnf("telemetry shutdown failed: %v", err)
		}
	}()

	c, err := wire(ctx, cfg, sugar)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.close(); err != nil {
			sugar.Warnf("close cache store: %v", err)
		}
	}()

	sink := metrics.NewOTel(nil, sugar)
	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: router.RegisterRoutes(router.Options{
			Logger:  sugar,
			Version: cfg.VersionTag,
			Metrics: sink,
			User:    user.NewHandler(c.sessions, c.broker, sink, sugar),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return run(ctx, srv, sugar)
}

// run serves srv until ctx is done, then shuts it down gracefully.
func run(ctx context.Context, srv *http.Server, sugar *zap.SugaredLogger) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sugar.Infow("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sugar.Info("shutting down")
		doneCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(doneCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	sugar.Info("goodbye")
	return nil
}
