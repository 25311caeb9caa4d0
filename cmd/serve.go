package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HoangAnhDev1805/checkpool/internal/api"
	"github.com/HoangAnhDev1805/checkpool/internal/monitoring"
	"github.com/HoangAnhDev1805/checkpool/internal/security"
)

const shutdownTimeout = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the checker and operator HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		limiter, sweeper, err := initLimiter(env.Redis)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := buildServer(env, limiter, port)

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port), zap.String("store", cfg.Store.Driver))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})

		if sweeper != nil {
			interval := time.Duration(cfg.Security.RateLimit.SweepIntervalSecs) * time.Second
			g.Go(func() error { return security.RunSweeper(gctx, sweeper, interval) })
		}

		g.Go(func() error {
			return env.Lease.RunReclaimer(gctx, time.Duration(cfg.Lease.ReclaimIntervalSecs)*time.Second)
		})

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store, env.Usage, cfg.Monitoring.StrandedLeaseAgeMins),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}

		return g.Wait()
	},
}

// buildServer wires the HTTP API over env.
func buildServer(env *appEnv, limiter security.Limiter, port int) *http.Server {
	if len(cfg.Auth.Tokens) == 0 {
		zap.L().Warn("no worker tokens configured; every checker request will be rejected")
	}
	handler := api.NewServer(api.Deps{
		Lease:       env.Lease,
		Sessions:    env.Sessions,
		Items:       env.Store,
		Gateway:     security.NewGateway(env.Settings, limiter),
		Tokens:      cfg.Auth.Tokens,
		CORSOrigins: cfg.Server.CORSOrigins,
	}).Handler()

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
