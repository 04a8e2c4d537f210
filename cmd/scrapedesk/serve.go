package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/scrapedesk/server"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var listenAddr string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the extraction service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddr = listenAddr
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			logger := ctx.log()
			if !cfg.Verbose {
				gin.SetMode(gin.ReleaseMode)
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(cfg, logger)
			defer srv.Close()

			servers := []*http.Server{{Addr: cfg.ListenAddr, Handler: srv.Handler()}}
			if cfg.MetricsAddr != "" {
				servers = append(servers, &http.Server{Addr: cfg.MetricsAddr, Handler: srv.MetricsHandler()})
				logger.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
			}

			logger.Info("starting extraction service",
				slog.String("addr", cfg.ListenAddr),
				slog.Int("max_pages", cfg.MaxPages),
				slog.Int("parallelism", cfg.Parallelism),
			)
			return serve(runCtx, logger, srv, servers)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "API listen address (default from config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	return cmd
}

// serve runs every server until ctx ends or one of them fails, then shuts
// them all down.
func serve(ctx context.Context, logger *slog.Logger, srv *server.Server, servers []*http.Server) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, hs := range servers {
		hs := hs // per-iteration copy; go directive is pinned below 1.22
		g.Go(func() error {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, closing servers")
		// Progress streams never end on their own.
		srv.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var firstErr error
		for _, hs := range servers {
			if err := hs.Shutdown(shutdownCtx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
	return g.Wait()
}
