package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cip-pipeline/internal/api"
	"cip-pipeline/internal/api/handler"
	"cip-pipeline/internal/config"
	"cip-pipeline/internal/metrics"
	"cip-pipeline/internal/store"
	"cip-pipeline/pkg/router"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCommand(global *globalParams) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline job API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := global.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return serve(cmd.Context(), global.confFilePath, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

func serve(ctx context.Context, confPath string, cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.InitDB(cfg.Store.Path); err != nil {
		return err
	}
	defer store.Close()

	m := metrics.New()
	h := handler.NewPipelineHandler(cfg, m, logger)

	if confPath != "" {
		go func() {
			err := config.Watch(ctx, confPath, logger, func(next *config.Config) {
				h.SetConfig(next)
			})
			if err != nil {
				logger.Error("config watch stopped", zap.Error(err))
			}
		}()
	}

	r := router.New(logger)
	api.RegisterRoutes(r, h, m)
	srv := r.Server(cfg.Server.Addr)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", zap.String("addr", cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	h.Wait()
	logger.Info("server stopped")
	return nil
}
