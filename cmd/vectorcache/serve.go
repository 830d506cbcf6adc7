package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"simmgate-vectorcache/internal/app"
	"simmgate-vectorcache/internal/handlers"
	"simmgate-vectorcache/internal/httpserver"
	"simmgate-vectorcache/internal/metrics"
)

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the cache and vector HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			metrics.Register()

			logger.Info("loaded config",
				zap.String("port", cfg.Server.Port),
				zap.String("storage_driver", cfg.Storage.Driver),
				zap.Bool("exact_cache", cfg.Cache.Exact.Enabled),
				zap.Bool("semantic_cache", cfg.Cache.Semantic.Enabled),
				zap.Bool("vectors", cfg.Vectors.Enabled),
				zap.Bool("history", cfg.History.Enabled),
				zap.Bool("redis", cfg.Redis.Enabled),
			)

			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("startup failed", zap.Error(err))
				return err
			}
			defer a.Close()

			routes := httpserver.Handlers{Cache: handlers.NewCacheHandler(a.Caches)}
			if a.Vectors != nil {
				routes.Vectors = handlers.NewVectorHandler(a.Vectors)
			}
			if a.History != nil {
				routes.History = handlers.NewHistoryHandler(a.History)
			}

			r := chi.NewRouter()
			httpserver.SetupRouter(r, logger, httpserver.Options{
				RequestTimeout: cfg.Server.RequestTimeout,
				MaxBodyBytes:   cfg.Server.MaxBodyBytes,
			}, routes)

			srv := &http.Server{
				Addr:              ":" + cfg.Server.Port,
				Handler:           r,
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
				IdleTimeout:       60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("starting server", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			select {
			case <-stop:
				logger.Info("shutdown signal received")
			case err := <-errCh:
				logger.Error("server error", zap.Error(err))
				return err
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", zap.Error(err))
				return err
			}

			logger.Info("server shutdown complete")
			return nil
		},
	}
}
