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

	"github.com/zhouzirui/bot-lounge/backend/internal/config"
	"github.com/zhouzirui/bot-lounge/backend/internal/handler"
	"github.com/zhouzirui/bot-lounge/backend/internal/logging"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return &config.ConfigurationError{Key: "LOG_LEVEL", Reason: err.Error()}
			}
			defer func() { _ = logger.Sync() }()

			registry, err := openRegistry(cfg.Catalog.Path, cfg.Chat.DefaultPersona)
			if err != nil {
				return err
			}
			stopWatch, err := watchCatalog(ctx, cfg.Catalog.Path, registry, logger)
			if err != nil {
				return err
			}
			defer stopWatch()

			chatSvc, err := newChatService(ctx, cfg, registry, logger)
			if err != nil {
				return err
			}
			defer chatSvc.CloseAll()

			router := handler.NewRouter(chatSvc, logger)
			return startServer(ctx, cfg.Server, router, logger)
		},
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("bot lounge listening", zap.String("addr", addr))
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
