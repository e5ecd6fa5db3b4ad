package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagemark/internal/api"
	"github.com/JakeFAU/pagemark/internal/app"
	"github.com/JakeFAU/pagemark/internal/id/uuid"
	"github.com/JakeFAU/pagemark/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the retention worker",
		Args:  cobra.NoArgs,
		RunE:  runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()
	logger := rt.logger

	svc := app.New(app.ConfigFrom(rt.cfg), rt.store, uuid.New(), logger.Named("app"))
	apiServer := api.NewServer(svc, rt.store, api.Options{
		RequestTimeout: rt.cfg.Server.RequestTimeout,
		ExpandDefault:  rt.cfg.Crawler.ExpandDefault,
	}, logger.Named("api"))

	janitor := worker.New(rt.store, worker.Config{
		Interval: rt.cfg.Storage.CleanupInterval,
		MaxAge:   rt.cfg.Storage.Retention,
	}, logger.Named("retention"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", rt.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("retention worker started", zap.String("dir", rt.store.Dir()))
		janitor.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", rt.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
