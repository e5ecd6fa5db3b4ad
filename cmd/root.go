package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagemark/internal/clock/system"
	"github.com/JakeFAU/pagemark/internal/config"
	"github.com/JakeFAU/pagemark/internal/logging"
	"github.com/JakeFAU/pagemark/internal/storage/local"
	"github.com/JakeFAU/pagemark/internal/telemetry"
)

// runtimeKeyType is the key for storing the runtime in the command context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime holds the services shared by every subcommand.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	store  *local.Store
	tracer *sdktrace.TracerProvider
}

func (r *runtime) close() {
	if err := r.tracer.Shutdown(context.Background()); err != nil {
		r.logger.Warn("tracer shutdown failed", zap.Error(err))
	}
	// Sync on stderr/stdout commonly reports EINVAL; nothing useful to do with it.
	_ = r.logger.Sync()
}

// newRuntime loads configuration and builds the shared services. It is a
// variable so tests can substitute their own.
var newRuntime = func(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	store, err := local.New(local.Config{BaseDir: cfg.Storage.OutputDir}, system.New(), logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: "pagemark",
		Enabled:     cfg.Tracing.Enabled,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, logger.Named("trace"))
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	return &runtime{cfg: cfg, logger: logger, store: store, tracer: tp}, nil
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "pagemark",
		Short: "Crawl web pages and save them as Markdown.",
		Long: `pagemark fetches web pages with a headless browser (falling back to
plain HTTP polling), optionally expands each seed through its sitemap, and
writes one Markdown document per page into a flat output directory.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context(), cfgFile)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, rt))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey).(*runtime); ok && rt != nil {
				rt.close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newCleanupCmd())
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
