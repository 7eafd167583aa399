package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikey/mail2cal/internal/config"
	"github.com/mikey/mail2cal/internal/core"
	"github.com/mikey/mail2cal/internal/di"
	"github.com/mikey/mail2cal/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	var opts di.Options

	rootCmd := &cobra.Command{
		Use:           "mail2cal",
		Short:         "Turn meeting-request emails into calendar events",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Build the dependency injection container
			container, err := di.BuildContainer(ctx, opts)
			if err != nil {
				return fmt.Errorf("failed to build dependency container: %w", err)
			}

			return container.Invoke(run)
		},
	}
	rootCmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "Path to config file")
	rootCmd.Flags().BoolVar(&opts.RunOnce, "run-once", false, "Process the inbox once and exit")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		err = dig.RootCause(err)
		if core.IsFatalConfigError(err) {
			fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		}
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
	processor *core.InboxProcessor,
	mailbox core.Mailbox,
	llmClient core.LLMClient,
	cacheRepo core.CacheRepository,
	reg *prometheus.Registry,
	recorder *metrics.Recorder,
) error {
	defer logger.Sync()
	defer closeResources(logger, mailbox, llmClient, cacheRepo)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	// The processor decides when the process is done
	g.Go(func() error {
		defer cancel()
		return processor.Run(gctx)
	})

	if addr := cfg.GetMetrics().ListenAddress; addr != "" {
		server := metrics.NewServer(addr, reg, recorder, logger.Named("metrics"))
		g.Go(func() error {
			return server.Run(gctx)
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Processor stopped", zap.String("error_kind", core.ErrorKind(err)), zap.Error(err))
		return err
	}

	logger.Info("Shutdown complete")
	return nil
}

// closeResources releases everything that holds a connection or a goroutine
func closeResources(logger *zap.Logger, mailbox core.Mailbox, llmClient core.LLMClient, cacheRepo core.CacheRepository) {
	if err := mailbox.Close(); err != nil {
		logger.Error("Failed to close mailbox", zap.Error(err))
	}

	if closer, ok := llmClient.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close LLM client", zap.Error(err))
		}
	}

	// Stop the cache if needed
	if stopper, ok := cacheRepo.(interface{ Stop() }); ok {
		stopper.Stop()
	}
}
