package di

import (
	"context"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail2cal/internal/config"
	"github.com/mikey/mail2cal/internal/logging"
	"github.com/mikey/mail2cal/internal/metrics"
)

// CLIFlags contains the persistent flags of the CLI application
type CLIFlags struct {
	ConfigFile string
	Verbose    bool
	JSONLog    bool

	// Overrides applied on top of the loaded configuration
	Provider string
	Timezone string
}

// BuildCLIContainer creates and configures a dependency injection container
// for the CLI application. Components are only built when a command asks
// for them.
func BuildCLIContainer(ctx context.Context, flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	// Register flags
	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}
	if err := container.Provide(func() context.Context { return ctx }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
		cfg, err := config.Load(flags.ConfigFile)
		if err != nil {
			return nil, err
		}
		if used := cfg.GetViper().ConfigFileUsed(); used != "" {
			logger.Info("Loaded configuration from file", zap.String("file", used))
		}
		applyOverrides(cfg, flags)
		return cfg, nil
	}); err != nil {
		return nil, err
	}

	// No metrics endpoint for one-shot commands
	if err := container.Provide(func() *metrics.Recorder { return nil }); err != nil {
		return nil, err
	}

	if err := provideComponents(container); err != nil {
		return nil, err
	}

	return container, nil
}

// applyOverrides sets the values given on the command line
func applyOverrides(cfg *config.Config, flags *CLIFlags) {
	v := cfg.GetViper()
	if flags.Provider != "" {
		v.Set("llm.provider", flags.Provider)
	}
	if flags.Timezone != "" {
		v.Set("extraction.timezone", flags.Timezone)
	}
}
