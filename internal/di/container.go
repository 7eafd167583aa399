package di

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail2cal/internal/config"
	"github.com/mikey/mail2cal/internal/core"
	"github.com/mikey/mail2cal/internal/factory"
	"github.com/mikey/mail2cal/internal/logging"
	"github.com/mikey/mail2cal/internal/metrics"
	"github.com/mikey/mail2cal/internal/utils"
	"github.com/mikey/mail2cal/internal/whitelist"
)

// Options are the daemon's command line settings
type Options struct {
	ConfigFile string
	RunOnce    bool
}

// BuildContainer creates and configures a dependency injection container
// for the daemon. ctx bounds startup work such as calendar discovery.
func BuildContainer(ctx context.Context, opts Options) (*dig.Container, error) {
	container := dig.New()

	if err := container.Provide(func() context.Context { return ctx }); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func() (*config.Config, error) {
		cfg, err := config.Load(opts.ConfigFile)
		if err != nil {
			return nil, &core.FatalConfigError{Reason: "failed to load configuration", Err: err}
		}
		if opts.RunOnce {
			cfg.GetViper().Set("poll.run_once", true)
		}
		if err := cfg.Validate(); err != nil {
			return nil, &core.FatalConfigError{Reason: "invalid configuration", Err: err}
		}
		return cfg, nil
	}); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register metrics
	if err := container.Provide(func() *prometheus.Registry {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		return reg
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(reg *prometheus.Registry) (*metrics.Recorder, error) {
		return metrics.NewRecorder(reg)
	}); err != nil {
		return nil, err
	}

	if err := provideComponents(container); err != nil {
		return nil, err
	}

	// Register calendar publisher
	if err := container.Provide(func(ctx context.Context, f *factory.CalendarFactory, logger *zap.Logger) *core.Publisher {
		return core.NewPublisher(f.CreateTargets(ctx), logger.Named("publisher"))
	}); err != nil {
		return nil, err
	}

	// Register sender allow-list
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) (*whitelist.Checker, error) {
		poll, err := cfg.GetPoll()
		if err != nil {
			return nil, err
		}
		if len(poll.AllowedSenderDomains) > 0 {
			logger.Info("Loaded allowed sender domains", zap.Strings("domains", poll.AllowedSenderDomains))
		}
		return whitelist.NewChecker(poll.AllowedSenderDomains, logger), nil
	}); err != nil {
		return nil, err
	}

	// Register processor options
	if err := container.Provide(processorOptions); err != nil {
		return nil, err
	}

	// Register inbox processor
	if err := container.Provide(func(
		mailbox core.Mailbox,
		text *utils.TextProcessor,
		extractor *core.EventExtractor,
		publisher *core.Publisher,
		cacheRepo core.CacheRepository,
		allowList *whitelist.Checker,
		recorder *metrics.Recorder,
		logger *zap.Logger,
		opts core.ProcessorOptions,
	) *core.InboxProcessor {
		opts.CacheEnabled = opts.CacheEnabled && cacheRepo != nil
		return core.NewInboxProcessor(
			mailbox,
			text,
			extractor,
			publisher,
			cacheRepo,
			allowList,
			core.SystemClock(),
			recorder,
			logger.Named("processor"),
			opts,
		)
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// provideComponents registers the factories and the components both
// binaries build from them
func provideComponents(container *dig.Container) error {
	// Register factories
	for _, constructor := range []interface{}{
		factory.NewOpenAIFactory,
		factory.NewGeminiFactory,
		factory.NewBedrockFactory,
		factory.NewLLMFactory,
		factory.NewCacheFactory,
		factory.NewTextProcessorFactory,
		factory.NewMailboxFactory,
		factory.NewCalendarFactory,
	} {
		if err := container.Provide(constructor); err != nil {
			return err
		}
	}

	// Register LLM client and extractor
	if err := container.Provide(func(f *factory.LLMFactory) (core.LLMClient, error) {
		return f.CreateLLMClient()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.LLMFactory, client core.LLMClient) *core.EventExtractor {
		return f.CreateExtractor(client)
	}); err != nil {
		return err
	}

	// Register text processor
	if err := container.Provide(func(f *factory.TextProcessorFactory) *utils.TextProcessor {
		return f.CreateTextProcessor()
	}); err != nil {
		return err
	}

	// Register cache repository
	if err := container.Provide(func(f *factory.CacheFactory) (core.CacheRepository, error) {
		return f.CreateCacheRepository()
	}); err != nil {
		return err
	}

	// Register mailbox
	if err := container.Provide(func(f *factory.MailboxFactory) (core.Mailbox, error) {
		return f.CreateMailbox()
	}); err != nil {
		return err
	}

	return nil
}

// processorOptions maps the poll, extraction and cache settings onto the
// processor's options
func processorOptions(cfg *config.Config) (core.ProcessorOptions, error) {
	poll, err := cfg.GetPoll()
	if err != nil {
		return core.ProcessorOptions{}, err
	}
	extraction := cfg.GetExtraction()
	loc, err := extraction.Location()
	if err != nil {
		return core.ProcessorOptions{}, fmt.Errorf("invalid extraction timezone: %w", err)
	}
	cacheCfg, err := cfg.GetCache()
	if err != nil {
		return core.ProcessorOptions{}, err
	}

	return core.ProcessorOptions{
		SubjectFilter:   poll.SubjectFilter,
		MaxBodyChars:    extraction.MaxBodyChars,
		Location:        loc,
		MarkProcessed:   poll.MarkProcessed,
		MarkUnparseable: poll.MarkUnparseable,
		RunOnce:         poll.RunOnce,
		CheckInterval:   poll.CheckInterval,
		RetryInterval:   poll.RetryInterval,
		CacheEnabled:    cacheCfg.Enabled,
		CacheTTL:        cacheCfg.TTL,
	}, nil
}
