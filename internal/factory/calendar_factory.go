package factory

import (
	"context"
	"fmt"

	"github.com/mikey/mail2cal/internal/adapters/breaker"
	"github.com/mikey/mail2cal/internal/adapters/caldav"
	"github.com/mikey/mail2cal/internal/adapters/google"
	"github.com/mikey/mail2cal/internal/config"
	"github.com/mikey/mail2cal/internal/core"
	"github.com/mikey/mail2cal/internal/metrics"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// CalendarFactory builds the calendar targets events are published to
type CalendarFactory struct {
	cfg      *config.Config
	logger   *zap.Logger
	recorder *metrics.Recorder
}

// NewCalendarFactory creates a new calendar factory. The recorder may be
// nil, in which case breaker transitions are only logged.
func NewCalendarFactory(cfg *config.Config, logger *zap.Logger, recorder *metrics.Recorder) *CalendarFactory {
	return &CalendarFactory{
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
	}
}

// CreateTargets builds every enabled target whose calendar can be
// resolved. Targets that fail to connect are logged and left out; the
// caller decides whether an empty result is fatal.
func (f *CalendarFactory) CreateTargets(ctx context.Context) []core.CalendarTarget {
	var targets []core.CalendarTarget

	if googleCfg := f.cfg.GetGoogle(); googleCfg.Enabled {
		target, err := f.createGoogleTarget(ctx, googleCfg)
		if err != nil {
			f.logger.Error("Google Calendar unavailable, continuing without it",
				zap.String("error_kind", core.ErrorKind(err)),
				zap.Error(err))
		} else {
			targets = append(targets, target)
		}
	} else {
		f.logger.Info("Google Calendar integration disabled")
	}

	if caldavCfg := f.cfg.GetCalDAV(); caldavCfg.Enabled {
		target, err := f.createCalDAVTarget(ctx, caldavCfg)
		if err != nil {
			f.logger.Error("CalDAV unavailable, continuing without it",
				zap.String("url", caldavCfg.URL),
				zap.String("error_kind", core.ErrorKind(err)),
				zap.Error(err))
		} else {
			targets = append(targets, target)
		}
	} else {
		f.logger.Info("CalDAV integration disabled")
	}

	return targets
}

func (f *CalendarFactory) createGoogleTarget(ctx context.Context, googleCfg config.GoogleConfig) (core.CalendarTarget, error) {
	oauthConfig, err := google.LoadOAuthConfig(googleCfg.CredentialsFile)
	if err != nil {
		return core.CalendarTarget{}, err
	}

	store := google.NewTokenStore(googleCfg.TokenFile)
	tok, err := store.Load()
	if err != nil {
		return core.CalendarTarget{}, &core.AuthError{
			Backend: "google",
			Err:     fmt.Errorf("no usable token, run mail2cal-cli google-auth: %w", err),
		}
	}

	// The token source outlives startup, so it must not inherit ctx
	tokenSource := google.NewPersistingTokenSource(
		oauthConfig.TokenSource(context.Background(), tok),
		store,
		tok,
		f.logger.Named("google"),
	)
	httpClient := oauth2.NewClient(context.Background(), tokenSource)
	httpClient.Timeout = googleCfg.Timeout

	svc, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return core.CalendarTarget{}, fmt.Errorf("failed to create Google Calendar service: %w", err)
	}

	extraction := f.cfg.GetExtraction()
	backend := google.NewBackend(svc, extraction.Timezone, f.logger.Named("google"))

	calendarID, err := backend.ResolveCalendarID(ctx, googleCfg.CalendarName)
	if err != nil {
		return core.CalendarTarget{}, err
	}

	return core.CalendarTarget{
		Name:       "google",
		Kind:       core.BackendGoogle,
		Backend:    f.guard("google", backend),
		CalendarID: calendarID,
		Enabled:    true,
	}, nil
}

func (f *CalendarFactory) createCalDAVTarget(ctx context.Context, caldavCfg config.CalDAVConfig) (core.CalendarTarget, error) {
	client, err := caldav.NewClient(caldavCfg.URL, caldavCfg.Username, caldavCfg.Password, caldavCfg.Timeout)
	if err != nil {
		return core.CalendarTarget{}, err
	}

	backend := caldav.NewBackend(client, caldav.RetryPolicy{
		Attempts: caldavCfg.RetryAttempts,
		Delay:    caldavCfg.RetryDelay,
	}, f.logger.Named("caldav"))

	calendarPath, err := backend.ResolveCalendar(ctx, caldavCfg.CalendarName)
	if err != nil {
		return core.CalendarTarget{}, err
	}

	return core.CalendarTarget{
		Name:       "caldav",
		Kind:       core.BackendCalDAV,
		Backend:    f.guard("caldav", backend),
		CalendarID: calendarPath,
		Enabled:    true,
	}, nil
}

// guard wraps a backend with a circuit breaker when enabled
func (f *CalendarFactory) guard(name string, backend core.CalendarBackend) core.CalendarBackend {
	breakerCfg := f.cfg.GetBreaker()
	if !breakerCfg.Enabled {
		return backend
	}

	return breaker.NewCalendarBackend(
		"calendar_"+name,
		backend,
		breakerCfg.MaxFailures,
		breakerCfg.OpenTimeout,
		f.onBreakerStateChange,
	)
}

func (f *CalendarFactory) onBreakerStateChange(name string, from, to gobreaker.State) {
	f.logger.Warn("Calendar circuit breaker state changed",
		zap.String("name", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	if f.recorder != nil {
		f.recorder.BreakerStateChanged(name, from, to)
	}
}
