package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikey/mail2cal/internal/core"
	"github.com/sony/gobreaker"
)

// StateChangeFunc is notified when a breaker changes state
type StateChangeFunc func(name string, from, to gobreaker.State)

// CalendarBackend guards another backend with a circuit breaker so a
// calendar that keeps failing is skipped until the open timeout passes
type CalendarBackend struct {
	next core.CalendarBackend
	cb   *gobreaker.CircuitBreaker
}

// NewCalendarBackend wraps next. The breaker opens after maxFailures
// consecutive transport or auth failures.
func NewCalendarBackend(
	name string,
	next core.CalendarBackend,
	maxFailures uint32,
	openTimeout time.Duration,
	onStateChange StateChangeFunc,
) *CalendarBackend {
	if maxFailures == 0 {
		maxFailures = 5
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// A rejected event says nothing about the backend's health
		IsSuccessful: func(err error) bool {
			return err == nil || core.IsValidationError(err)
		},
	}
	if onStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			onStateChange(name, from, to)
		}
	}

	return &CalendarBackend{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

// CreateEvent delegates unless the breaker is open
func (b *CalendarBackend) CreateEvent(ctx context.Context, calendarID string, event *core.ExtractedEvent) (string, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.CreateEvent(ctx, calendarID, event)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", &core.TransportError{
			Op:  "calendar.breaker",
			Err: fmt.Errorf("circuit breaker is open for %s: %w", b.cb.Name(), err),
		}
	}
	if err != nil {
		return "", err
	}

	eventID, _ := result.(string)
	return eventID, nil
}

// State returns the breaker state
func (b *CalendarBackend) State() gobreaker.State {
	return b.cb.State()
}
