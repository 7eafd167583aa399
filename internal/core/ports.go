package core

import (
	"context"
	"time"
)

// LLMClient defines the interface for interacting with LLM services
type LLMClient interface {
	// Complete sends a prompt to the model and returns its raw text answer
	Complete(ctx context.Context, prompt string) (string, error)

	// ModelName returns the identifier of the model in use
	ModelName() string
}

// Throttler is implemented by LLM clients that pace their requests. The
// extractor waits on it before the per-call timeout starts, so time spent
// queued for a slot does not count against the provider call.
type Throttler interface {
	Wait(ctx context.Context) error
}

// Mailbox defines the capabilities the orchestrator needs from an inbox
type Mailbox interface {
	// Check verifies that the mailbox can be reached and authenticated
	Check(ctx context.Context) error

	// Search returns candidate messages in mailbox order
	Search(ctx context.Context, criteria SearchCriteria) ([]CandidateMessage, error)

	// FetchBody returns the decoded body of a message without marking it
	FetchBody(ctx context.Context, uid uint32) (*MessageBody, error)

	// MarkProcessed flags a message so later searches skip it
	MarkProcessed(ctx context.Context, uid uint32) error

	// Close releases the mailbox session
	Close() error
}

// CalendarBackend creates events on one calendar service
type CalendarBackend interface {
	// CreateEvent creates the event and returns the backend's event ID
	CreateEvent(ctx context.Context, calendarID string, event *ExtractedEvent) (string, error)
}

// CacheRepository defines the interface for caching extraction results
type CacheRepository interface {
	// Get retrieves a cached entry for a message key
	Get(ctx context.Context, key string) (*CacheEntry, error)

	// Set stores a cache entry
	Set(ctx context.Context, entry *CacheEntry) error

	// Delete removes a cache entry
	Delete(ctx context.Context, key string) error

	// Cleanup removes expired entries
	Cleanup(ctx context.Context) error
}

// Clock abstracts time so the poll loop can be driven by tests
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

// SystemClock returns a Clock backed by the real time
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
