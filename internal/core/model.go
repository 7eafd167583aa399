package core

import (
	"strconv"
	"time"
)

// CandidateMessage represents an inbox item matching the subject filter
type CandidateMessage struct {
	UID        uint32
	MessageID  string
	Subject    string
	From       string
	ReceivedAt time.Time
}

// Key returns the identifier used for caching extraction results
func (m *CandidateMessage) Key() string {
	if m.MessageID != "" {
		return m.MessageID
	}
	return "uid:" + strconv.FormatUint(uint64(m.UID), 10)
}

// MessageBody holds the decoded body parts of a message
type MessageBody struct {
	Text string
	HTML string
}

// ExtractedEvent represents the calendar event derived from an email
type ExtractedEvent struct {
	Title       string
	Start       time.Time
	End         time.Time
	Location    string
	Description string
	Confidence  float64
	Valid       bool
}

// Duration returns the length of the event
func (e *ExtractedEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// BackendKind identifies a calendar backend implementation
type BackendKind string

const (
	BackendGoogle BackendKind = "google"
	BackendCalDAV BackendKind = "caldav"
)

// CalendarTarget is a configured destination for created events
type CalendarTarget struct {
	Name       string
	Kind       BackendKind
	Backend    CalendarBackend
	CalendarID string
	Enabled    bool
}

// PublishResult is the outcome of creating an event on one target
type PublishResult struct {
	Target  string
	Kind    BackendKind
	EventID string
	Err     error
}

// OK reports whether the event was created
func (r PublishResult) OK() bool {
	return r.Err == nil
}

// CacheEntry is a cached extraction result for a message
type CacheEntry struct {
	Key       string
	Event     ExtractedEvent
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its expiry at the given time
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// SearchCriteria selects candidate messages in a mailbox. Messages that
// carry the processed marker are never returned.
type SearchCriteria struct {
	Subject string
}
