package caldav

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
	"github.com/mikey/mail2cal/internal/core"
	"go.uber.org/zap"
)

const productID = "-//mail2cal//mail2cal//EN"

// CalendarAPI is the subset of the CalDAV client in use
type CalendarAPI interface {
	FindCurrentUserPrincipal(ctx context.Context) (string, error)
	FindCalendarHomeSet(ctx context.Context, principal string) (string, error)
	FindCalendars(ctx context.Context, calendarHomeSet string) ([]caldav.Calendar, error)
	PutCalendarObject(ctx context.Context, path string, cal *ical.Calendar) (*caldav.CalendarObject, error)
}

// RetryPolicy bounds the attempts made while locating the calendar
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// Backend implements core.CalendarBackend for a CalDAV server
type Backend struct {
	client CalendarAPI
	retry  RetryPolicy
	logger *zap.Logger
	now    func() time.Time
	newUID func() string
}

// NewClient creates a CalDAV client with optional basic auth
func NewClient(endpoint, username, password string, timeout time.Duration) (*caldav.Client, error) {
	var httpClient webdav.HTTPClient = &http.Client{Timeout: timeout}
	if username != "" {
		httpClient = webdav.HTTPClientWithBasicAuth(httpClient, username, password)
	}

	client, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create CalDAV client: %w", err)
	}
	return client, nil
}

// NewBackend creates a new CalDAV backend
func NewBackend(client CalendarAPI, retry RetryPolicy, logger *zap.Logger) *Backend {
	if retry.Attempts <= 0 {
		retry.Attempts = 1
	}
	return &Backend{
		client: client,
		retry:  retry,
		logger: logger,
		now:    time.Now,
		newUID: uuid.NewString,
	}
}

// ResolveCalendar returns the path of the calendar whose display name
// matches name. Discovery is retried per the retry policy; a missing
// calendar or rejected credentials fail immediately.
func (b *Backend) ResolveCalendar(ctx context.Context, name string) (string, error) {
	var calendarPath string

	attempt := 0
	operation := func() error {
		attempt++
		calendars, err := b.discover(ctx)
		if err != nil {
			classified := classifyError("caldav.discover", err)
			if core.IsAuthError(classified) {
				return backoff.Permanent(classified)
			}
			b.logger.Warn("CalDAV discovery failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", b.retry.Attempts),
				zap.Error(err))
			return classified
		}

		found, err := findCalendar(calendars, name)
		if err != nil {
			return backoff.Permanent(err)
		}
		calendarPath = found
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(b.retry.Delay), uint64(b.retry.Attempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}

	b.logger.Info("Resolved CalDAV calendar",
		zap.String("calendar_name", name),
		zap.String("path", calendarPath))
	return calendarPath, nil
}

func (b *Backend) discover(ctx context.Context) ([]caldav.Calendar, error) {
	principal, err := b.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding current user principal: %w", err)
	}
	homeSet, err := b.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("finding calendar home set: %w", err)
	}
	calendars, err := b.client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("listing calendars: %w", err)
	}
	return calendars, nil
}

// findCalendar matches by display name, falling back to the last path
// segment for servers that leave the name empty
func findCalendar(calendars []caldav.Calendar, name string) (string, error) {
	names := make([]string, 0, len(calendars))
	for _, cal := range calendars {
		if strings.EqualFold(cal.Name, name) {
			return cal.Path, nil
		}
		if cal.Name != "" {
			names = append(names, cal.Name)
		} else {
			names = append(names, cal.Path)
		}
	}
	for _, cal := range calendars {
		if cal.Name == "" && strings.EqualFold(path.Base(strings.TrimSuffix(cal.Path, "/")), name) {
			return cal.Path, nil
		}
	}
	return "", fmt.Errorf("calendar %q not found, available: %s", name, strings.Join(names, ", "))
}

// CreateEvent stores the event as a new calendar object and returns its UID
func (b *Backend) CreateEvent(ctx context.Context, calendarPath string, event *core.ExtractedEvent) (string, error) {
	uid := b.newUID()
	cal := BuildCalendar(event, uid, b.now())

	objectPath := strings.TrimSuffix(calendarPath, "/") + "/" + uid + ".ics"
	if _, err := b.client.PutCalendarObject(ctx, objectPath, cal); err != nil {
		return "", classifyError("caldav.put", err)
	}
	return uid, nil
}

// BuildCalendar renders an event as a VCALENDAR with times in UTC
func BuildCalendar(event *core.ExtractedEvent, uid string, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeStart, event.Start.UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeEnd, event.End.UTC())
	vevent.Props.SetText(ical.PropSummary, event.Title)
	if event.Location != "" {
		vevent.Props.SetText(ical.PropLocation, event.Location)
	}
	if event.Description != "" {
		vevent.Props.SetText(ical.PropDescription, event.Description)
	}

	cal.Children = append(cal.Children, vevent.Component)
	return cal
}

// classifyError maps CalDAV failures onto the shared taxonomy. go-webdav
// keeps its HTTP error type internal, so the status is read from the text.
func classifyError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &core.TransportError{Op: op, Err: err}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401 Unauthorized"), strings.Contains(msg, "403 Forbidden"):
		return &core.AuthError{Backend: "caldav", Err: err}
	case strings.Contains(msg, "429 Too Many Requests"):
		return &core.TransportError{Op: op, RateLimited: true, Err: err}
	default:
		return &core.TransportError{Op: op, Err: err}
	}
}
