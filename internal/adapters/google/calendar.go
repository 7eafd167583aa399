package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mikey/mail2cal/internal/core"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

// PrimaryCalendarID is the alias of the account's default calendar
const PrimaryCalendarID = "primary"

// LoadOAuthConfig reads an installed-app client secret file
func LoadOAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}
	oauthConfig, err := googleoauth.ConfigFromJSON(b, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	return oauthConfig, nil
}

// Backend implements core.CalendarBackend for Google Calendar
type Backend struct {
	svc      *calendar.Service
	timezone string
	logger   *zap.Logger
}

// NewBackend creates a new Google Calendar backend. Event times are sent
// with the given IANA zone name.
func NewBackend(svc *calendar.Service, timezone string, logger *zap.Logger) *Backend {
	return &Backend{
		svc:      svc,
		timezone: timezone,
		logger:   logger,
	}
}

// ResolveCalendarID finds the calendar whose summary matches name. The
// primary calendar is used when name is empty, "primary" or not found.
func (b *Backend) ResolveCalendarID(ctx context.Context, name string) (string, error) {
	if name == "" || strings.EqualFold(name, PrimaryCalendarID) {
		return PrimaryCalendarID, nil
	}

	var found string
	err := b.svc.CalendarList.List().Context(ctx).Pages(ctx, func(page *calendar.CalendarList) error {
		for _, item := range page.Items {
			if strings.EqualFold(item.Summary, name) {
				found = item.Id
				return errStopPaging
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopPaging) {
		return "", classifyError("google.calendar_list", err)
	}

	if found == "" {
		b.logger.Warn("Google calendar not found, using primary", zap.String("calendar_name", name))
		return PrimaryCalendarID, nil
	}

	b.logger.Info("Resolved Google calendar",
		zap.String("calendar_name", name),
		zap.String("calendar_id", found))
	return found, nil
}

var errStopPaging = errors.New("stop paging")

// CreateEvent inserts the event and returns its Google event ID
func (b *Backend) CreateEvent(ctx context.Context, calendarID string, event *core.ExtractedEvent) (string, error) {
	if calendarID == "" {
		calendarID = PrimaryCalendarID
	}

	created, err := b.svc.Events.Insert(calendarID, b.toGoogleEvent(event)).Context(ctx).Do()
	if err != nil {
		return "", classifyError("google.events_insert", err)
	}

	return created.Id, nil
}

func (b *Backend) toGoogleEvent(event *core.ExtractedEvent) *calendar.Event {
	return &calendar.Event{
		Summary:     event.Title,
		Location:    event.Location,
		Description: event.Description,
		Start: &calendar.EventDateTime{
			DateTime: event.Start.Format(time.RFC3339),
			TimeZone: b.timezone,
		},
		End: &calendar.EventDateTime{
			DateTime: event.End.Format(time.RFC3339),
			TimeZone: b.timezone,
		},
	}
}

// classifyError maps Google API and token errors onto the shared taxonomy
func classifyError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return &core.AuthError{Backend: "google", Err: err}
		case apiErr.Code == http.StatusTooManyRequests:
			return &core.TransportError{Op: op, RateLimited: true, Err: err}
		case apiErr.Code == http.StatusBadRequest:
			return &core.ValidationError{Field: "event", Reason: apiErr.Message}
		}
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return &core.AuthError{Backend: "google", Err: err}
	}

	return &core.TransportError{Op: op, Err: err}
}
