package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mikey/mail2cal/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

func newTestBackend(t *testing.T, handler http.HandlerFunc) *Backend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := calendar.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return NewBackend(svc, "America/New_York", zap.NewNop())
}

func testEvent(t *testing.T) *core.ExtractedEvent {
	t.Helper()
	loc := time.FixedZone("EDT", -4*60*60)
	start := time.Date(2024, 5, 15, 15, 0, 0, 0, loc)
	return &core.ExtractedEvent{
		Title:       "Team sync",
		Start:       start,
		End:         start.Add(time.Hour),
		Location:    "Room 2",
		Description: "Agenda attached",
		Valid:       true,
	}
}

func TestCreateEventSendsEvent(t *testing.T) {
	var got calendar.Event
	var gotPath string
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"evt123","status":"confirmed"}`))
	})

	eventID, err := backend.CreateEvent(context.Background(), "primary", testEvent(t))

	require.NoError(t, err)
	assert.Equal(t, "evt123", eventID)
	assert.True(t, strings.HasSuffix(gotPath, "/calendars/primary/events"), gotPath)
	assert.Equal(t, "Team sync", got.Summary)
	assert.Equal(t, "Room 2", got.Location)
	assert.Equal(t, "Agenda attached", got.Description)
	require.NotNil(t, got.Start)
	require.NotNil(t, got.End)
	assert.Equal(t, "2024-05-15T15:00:00-04:00", got.Start.DateTime)
	assert.Equal(t, "2024-05-15T16:00:00-04:00", got.End.DateTime)
	assert.Equal(t, "America/New_York", got.Start.TimeZone)
}

func TestCreateEventClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, check: core.IsAuthError},
		{name: "forbidden", status: http.StatusForbidden, check: core.IsAuthError},
		{name: "bad request", status: http.StatusBadRequest, check: core.IsValidationError},
		{name: "not found", status: http.StatusNotFound, check: core.IsTransportError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newTestBackend(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprintf(w, `{"error":{"code":%d,"message":"nope"}}`, tt.status)
			})

			_, err := backend.CreateEvent(context.Background(), "primary", testEvent(t))

			require.Error(t, err)
			assert.True(t, tt.check(err), "got %T: %v", err, err)
		})
	}
}

func TestResolveCalendarID(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/users/me/calendarList"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":"home@group.calendar.google.com","summary":"Home"},{"id":"work@group.calendar.google.com","summary":"Work"}]}`))
	})

	tests := []struct {
		name string
		want string
	}{
		{name: "work", want: "work@group.calendar.google.com"},
		{name: "HOME", want: "home@group.calendar.google.com"},
		{name: "Missing", want: PrimaryCalendarID},
		{name: "", want: PrimaryCalendarID},
		{name: "primary", want: PrimaryCalendarID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := backend.ResolveCalendarID(context.Background(), tt.name)

			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}
