package caldav

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/mikey/mail2cal/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCalDAV struct {
	calendars     []caldav.Calendar
	discoverErrs  []error
	discoverCalls int
	putErr        error
	putPath       string
	putCal        *ical.Calendar
}

func (f *fakeCalDAV) FindCurrentUserPrincipal(context.Context) (string, error) {
	f.discoverCalls++
	if len(f.discoverErrs) > 0 {
		err := f.discoverErrs[0]
		f.discoverErrs = f.discoverErrs[1:]
		return "", err
	}
	return "/principals/me/", nil
}

func (f *fakeCalDAV) FindCalendarHomeSet(_ context.Context, principal string) (string, error) {
	return principal + "calendars/", nil
}

func (f *fakeCalDAV) FindCalendars(context.Context, string) ([]caldav.Calendar, error) {
	return f.calendars, nil
}

func (f *fakeCalDAV) PutCalendarObject(_ context.Context, path string, cal *ical.Calendar) (*caldav.CalendarObject, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.putPath = path
	f.putCal = cal
	return &caldav.CalendarObject{Path: path}, nil
}

func newTestBackend(api CalendarAPI, attempts int) *Backend {
	b := NewBackend(api, RetryPolicy{Attempts: attempts, Delay: time.Millisecond}, zap.NewNop())
	b.newUID = func() string { return "uid-1" }
	b.now = func() time.Time { return time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC) }
	return b
}

func testEvent() *core.ExtractedEvent {
	loc := time.FixedZone("EDT", -4*60*60)
	start := time.Date(2024, 5, 15, 15, 0, 0, 0, loc)
	return &core.ExtractedEvent{
		Title:       "Team sync",
		Start:       start,
		End:         start.Add(30 * time.Minute),
		Location:    "Room 2",
		Description: "Weekly review",
		Valid:       true,
	}
}

func TestBuildCalendarEncodesUTCEvent(t *testing.T) {
	cal := BuildCalendar(testEvent(), "uid-1", time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC))

	var buf bytes.Buffer
	require.NoError(t, ical.NewEncoder(&buf).Encode(cal))
	out := buf.String()

	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "VERSION:2.0")
	assert.Contains(t, out, "PRODID:"+productID)
	assert.Contains(t, out, "BEGIN:VEVENT")
	assert.Contains(t, out, "UID:uid-1")
	assert.Contains(t, out, "DTSTAMP:20240514T120000Z")
	assert.Contains(t, out, "DTSTART:20240515T190000Z")
	assert.Contains(t, out, "DTEND:20240515T193000Z")
	assert.Contains(t, out, "SUMMARY:Team sync")
	assert.Contains(t, out, "LOCATION:Room 2")
	assert.Contains(t, out, "DESCRIPTION:Weekly review")
}

func TestBuildCalendarOmitsEmptyOptionalFields(t *testing.T) {
	event := testEvent()
	event.Location = ""
	event.Description = ""

	cal := BuildCalendar(event, "uid-2", time.Now())

	var buf bytes.Buffer
	require.NoError(t, ical.NewEncoder(&buf).Encode(cal))
	assert.NotContains(t, buf.String(), "LOCATION")
	assert.NotContains(t, buf.String(), "DESCRIPTION")
}

func TestFindCalendar(t *testing.T) {
	calendars := []caldav.Calendar{
		{Path: "/calendars/me/personal/", Name: "Personal"},
		{Path: "/calendars/me/work/", Name: "Work"},
		{Path: "/calendars/me/default/"},
	}

	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "work", want: "/calendars/me/work/"},
		{name: "Personal", want: "/calendars/me/personal/"},
		{name: "default", want: "/calendars/me/default/"},
		{name: "holidays", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := findCalendar(calendars, tt.name)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "Personal, Work")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveCalendarRetriesDiscovery(t *testing.T) {
	api := &fakeCalDAV{
		calendars:    []caldav.Calendar{{Path: "/cal/work/", Name: "Work"}},
		discoverErrs: []error{errors.New("connection refused"), errors.New("connection refused")},
	}

	path, err := newTestBackend(api, 5).ResolveCalendar(context.Background(), "Work")

	require.NoError(t, err)
	assert.Equal(t, "/cal/work/", path)
	assert.Equal(t, 3, api.discoverCalls)
}

func TestResolveCalendarGivesUp(t *testing.T) {
	api := &fakeCalDAV{
		discoverErrs: []error{errors.New("down"), errors.New("down"), errors.New("down")},
	}

	_, err := newTestBackend(api, 2).ResolveCalendar(context.Background(), "Work")

	require.Error(t, err)
	assert.True(t, core.IsTransportError(err))
	assert.Equal(t, 2, api.discoverCalls)
}

func TestResolveCalendarDoesNotRetryPermanentFailures(t *testing.T) {
	t.Run("bad credentials", func(t *testing.T) {
		api := &fakeCalDAV{discoverErrs: []error{errors.New("HTTP error: 401 Unauthorized")}}

		_, err := newTestBackend(api, 5).ResolveCalendar(context.Background(), "Work")

		assert.True(t, core.IsAuthError(err))
		assert.Equal(t, 1, api.discoverCalls)
	})

	t.Run("missing calendar", func(t *testing.T) {
		api := &fakeCalDAV{calendars: []caldav.Calendar{{Path: "/cal/home/", Name: "Home"}}}

		_, err := newTestBackend(api, 5).ResolveCalendar(context.Background(), "Work")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
		assert.Equal(t, 1, api.discoverCalls)
	})
}

func TestCreateEventPutsObject(t *testing.T) {
	api := &fakeCalDAV{}

	uid, err := newTestBackend(api, 1).CreateEvent(context.Background(), "/cal/work/", testEvent())

	require.NoError(t, err)
	assert.Equal(t, "uid-1", uid)
	assert.Equal(t, "/cal/work/uid-1.ics", api.putPath)
	require.NotNil(t, api.putCal)
	require.Len(t, api.putCal.Events(), 1)
	summary, err := api.putCal.Events()[0].Props.Text(ical.PropSummary)
	require.NoError(t, err)
	assert.Equal(t, "Team sync", summary)
}

func TestCreateEventClassifiesErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{name: "forbidden", err: errors.New("403 Forbidden"), check: core.IsAuthError},
		{name: "throttled", err: errors.New("429 Too Many Requests"), check: core.IsTransportError},
		{name: "network", err: errors.New("dial tcp: connection refused"), check: core.IsTransportError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeCalDAV{putErr: tt.err}

			_, err := newTestBackend(api, 1).CreateEvent(context.Background(), "/cal/work", testEvent())

			assert.True(t, tt.check(err), "got %T: %v", err, err)
		})
	}
}
