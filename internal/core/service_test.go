package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mikey/mail2cal/internal/utils"
	"github.com/mikey/mail2cal/internal/whitelist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const validResponse = `{"title":"Sync","start":"2024-05-15T15:00:00","confidence":0.9}`

type processorFixture struct {
	mailbox  *fakeMailbox
	llm      *fakeLLM
	backends []*fakeBackend
	cache    *fakeCache
	clock    *fakeClock
	recorder *fakeRecorder
	opts     ProcessorOptions
	allowed  []string
}

func newFixture(messages ...CandidateMessage) *processorFixture {
	mailbox := newFakeMailbox(messages...)
	for _, msg := range messages {
		mailbox.bodies[msg.UID] = MessageBody{Text: "Let's meet tomorrow at 3pm."}
	}
	return &processorFixture{
		mailbox:  mailbox,
		llm:      &fakeLLM{response: validResponse},
		backends: []*fakeBackend{{eventID: "evt-1"}},
		cache:    newFakeCache(),
		clock:    &fakeClock{now: time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC), maxSleeps: 1},
		recorder: &fakeRecorder{},
		opts: ProcessorOptions{
			SubjectFilter:   "Meeting Request",
			MaxBodyChars:    3000,
			MarkProcessed:   true,
			MarkUnparseable: true,
			CheckInterval:   60 * time.Second,
			RetryInterval:   60 * time.Second,
			CacheEnabled:    true,
			CacheTTL:        time.Hour,
		},
	}
}

func (f *processorFixture) build() *InboxProcessor {
	logger := zap.NewNop()
	targets := make([]CalendarTarget, 0, len(f.backends))
	for i, b := range f.backends {
		targets = append(targets, CalendarTarget{
			Name:    []string{"google", "caldav"}[i%2],
			Kind:    BackendGoogle,
			Backend: b,
			Enabled: true,
		})
	}
	return NewInboxProcessor(
		f.mailbox,
		utils.NewTextProcessor(logger),
		NewEventExtractor(f.llm, logger, ExtractorOptions{}),
		NewPublisher(targets, logger),
		f.cache,
		whitelist.NewChecker(f.allowed, logger),
		f.clock,
		f.recorder,
		logger,
		f.opts,
	)
}

func meeting(uid uint32) CandidateMessage {
	return CandidateMessage{
		UID:       uid,
		MessageID: fmt.Sprintf("<msg-%d@example.com>", uid),
		Subject:   "Meeting Request: sync",
		From:      "Alice <alice@example.com>",
	}
}

func TestRunOnceProcessesExactlyOneCycle(t *testing.T) {
	f := newFixture(meeting(1), meeting(2))
	f.opts.RunOnce = true

	err := f.build().Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, f.mailbox.searches)
	assert.Empty(t, f.clock.sleeps)
	assert.Equal(t, "Meeting Request", f.mailbox.criteria[0].Subject)
	assert.Len(t, f.backends[0].events, 2)
	assert.True(t, f.mailbox.isMarked(1))
	assert.True(t, f.mailbox.isMarked(2))
	assert.Equal(t, StateExiting, f.recorder.states[len(f.recorder.states)-1])
}

func TestRunOnceReturnsNilWhenPollFails(t *testing.T) {
	f := newFixture()
	f.opts.RunOnce = true
	f.mailbox.searchErr = &TransportError{Op: "imap.search", Err: errors.New("connection reset")}

	err := f.build().Run(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, f.mailbox.searches)
}

func TestRunSleepsCheckIntervalBetweenPolls(t *testing.T) {
	f := newFixture()
	f.clock.maxSleeps = 3

	err := f.build().Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, f.mailbox.searches)
	assert.Equal(t, []time.Duration{60 * time.Second, 60 * time.Second, 60 * time.Second}, f.clock.sleeps)
}

func TestRunBacksOffAfterPollFailures(t *testing.T) {
	f := newFixture()
	f.opts.RetryInterval = 10 * time.Second
	f.clock.maxSleeps = 7
	f.mailbox.searchErr = &TransportError{Op: "imap.search", Err: errors.New("timeout")}

	err := f.build().Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{
		10 * time.Second,
		20 * time.Second,
		30 * time.Second,
		40 * time.Second,
		50 * time.Second,
		50 * time.Second,
		50 * time.Second,
	}, f.clock.sleeps)
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	f := newFixture()
	f.clock.maxSleeps = 100
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.build().Run(ctx)

	assert.NoError(t, err)
	assert.LessOrEqual(t, f.mailbox.searches, 1)
}

func TestPreflightFailures(t *testing.T) {
	t.Run("no targets", func(t *testing.T) {
		f := newFixture()
		f.backends = nil

		err := f.build().Run(context.Background())

		assert.True(t, IsFatalConfigError(err))
		assert.Equal(t, 0, f.mailbox.searches)
	})

	t.Run("mailbox unreachable", func(t *testing.T) {
		f := newFixture()
		f.mailbox.checkErr = &AuthError{Backend: "imap", Err: errors.New("invalid credentials")}

		err := f.build().Run(context.Background())

		assert.True(t, IsFatalConfigError(err))
		assert.True(t, IsAuthError(err))
		assert.Equal(t, 0, f.mailbox.searches)
	})
}

func TestRunCycleMarking(t *testing.T) {
	tests := []struct {
		name            string
		response        string
		llmErr          error
		backendErr      error
		markProcessed   bool
		markUnparseable bool
		wantOutcome     MessageOutcome
		wantMarked      bool
	}{
		{
			name:          "published and marked",
			response:      validResponse,
			markProcessed: true,
			wantOutcome:   OutcomePublished,
			wantMarked:    true,
		},
		{
			name:          "published without marking",
			response:      validResponse,
			markProcessed: false,
			wantOutcome:   OutcomePublished,
			wantMarked:    false,
		},
		{
			name:            "unparseable marked",
			response:        `{}`,
			markProcessed:   true,
			markUnparseable: true,
			wantOutcome:     OutcomeUnparseable,
			wantMarked:      true,
		},
		{
			name:            "unparseable left for review",
			response:        `{"start":"2024-05-15T15:00:00"}`,
			markProcessed:   true,
			markUnparseable: false,
			wantOutcome:     OutcomeUnparseable,
			wantMarked:      false,
		},
		{
			name:            "provider outage leaves message",
			llmErr:          &TransportError{Op: "llm", RateLimited: true, Err: errors.New("429")},
			markProcessed:   true,
			markUnparseable: true,
			wantOutcome:     OutcomeExtractFailed,
			wantMarked:      false,
		},
		{
			name:          "all calendars failed leaves message",
			response:      validResponse,
			backendErr:    &TransportError{Op: "caldav.put", Err: errors.New("refused")},
			markProcessed: true,
			wantOutcome:   OutcomePublishFailed,
			wantMarked:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(meeting(7))
			f.llm = &fakeLLM{response: tt.response, err: tt.llmErr}
			f.backends[0].err = tt.backendErr
			f.opts.MarkProcessed = tt.markProcessed
			f.opts.MarkUnparseable = tt.markUnparseable

			report, err := f.build().RunCycle(context.Background())

			require.NoError(t, err)
			assert.Equal(t, 1, report.Candidates)
			assert.Equal(t, map[MessageOutcome]int{tt.wantOutcome: 1}, report.Outcomes)
			assert.Equal(t, tt.wantMarked, f.mailbox.isMarked(7))
			assert.Equal(t, []MessageOutcome{tt.wantOutcome}, f.recorder.outcomes)
		})
	}
}

func TestRunCycleSecondPollHonoursProcessedMarker(t *testing.T) {
	tests := []struct {
		name          string
		markProcessed bool
		wantLLMCalls  int
		wantFetches   int
		wantEvents    int
		wantSecond    int
	}{
		{
			name:          "marking enabled skips the handled message",
			markProcessed: true,
			wantLLMCalls:  1,
			wantFetches:   1,
			wantEvents:    1,
			wantSecond:    0,
		},
		{
			name:          "marking disabled creates the event again",
			markProcessed: false,
			wantLLMCalls:  2,
			wantFetches:   2,
			wantEvents:    2,
			wantSecond:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(meeting(1))
			f.opts.MarkProcessed = tt.markProcessed
			processor := f.build()

			first, err := processor.RunCycle(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, first.Outcomes[OutcomePublished])

			second, err := processor.RunCycle(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantSecond, second.Candidates)
			assert.Equal(t, tt.wantSecond, second.Outcomes[OutcomePublished])

			assert.Equal(t, 2, f.mailbox.searches)
			assert.Equal(t, tt.wantFetches, f.mailbox.fetches)
			assert.Equal(t, tt.wantLLMCalls, f.llm.calls())
			assert.Len(t, f.backends[0].events, tt.wantEvents)
			assert.Equal(t, tt.markProcessed, f.mailbox.isMarked(1))
		})
	}
}

func TestRunCyclePartialPublishCountsAsSuccess(t *testing.T) {
	f := newFixture(meeting(1))
	f.backends = []*fakeBackend{
		{err: &AuthError{Backend: "google", Err: errors.New("expired")}},
		{eventID: "uid-1"},
	}

	report, err := f.build().RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Outcomes[OutcomePublished])
	assert.True(t, f.mailbox.isMarked(1))
	require.Len(t, f.recorder.results, 2)
	assert.False(t, f.recorder.results[0].OK())
	assert.True(t, f.recorder.results[1].OK())
}

func TestRunCycleReusesCachedExtractionAfterPublishFailure(t *testing.T) {
	f := newFixture(meeting(3))
	f.backends[0].err = &TransportError{Op: "google.events_insert", Err: errors.New("503")}
	processor := f.build()

	report, err := processor.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Outcomes[OutcomePublishFailed])
	assert.Equal(t, 1, f.cache.len())
	assert.False(t, f.mailbox.isMarked(3))

	f.backends[0].err = nil
	report, err = processor.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Outcomes[OutcomePublished])
	assert.Equal(t, 1, f.llm.calls())
	assert.Equal(t, 0, f.cache.len())
	assert.True(t, f.mailbox.isMarked(3))
	require.Len(t, f.backends[0].events, 1)
	assert.Equal(t, "Sync", f.backends[0].events[0].Title)
}

func TestRunCycleIgnoresExpiredCacheEntries(t *testing.T) {
	f := newFixture(meeting(4))
	msg := meeting(4)
	f.cache.entries[msg.Key()] = CacheEntry{
		Key:       msg.Key(),
		Event:     ExtractedEvent{Title: "Stale"},
		ExpiresAt: f.clock.now.Add(-time.Minute),
	}

	_, err := f.build().RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, f.llm.calls())
	require.Len(t, f.backends[0].events, 1)
	assert.Equal(t, "Sync", f.backends[0].events[0].Title)
}

func TestRunCycleSkipsSendersOutsideAllowList(t *testing.T) {
	f := newFixture(meeting(1))
	f.allowed = []string{"corp.example.org"}

	report, err := f.build().RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Outcomes[OutcomeSkippedSender])
	assert.Equal(t, 0, f.llm.calls())
	assert.False(t, f.mailbox.isMarked(1))
}

func TestRunCycleFallsBackToHTMLBody(t *testing.T) {
	f := newFixture(meeting(1))
	f.mailbox.bodies[1] = MessageBody{HTML: "<p>Standup <b>Friday</b> 10am</p><script>x()</script>"}

	_, err := f.build().RunCycle(context.Background())

	require.NoError(t, err)
	require.Equal(t, 1, f.llm.calls())
	assert.Contains(t, f.llm.prompts[0], "Standup Friday 10am")
	assert.NotContains(t, f.llm.prompts[0], "x()")
}

func TestRunCycleContinuesWhenMarkFails(t *testing.T) {
	f := newFixture(meeting(1), meeting(2))
	f.mailbox.markErr = errors.New("store failed")

	report, err := f.build().RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, report.Outcomes[OutcomePublished])
	assert.Len(t, f.backends[0].events, 2)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "processing_batch", StateProcessingBatch.String())
	assert.Equal(t, "unknown", State(42).String())
}
