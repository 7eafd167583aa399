package core

import (
	"context"
	"sync"
	"time"
)

type fakeLLM struct {
	mu       sync.Mutex
	response string
	err      error
	block    bool
	prompts  []string
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.response, f.err
}

func (f *fakeLLM) ModelName() string {
	return "fake-model"
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeBackend struct {
	mu      sync.Mutex
	eventID string
	err     error
	events  []ExtractedEvent
}

func (b *fakeBackend) CreateEvent(_ context.Context, _ string, event *ExtractedEvent) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	b.events = append(b.events, *event)
	return b.eventID, nil
}

type fakeMailbox struct {
	mu        sync.Mutex
	messages  []CandidateMessage
	bodies    map[uint32]MessageBody
	marked    map[uint32]bool
	searchErr error
	checkErr  error
	markErr   error
	searches  int
	fetches   int
	criteria  []SearchCriteria
}

func newFakeMailbox(messages ...CandidateMessage) *fakeMailbox {
	return &fakeMailbox{
		messages: messages,
		bodies:   make(map[uint32]MessageBody),
		marked:   make(map[uint32]bool),
	}
}

func (m *fakeMailbox) Check(context.Context) error {
	return m.checkErr
}

func (m *fakeMailbox) Search(_ context.Context, criteria SearchCriteria) ([]CandidateMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches++
	m.criteria = append(m.criteria, criteria)
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	var out []CandidateMessage
	for _, msg := range m.messages {
		if !m.marked[msg.UID] {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *fakeMailbox) FetchBody(_ context.Context, uid uint32) (*MessageBody, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	body := m.bodies[uid]
	return &body, nil
}

func (m *fakeMailbox) MarkProcessed(_ context.Context, uid uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	m.marked[uid] = true
	return nil
}

func (m *fakeMailbox) Close() error {
	return nil
}

func (m *fakeMailbox) isMarked(uid uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marked[uid]
}

// fakeClock records sleeps and stops the loop after maxSleeps
type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	sleeps    []time.Duration
	maxSleeps int
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	if len(c.sleeps) >= c.maxSleeps {
		return context.Canceled
	}
	return nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]CacheEntry)}
}

func (c *fakeCache) Get(_ context.Context, key string) (*CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (c *fakeCache) Set(_ context.Context, entry *CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Key] = *entry
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *fakeCache) Cleanup(context.Context) error {
	return nil
}

func (c *fakeCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []MessageOutcome
	results  []PublishResult
	polls    int
	states   []State
}

func (r *fakeRecorder) PollCompleted(int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls++
}

func (r *fakeRecorder) MessageHandled(outcome MessageOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *fakeRecorder) EventPublished(result PublishResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *fakeRecorder) StateChanged(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}
