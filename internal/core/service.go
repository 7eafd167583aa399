package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mikey/mail2cal/internal/utils"
	"github.com/mikey/mail2cal/internal/whitelist"
	"go.uber.org/zap"
)

// State is the orchestrator's position in the poll loop
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateProcessingBatch
	StateSleeping
	StateExiting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateProcessingBatch:
		return "processing_batch"
	case StateSleeping:
		return "sleeping"
	case StateExiting:
		return "exiting"
	default:
		return "unknown"
	}
}

// MessageOutcome labels what happened to one candidate message
type MessageOutcome string

const (
	OutcomePublished     MessageOutcome = "published"
	OutcomeSkippedSender MessageOutcome = "skipped_sender"
	OutcomeUnparseable   MessageOutcome = "unparseable"
	OutcomeExtractFailed MessageOutcome = "extract_failed"
	OutcomePublishFailed MessageOutcome = "publish_failed"
	OutcomeFetchFailed   MessageOutcome = "fetch_failed"
)

// maxBackoffSteps caps the multiplier applied after consecutive poll failures
const maxBackoffSteps = 5

// Recorder receives processing events, typically to export metrics
type Recorder interface {
	PollCompleted(candidates int, err error)
	MessageHandled(outcome MessageOutcome)
	EventPublished(result PublishResult)
	StateChanged(state State)
}

type nopRecorder struct{}

func (nopRecorder) PollCompleted(int, error)      {}
func (nopRecorder) MessageHandled(MessageOutcome) {}
func (nopRecorder) EventPublished(PublishResult)  {}
func (nopRecorder) StateChanged(State)            {}

// NopRecorder returns a Recorder that discards everything
func NopRecorder() Recorder {
	return nopRecorder{}
}

// ProcessorOptions holds the poll loop settings
type ProcessorOptions struct {
	SubjectFilter   string
	MaxBodyChars    int
	Location        *time.Location
	MarkProcessed   bool
	MarkUnparseable bool
	RunOnce         bool
	CheckInterval   time.Duration
	RetryInterval   time.Duration
	CacheEnabled    bool
	CacheTTL        time.Duration
}

// CycleReport summarizes one poll cycle
type CycleReport struct {
	Candidates int
	Outcomes   map[MessageOutcome]int
}

// InboxProcessor is the core service: it polls the mailbox and drives
// extraction and publishing for every candidate message
type InboxProcessor struct {
	mailbox   Mailbox
	text      *utils.TextProcessor
	extractor *EventExtractor
	publisher *Publisher
	cache     CacheRepository
	allowList *whitelist.Checker
	clock     Clock
	recorder  Recorder
	logger    *zap.Logger
	opts      ProcessorOptions
	state     atomic.Int32
}

// NewInboxProcessor creates a new inbox processor
func NewInboxProcessor(
	mailbox Mailbox,
	text *utils.TextProcessor,
	extractor *EventExtractor,
	publisher *Publisher,
	cache CacheRepository,
	allowList *whitelist.Checker,
	clock Clock,
	recorder Recorder,
	logger *zap.Logger,
	opts ProcessorOptions,
) *InboxProcessor {
	if clock == nil {
		clock = SystemClock()
	}
	if recorder == nil {
		recorder = NopRecorder()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = opts.CheckInterval
	}
	return &InboxProcessor{
		mailbox:   mailbox,
		text:      text,
		extractor: extractor,
		publisher: publisher,
		cache:     cache,
		allowList: allowList,
		clock:     clock,
		recorder:  recorder,
		logger:    logger,
		opts:      opts,
	}
}

// State returns the current loop state
func (p *InboxProcessor) State() State {
	return State(p.state.Load())
}

func (p *InboxProcessor) setState(s State) {
	p.state.Store(int32(s))
	p.recorder.StateChanged(s)
}

// Preflight verifies that the processor can do useful work at all
func (p *InboxProcessor) Preflight(ctx context.Context) error {
	if p.publisher.EnabledCount() == 0 {
		return &FatalConfigError{Reason: "no calendar target is enabled and reachable"}
	}
	if err := p.mailbox.Check(ctx); err != nil {
		return &FatalConfigError{Reason: "mailbox connection failed", Err: err}
	}
	return nil
}

// Run executes the poll loop until the context is cancelled, or a single
// cycle in run-once mode. Only startup failures are returned.
func (p *InboxProcessor) Run(ctx context.Context) error {
	p.setState(StateIdle)
	if err := p.Preflight(ctx); err != nil {
		p.setState(StateExiting)
		return err
	}

	p.logger.Info("Starting inbox processor",
		zap.String("subject_filter", p.opts.SubjectFilter),
		zap.Int("calendar_targets", p.publisher.EnabledCount()),
		zap.Bool("run_once", p.opts.RunOnce),
		zap.Duration("check_interval", p.opts.CheckInterval))

	failures := 0
	for {
		_, err := p.RunCycle(ctx)
		if ctx.Err() != nil {
			p.setState(StateExiting)
			return nil
		}
		if err != nil {
			failures++
			p.logger.Error("Poll cycle failed",
				zap.Int("consecutive_failures", failures),
				zap.String("error_kind", ErrorKind(err)),
				zap.Error(err))
		} else {
			failures = 0
		}

		if p.opts.RunOnce {
			p.logger.Info("Run-once mode, exiting after one cycle")
			p.setState(StateExiting)
			return nil
		}

		wait := p.opts.CheckInterval
		if failures > 0 {
			wait = p.opts.RetryInterval * time.Duration(min(failures, maxBackoffSteps))
		}

		p.setState(StateSleeping)
		p.logger.Debug("Sleeping until next poll", zap.Duration("wait", wait))
		if err := p.clock.Sleep(ctx, wait); err != nil {
			p.setState(StateExiting)
			return nil
		}
	}
}

// RunCycle performs one search and processes the candidates in order.
// The returned error is non-nil only when the search itself failed.
func (p *InboxProcessor) RunCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{Outcomes: make(map[MessageOutcome]int)}

	p.setState(StatePolling)
	messages, err := p.mailbox.Search(ctx, SearchCriteria{Subject: p.opts.SubjectFilter})
	p.recorder.PollCompleted(len(messages), err)
	if err != nil {
		return report, err
	}

	report.Candidates = len(messages)
	if len(messages) == 0 {
		p.logger.Debug("No new messages")
		return report, nil
	}
	p.logger.Info("Found candidate messages", zap.Int("count", len(messages)))

	p.setState(StateProcessingBatch)
	for i := range messages {
		if ctx.Err() != nil {
			break
		}
		outcome := p.processMessage(ctx, &messages[i])
		report.Outcomes[outcome]++
		p.recorder.MessageHandled(outcome)
	}

	return report, nil
}

func (p *InboxProcessor) processMessage(ctx context.Context, msg *CandidateMessage) MessageOutcome {
	logger := p.logger.With(
		zap.Uint32("uid", msg.UID),
		zap.String("message_id", msg.MessageID),
		zap.String("subject", msg.Subject),
		zap.String("sender", msg.From))

	if !p.allowList.Allows(msg.From) {
		logger.Info("Sender not allowed, skipping")
		return OutcomeSkippedSender
	}

	event := p.cachedEvent(ctx, msg.Key(), logger)
	if event == nil {
		var outcome MessageOutcome
		event, outcome = p.extract(ctx, msg, logger)
		if event == nil {
			return outcome
		}
		p.storeEvent(ctx, msg.Key(), event, logger)
	}

	results := p.publisher.Publish(ctx, event)
	for _, r := range results {
		p.recorder.EventPublished(r)
	}
	if !Succeeded(results) {
		logger.Warn("Event not created on any calendar, leaving message for retry",
			zap.Int("targets", len(results)))
		return OutcomePublishFailed
	}

	if p.opts.MarkProcessed {
		p.markProcessed(ctx, msg, logger)
	}
	p.dropEvent(ctx, msg.Key(), logger)

	return OutcomePublished
}

// extract fetches, normalizes and runs the extractor on one message
func (p *InboxProcessor) extract(ctx context.Context, msg *CandidateMessage, logger *zap.Logger) (*ExtractedEvent, MessageOutcome) {
	body, err := p.mailbox.FetchBody(ctx, msg.UID)
	if err != nil {
		logger.Error("Failed to fetch message body",
			zap.String("error_kind", ErrorKind(err)),
			zap.Error(err))
		return nil, OutcomeFetchFailed
	}

	raw, isHTML := body.Text, false
	if raw == "" && body.HTML != "" {
		raw, isHTML = body.HTML, true
	}
	text := p.text.Normalize(raw, p.opts.MaxBodyChars, isHTML)

	event, err := p.extractor.Extract(ctx, ExtractionRequest{
		Subject:  msg.Subject,
		Sender:   msg.From,
		Body:     text,
		Now:      p.clock.Now(),
		Location: p.opts.Location,
	})
	if err == nil {
		return event, ""
	}

	if IsValidationError(err) {
		logger.Info("No usable event in message", zap.Error(err))
		if p.opts.MarkUnparseable {
			p.markProcessed(ctx, msg, logger)
		}
		return nil, OutcomeUnparseable
	}

	logger.Error("Event extraction failed, leaving message for retry",
		zap.String("error_kind", ErrorKind(err)),
		zap.Error(err))
	return nil, OutcomeExtractFailed
}

func (p *InboxProcessor) markProcessed(ctx context.Context, msg *CandidateMessage, logger *zap.Logger) {
	if err := p.mailbox.MarkProcessed(ctx, msg.UID); err != nil {
		logger.Error("Failed to mark message processed, it may be handled again",
			zap.Error(err))
		return
	}
	logger.Debug("Marked message processed")
}

func (p *InboxProcessor) cachedEvent(ctx context.Context, key string, logger *zap.Logger) *ExtractedEvent {
	if !p.opts.CacheEnabled || p.cache == nil {
		return nil
	}
	entry, err := p.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("Failed to read extraction cache", zap.Error(err))
		return nil
	}
	if entry == nil || entry.Expired(p.clock.Now()) {
		return nil
	}
	logger.Debug("Using cached extraction")
	event := entry.Event
	return &event
}

func (p *InboxProcessor) storeEvent(ctx context.Context, key string, event *ExtractedEvent, logger *zap.Logger) {
	if !p.opts.CacheEnabled || p.cache == nil {
		return
	}
	now := p.clock.Now()
	entry := &CacheEntry{
		Key:       key,
		Event:     *event,
		CreatedAt: now,
		ExpiresAt: now.Add(p.opts.CacheTTL),
	}
	if err := p.cache.Set(ctx, entry); err != nil {
		logger.Error("Failed to update cache", zap.Error(err))
	}
}

func (p *InboxProcessor) dropEvent(ctx context.Context, key string, logger *zap.Logger) {
	if !p.opts.CacheEnabled || p.cache == nil {
		return
	}
	if err := p.cache.Delete(ctx, key); err != nil {
		logger.Warn("Failed to drop cached extraction", zap.Error(err))
	}
}
