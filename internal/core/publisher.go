package core

import (
	"context"

	"go.uber.org/zap"
)

// Publisher fans an event out to every enabled calendar target. Targets
// are independent: a failure on one never prevents or undoes another.
type Publisher struct {
	targets []CalendarTarget
	logger  *zap.Logger
}

// NewPublisher creates a new publisher over the given targets
func NewPublisher(targets []CalendarTarget, logger *zap.Logger) *Publisher {
	return &Publisher{
		targets: targets,
		logger:  logger,
	}
}

// EnabledCount returns the number of enabled targets
func (p *Publisher) EnabledCount() int {
	n := 0
	for _, t := range p.targets {
		if t.Enabled && t.Backend != nil {
			n++
		}
	}
	return n
}

// Publish creates the event on each enabled target and returns one
// result per attempted target
func (p *Publisher) Publish(ctx context.Context, event *ExtractedEvent) []PublishResult {
	results := make([]PublishResult, 0, len(p.targets))

	for _, target := range p.targets {
		if !target.Enabled {
			p.logger.Debug("Calendar target disabled, skipping", zap.String("target", target.Name))
			continue
		}
		if target.Backend == nil {
			p.logger.Warn("Calendar target not available, skipping", zap.String("target", target.Name))
			continue
		}

		eventID, err := target.Backend.CreateEvent(ctx, target.CalendarID, event)
		result := PublishResult{
			Target:  target.Name,
			Kind:    target.Kind,
			EventID: eventID,
			Err:     err,
		}
		results = append(results, result)

		if err != nil {
			p.logger.Error("Failed to create calendar event",
				zap.String("target", target.Name),
				zap.String("kind", string(target.Kind)),
				zap.String("error_kind", ErrorKind(err)),
				zap.Error(err))
			continue
		}

		p.logger.Info("Created calendar event",
			zap.String("target", target.Name),
			zap.String("kind", string(target.Kind)),
			zap.String("event_id", eventID),
			zap.String("title", event.Title),
			zap.Time("start", event.Start))
	}

	return results
}

// Succeeded reports whether at least one target accepted the event
func Succeeded(results []PublishResult) bool {
	for _, r := range results {
		if r.OK() {
			return true
		}
	}
	return false
}
