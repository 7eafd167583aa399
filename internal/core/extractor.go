package core

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultEventDuration is used when the model gives no usable end time
const DefaultEventDuration = time.Hour

// ExtractionRequest carries everything the extractor needs for one message
type ExtractionRequest struct {
	Subject  string
	Sender   string
	Body     string
	Now      time.Time
	Location *time.Location
}

// ExtractorOptions configures an EventExtractor
type ExtractorOptions struct {
	EventPrefix   string
	MinConfidence float64
	Timeout       time.Duration
}

// EventExtractor turns normalized email text into an ExtractedEvent
type EventExtractor struct {
	llmClient LLMClient
	logger    *zap.Logger
	opts      ExtractorOptions
}

// eventResponse is the fixed-shape object the model is asked to return
type eventResponse struct {
	Title       *string  `json:"title"`
	Start       *string  `json:"start"`
	End         *string  `json:"end"`
	StartDate   *string  `json:"start_date"`
	EndDate     *string  `json:"end_date"`
	Location    string   `json:"location"`
	Description string   `json:"description"`
	Confidence  *float64 `json:"confidence"`
}

const promptFormat = `The current date and time is: %s (timezone %s).
Parse this email and extract calendar event information. Return ONLY a JSON object with these fields:
- title (string): Event title/summary.%s
- start (string): start date/time as YYYY-MM-DDTHH:MM:SS in the %s timezone
- end (string): end date/time as YYYY-MM-DDTHH:MM:SS in the %s timezone
- location (string, optional): Event location
- description (string, optional): Event description, including any meeting URL
- confidence (number between 0 and 1): how sure you are that the email describes a real event
If dates are relative (like "tomorrow" or "next Friday"), calculate actual dates based on the current date above.
If times are ambiguous (like "3pm"), use context to determine AM/PM.
If the end time is not specified, assume a 1 hour duration.
If no valid event information can be found, return an empty JSON object {}.

Email:
From: %s
Subject: %s
Body:
%s

Respond only with the JSON object and nothing else.`

// NewEventExtractor creates a new event extractor
func NewEventExtractor(llmClient LLMClient, logger *zap.Logger, opts ExtractorOptions) *EventExtractor {
	return &EventExtractor{
		llmClient: llmClient,
		logger:    logger,
		opts:      opts,
	}
}

// BuildPrompt renders the model prompt for a request
func (x *EventExtractor) BuildPrompt(req ExtractionRequest) string {
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}
	now := req.Now.In(loc)

	prefixRule := ""
	if x.opts.EventPrefix != "" {
		prefixRule = fmt.Sprintf(" Start the title with %q.", x.opts.EventPrefix)
	}

	sender := req.Sender
	if sender == "" {
		sender = "Unknown"
	}

	return fmt.Sprintf(promptFormat,
		now.Format("2006-01-02 15:04:05 Monday"), loc.String(),
		prefixRule,
		loc.String(), loc.String(),
		sender, req.Subject, req.Body)
}

// Extract calls the model and validates its answer. Provider failures are
// returned unchanged; unusable answers yield a *ValidationError.
func (x *EventExtractor) Extract(ctx context.Context, req ExtractionRequest) (*ExtractedEvent, error) {
	if req.Location == nil {
		req.Location = time.UTC
	}

	prompt := x.BuildPrompt(req)

	if throttler, ok := x.llmClient.(Throttler); ok {
		if err := throttler.Wait(ctx); err != nil {
			return nil, err
		}
	}

	callCtx := ctx
	if x.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, x.opts.Timeout)
		defer cancel()
	}

	responseText, err := x.llmClient.Complete(callCtx, prompt)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && !IsTransportError(err) {
			return nil, &TransportError{Op: "llm.complete", Err: err}
		}
		return nil, err
	}

	event, err := ParseResponse(responseText, req.Location)
	if err != nil {
		x.logger.Debug("Unusable model response",
			zap.String("model", x.llmClient.ModelName()),
			zap.String("response", responseText),
			zap.Error(err))
		return nil, err
	}

	if x.opts.MinConfidence > 0 && event.Confidence < x.opts.MinConfidence {
		return nil, &ValidationError{
			Field:  "confidence",
			Reason: fmt.Sprintf("%.2f below threshold %.2f", event.Confidence, x.opts.MinConfidence),
		}
	}

	if x.opts.EventPrefix != "" && !strings.HasPrefix(event.Title, x.opts.EventPrefix) {
		event.Title = x.opts.EventPrefix + event.Title
	}

	x.logger.Info("Parsed event",
		zap.String("title", event.Title),
		zap.Time("start", event.Start),
		zap.Time("end", event.End),
		zap.Duration("duration", event.Duration()),
		zap.String("model", x.llmClient.ModelName()))

	return event, nil
}

var codeFencePattern = regexp.MustCompile("(?s)```(?:json)?(.*?)```")

// extractJSONObject isolates the outermost JSON object in a model answer
func extractJSONObject(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if m := codeFencePattern.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}

// ParseResponse validates a raw model answer and converts it to an event
// in the given location. It never returns a partially valid event.
func ParseResponse(text string, loc *time.Location) (*ExtractedEvent, error) {
	if loc == nil {
		loc = time.UTC
	}

	raw, ok := extractJSONObject(text)
	if !ok {
		return nil, &ValidationError{Reason: "response contains no JSON object"}
	}

	var resp eventResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}

	startText := firstNonEmpty(resp.Start, resp.StartDate)
	endText := firstNonEmpty(resp.End, resp.EndDate)

	if resp.Title == nil && startText == "" && endText == "" {
		return nil, &ValidationError{Reason: ErrNoEvent}
	}

	title := ""
	if resp.Title != nil {
		title = strings.TrimSpace(*resp.Title)
	}
	if title == "" {
		return nil, &ValidationError{Field: "title", Reason: "missing or empty"}
	}

	if startText == "" {
		return nil, &ValidationError{Field: "start", Reason: "missing"}
	}
	start, err := ParseTimestamp(startText, loc)
	if err != nil {
		return nil, &ValidationError{Field: "start", Reason: err.Error()}
	}

	end := start.Add(DefaultEventDuration)
	if endText != "" {
		parsed, err := ParseTimestamp(endText, loc)
		if err != nil {
			return nil, &ValidationError{Field: "end", Reason: err.Error()}
		}
		if parsed.After(start) {
			end = parsed
		}
	}

	confidence := 1.0
	if resp.Confidence != nil {
		confidence = *resp.Confidence
	}

	return &ExtractedEvent{
		Title:       title,
		Start:       start,
		End:         end,
		Location:    strings.TrimSpace(resp.Location),
		Description: strings.TrimSpace(resp.Description),
		Confidence:  confidence,
		Valid:       true,
	}, nil
}

// localLayouts are accepted without an offset and read in the configured zone
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTimestamp parses an absolute timestamp. Values with an offset are
// converted into loc; values without one are interpreted in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(loc), nil
	}

	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unsupported timestamp %q", value)
}

func firstNonEmpty(values ...*string) string {
	for _, v := range values {
		if v != nil && strings.TrimSpace(*v) != "" {
			return strings.TrimSpace(*v)
		}
	}
	return ""
}
