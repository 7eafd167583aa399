package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mikey/mail2cal/internal/core"
)

// eventRecord is the stored form of an extracted event
type eventRecord struct {
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	Confidence  float64   `json:"confidence"`
}

func encodeEvent(event *core.ExtractedEvent) ([]byte, error) {
	data, err := json.Marshal(eventRecord{
		Title:       event.Title,
		Start:       event.Start,
		End:         event.End,
		Location:    event.Location,
		Description: event.Description,
		Confidence:  event.Confidence,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode cached event: %w", err)
	}
	return data, nil
}

func decodeEvent(data []byte) (core.ExtractedEvent, error) {
	var rec eventRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return core.ExtractedEvent{}, fmt.Errorf("failed to decode cached event: %w", err)
	}
	return core.ExtractedEvent{
		Title:       rec.Title,
		Start:       rec.Start,
		End:         rec.End,
		Location:    rec.Location,
		Description: rec.Description,
		Confidence:  rec.Confidence,
		Valid:       true,
	}, nil
}
