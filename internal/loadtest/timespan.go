package loadtest

import (
	"encoding/json"
	"fmt"
	"time"
)

// Timespan is an immutable interval whose start never follows its end.
type Timespan struct {
	start time.Time
	end   time.Time
}

// NewTimespan validates and builds a timespan.
func NewTimespan(start, end time.Time) (Timespan, error) {
	if end.Before(start) {
		return Timespan{}, fmt.Errorf("%w: timespan ends at %s before it starts at %s",
			ErrInvalidParameter, end.Format(time.RFC3339Nano), start.Format(time.RFC3339Nano))
	}
	return Timespan{start: start, end: end}, nil
}

// spanBetween builds a span from two readings of the local clock, where end
// was taken after start.
func spanBetween(start, end time.Time) Timespan {
	if end.Before(start) {
		end = start
	}
	return Timespan{start: start, end: end}
}

// Start returns the first instant.
func (t Timespan) Start() time.Time { return t.start }

// End returns the last instant.
func (t Timespan) End() time.Time { return t.end }

// Duration returns end - start.
func (t Timespan) Duration() time.Duration { return t.end.Sub(t.start) }

// Seconds returns the duration in seconds.
func (t Timespan) Seconds() float64 { return t.Duration().Seconds() }

type timespanJSON struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// MarshalJSON encodes the span as {"start", "end"} ISO-8601 instants.
func (t Timespan) MarshalJSON() ([]byte, error) {
	return json.Marshal(timespanJSON{Start: t.start, End: t.end})
}

// UnmarshalJSON decodes and validates a span.
func (t *Timespan) UnmarshalJSON(data []byte) error {
	var raw timespanJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	span, err := NewTimespan(raw.Start, raw.End)
	if err != nil {
		return err
	}
	*t = span
	return nil
}
