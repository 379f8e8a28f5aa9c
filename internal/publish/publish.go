// Package publish mirrors check outcomes to an MQTT broker for home automation.
package publish

import (
	"encoding/json"
	"time"

	"slotwatch/internal/checker"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "slotwatch/checks"

// Publisher publishes check outcomes. It satisfies checker.OutcomeSink.
type Publisher interface {
	PublishOutcome(o checker.Outcome) error
	Close() error
}

// Payload is the MQTT message body.
type Payload struct {
	Check CheckPayload `json:"check"`
}

type CheckPayload struct {
	RunID     string `json:"run_id"`
	Timestamp string `json:"timestamp"`
	Cadence   string `json:"cadence"`
	Slots     int    `json:"slots"`
	Error     string `json:"error,omitempty"`
}

// FormatPayload renders o as JSON; the timestamp is RFC3339 in UTC.
func FormatPayload(o checker.Outcome) ([]byte, error) {
	p := Payload{Check: CheckPayload{
		RunID:     o.RunID,
		Timestamp: o.At.UTC().Format(time.RFC3339),
		Cadence:   string(o.Cadence),
		Slots:     o.Slots,
	}}
	if o.Err != nil {
		p.Check.Error = o.Err.Error()
	}
	return json.Marshal(p)
}
