// Package bus provides the topic-routed event bus shared by the fleet services.
package bus

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Delivery is a single message received from the bus. Consumers must treat
// deliveries as at-least-once: duplicates are possible after reconnects.
type Delivery struct {
	RoutingKey string
	Body       []byte
}

// Bus is the topic-exchange abstraction used by all services. Publish routes
// a JSON body by routing key; Consume returns a channel of deliveries for a
// named per-consumer queue bound to the given routing keys.
type Bus interface {
	Publish(routingKey string, body []byte) error
	Consume(queue string, bindings []string) (<-chan Delivery, error)
	Close() error
}

// Envelope carries the fields every event payload includes.
type Envelope struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	RunID     string `json:"run_id"`
	Mode      string `json:"mode"`
	Seed      int    `json:"seed"`
	Scale     string `json:"scale"`
	SimTimeS  int    `json:"sim_time_s"`
	TsUTC     string `json:"ts_utc"`
}

// NewEnvelope builds an envelope for one event on one run.
func NewEnvelope(eventType, runID, mode string, seed int, scale string, simTimeS int) Envelope {
	return Envelope{
		EventID:   uuid.NewString(),
		EventType: eventType,
		RunID:     runID,
		Mode:      mode,
		Seed:      seed,
		Scale:     scale,
		SimTimeS:  simTimeS,
		TsUTC:     time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// PublishJSON marshals v and publishes it under routingKey.
func PublishJSON(b Bus, routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Publish(routingKey, body)
}

// topicMatch reports whether a routing key matches an AMQP-style binding
// pattern ("*" matches one word, "#" matches zero or more).
func topicMatch(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchWords(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchWords(pattern[1:], key[1:])
	}
}
