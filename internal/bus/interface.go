package bus

import (
	"context"
	"io"
	"log"
)

// IncidentMessage is the wire form of an incident published to the stream.
type IncidentMessage struct {
	IncidentID string `json:"incident_id"`
	Level      string `json:"level"`
	Component  string `json:"component"`
	Message    string `json:"message"`
	RawJSON    string `json:"raw_json"`
	Timestamp  int64  `json:"timestamp"`
}

// Bus publishes incidents for external consumers (SIEM forwarders, alert
// hooks). Publishing is best-effort and must never block the pipeline.
type Bus interface {
	// PublishIncident publishes an incident to the incidents stream.
	PublishIncident(ctx context.Context, msg IncidentMessage) error

	// GetStats returns basic statistics about the bus.
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// HealthCheck performs a health check on the bus connection.
	HealthCheck(ctx context.Context) error

	// Close closes the bus connection.
	Close() error
}

// NewBus creates a bus based on the Redis URL. When redisURL is empty or
// Redis is unreachable, a NullBus is returned so the engine runs standalone.
func NewBus(redisURL string, logger *log.Logger) Bus {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	if redisURL == "" {
		return NewNullBus(logger)
	}

	if redisBus, err := NewRedisBus(redisURL, logger); err == nil {
		return redisBus
	}

	return NewNullBus(logger)
}
