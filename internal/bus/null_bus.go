package bus

import (
	"context"
	"log"
)

// NullBus is a no-op bus for when Redis is disabled or unreachable.
type NullBus struct {
	logger *log.Logger
}

// NewNullBus creates a new null bus instance.
func NewNullBus(logger *log.Logger) *NullBus {
	if logger == nil {
		logger = log.New(log.Writer(), "[NullBus] ", log.LstdFlags)
	}
	return &NullBus{logger: logger}
}

// Close is a no-op for null bus.
func (nb *NullBus) Close() error {
	return nil
}

// PublishIncident drops the message; the incident is already persisted in
// the local store.
func (nb *NullBus) PublishIncident(ctx context.Context, msg IncidentMessage) error {
	return nil
}

// GetStats returns empty stats for null bus.
func (nb *NullBus) GetStats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":   "null",
		"status": "disabled",
	}, nil
}

// HealthCheck always returns nil for null bus.
func (nb *NullBus) HealthCheck(ctx context.Context) error {
	return nil
}
