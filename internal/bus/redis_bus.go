package bus

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

const incidentsStream = "incidents"

// RedisBus publishes incidents onto a Redis Stream so external consumers
// (alert forwarders, dashboards) can subscribe without touching the store.
type RedisBus struct {
	client *redis.Client
	logger *log.Logger
}

// NewRedisBus creates a new Redis bus instance and verifies connectivity.
func NewRedisBus(redisURL string, logger *log.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger == nil {
		logger = log.New(log.Writer(), "[RedisBus] ", log.LstdFlags)
	}

	return &RedisBus{client: client, logger: logger}, nil
}

// Close closes the Redis connection.
func (rb *RedisBus) Close() error {
	return rb.client.Close()
}

// PublishIncident publishes an incident to the incidents stream.
func (rb *RedisBus) PublishIncident(ctx context.Context, msg IncidentMessage) error {
	fields := map[string]interface{}{
		"incident_id": msg.IncidentID,
		"level":       msg.Level,
		"component":   msg.Component,
		"message":     msg.Message,
		"raw_json":    msg.RawJSON,
		"timestamp":   msg.Timestamp,
	}

	result := rb.client.XAdd(ctx, &redis.XAddArgs{
		Stream: incidentsStream,
		MaxLen: 10000,
		Approx: true,
		Values: fields,
	})
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish incident: %w", err)
	}
	return nil
}

// GetStats returns stream length and connection info.
func (rb *RedisBus) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{
		"type":   "redis",
		"status": "connected",
	}
	if n, err := rb.client.XLen(ctx, incidentsStream).Result(); err == nil {
		stats["incidents_stream_len"] = n
	}
	return stats, nil
}

// HealthCheck pings the Redis server.
func (rb *RedisBus) HealthCheck(ctx context.Context) error {
	if err := rb.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
