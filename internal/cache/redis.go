// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/plurabus/gameserver/internal/game"
)

// DefaultQueueName is the Redis list the historian microservice drains.
const DefaultQueueName = "plurabus_matches"

// Historian pushes finished-match records onto a Redis list so an external
// process can archive them. The relay server itself keeps no state across
// restarts; losing the queue loses only history, never games.
type Historian struct {
	rdb   *redis.Client
	queue string
}

// NewHistorian connects to Redis and verifies the connection with a ping.
func NewHistorian(addr, queue string) (*Historian, error) {
	if queue == "" {
		queue = DefaultQueueName
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return &Historian{rdb: rdb, queue: queue}, nil
}

// RecordMatch serializes the record to JSON and pushes it onto the queue.
// Implements game.Recorder.
func (h *Historian) RecordMatch(ctx context.Context, rec game.MatchRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal match record: %w", err)
	}
	if err := h.rdb.RPush(ctx, h.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list %q: %w", h.queue, err)
	}
	return nil
}

// Close releases the Redis client.
func (h *Historian) Close() error {
	return h.rdb.Close()
}
