// Package database: Redis-based deposit event deduplication.
// This is a fast pre-check in front of the database unique index, which
// remains the real idempotency guarantee. Losing Redis only costs extra
// round-trips to the index.
package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key layout for event dedup
const (
	// DepositEventKeyPrefix is the prefix for processed deposit markers
	// Format: ledger:deposit_event:{depositID}:{leg}
	DepositEventKeyPrefix = "ledger:deposit_event"

	// DefaultDedupTTLHours is the default marker lifetime. Payment providers
	// stop retrying webhooks well before this.
	DefaultDedupTTLHours = 48
)

// RedisEventDedup tracks processed deposit events in Redis
type RedisEventDedup struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisEventDedup creates a new event dedup tracker. A nil client
// disables the pre-check entirely.
func NewRedisEventDedup(client *redis.Client, ttlHours int) *RedisEventDedup {
	if ttlHours <= 0 {
		ttlHours = DefaultDedupTTLHours
	}
	return &RedisEventDedup{
		client: client,
		ttl:    time.Duration(ttlHours) * time.Hour,
	}
}

// Enabled reports whether the Redis pre-check is active
func (d *RedisEventDedup) Enabled() bool {
	return d != nil && d.client != nil
}

func dedupKey(depositID, leg string) string {
	return fmt.Sprintf("%s:%s:%s", DepositEventKeyPrefix, depositID, leg)
}

// Seen reports whether a deposit leg was already processed. Errors are
// treated as not-seen so a Redis outage never drops a commission; the
// database index catches actual replays.
func (d *RedisEventDedup) Seen(ctx context.Context, depositID, leg string) bool {
	if !d.Enabled() {
		return false
	}

	_, err := d.client.Get(ctx, dedupKey(depositID, leg)).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		log.Printf("[EVENT-DEDUP] Warning: Failed to check marker for deposit %s leg %s: %v", depositID, leg, err)
		return false
	}
	return true
}

// Mark records a deposit leg as processed. SetNX keeps the first marker's
// timestamp when two workers race.
func (d *RedisEventDedup) Mark(ctx context.Context, depositID, leg string) {
	if !d.Enabled() {
		return
	}

	if err := d.client.SetNX(ctx, dedupKey(depositID, leg), time.Now().Format(time.RFC3339), d.ttl).Err(); err != nil {
		log.Printf("[EVENT-DEDUP] Warning: Failed to mark deposit %s leg %s: %v", depositID, leg, err)
	}
}

// Clear drops a marker, used when a conversion is cancelled so a legitimate
// re-send can be processed against the database state
func (d *RedisEventDedup) Clear(ctx context.Context, depositID, leg string) {
	if !d.Enabled() {
		return
	}

	if err := d.client.Del(ctx, dedupKey(depositID, leg)).Err(); err != nil {
		log.Printf("[EVENT-DEDUP] Warning: Failed to clear marker for deposit %s leg %s: %v", depositID, leg, err)
	}
}
