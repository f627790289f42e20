package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultEventDedupPrefix = "echonow:stripe_event"

// RedisEventDeduplicator remembers successfully handled event ids so provider
// redeliveries can be acknowledged without reconciling again.
type RedisEventDeduplicator struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisEventDeduplicator(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisEventDeduplicator {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = defaultEventDedupPrefix
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisEventDeduplicator{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
	}
}

func (d *RedisEventDeduplicator) key(eventID string) string {
	return fmt.Sprintf("%s:%s", d.prefix, strings.TrimSpace(eventID))
}

// IsProcessed reports whether the event id was already recorded.
func (d *RedisEventDeduplicator) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	if d == nil || d.client == nil || strings.TrimSpace(eventID) == "" {
		return false, nil
	}
	n, err := d.client.Exists(ctx, d.key(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkProcessed records the event id for the configured TTL.
func (d *RedisEventDeduplicator) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	if d == nil || d.client == nil || strings.TrimSpace(eventID) == "" {
		return nil
	}
	return d.client.Set(ctx, d.key(eventID), eventType, d.ttl).Err()
}
