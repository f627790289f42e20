package app

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/echonow/subscription-service/internal/domain"
)

func TestNewRedisEventDeduplicator_Defaults(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		ttl     time.Duration
		eventID string
		wantKey string
		wantTTL time.Duration
	}{
		{name: "defaults", eventID: "evt_1", wantKey: "echonow:stripe_event:evt_1", wantTTL: 24 * time.Hour},
		{name: "blank prefix", prefix: "   ", ttl: -time.Minute, eventID: "evt_1", wantKey: "echonow:stripe_event:evt_1", wantTTL: 24 * time.Hour},
		{name: "trailing colon", prefix: "billing:", ttl: time.Hour, eventID: "evt_2", wantKey: "billing:evt_2", wantTTL: time.Hour},
		{name: "padded event id", prefix: "billing", ttl: time.Hour, eventID: "  evt_3 ", wantKey: "billing:evt_3", wantTTL: time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dedup := NewRedisEventDeduplicator(nil, tt.prefix, tt.ttl)
			if got := dedup.key(tt.eventID); got != tt.wantKey {
				t.Fatalf("expected key %q, got %q", tt.wantKey, got)
			}
			if dedup.ttl != tt.wantTTL {
				t.Fatalf("expected ttl %v, got %v", tt.wantTTL, dedup.ttl)
			}
		})
	}
}

// testRedisClient connects to REDIS_URL, or localhost, and skips when nothing answers.
func testRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("invalid REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisEventDeduplicator_RecordsProcessedEvents(t *testing.T) {
	client := testRedisClient(t)
	ctx := context.Background()

	prefix := "echonow:test:" + uuid.NewString()
	dedup := NewRedisEventDeduplicator(client, prefix, time.Minute)
	t.Cleanup(func() { client.Del(context.Background(), dedup.key("evt_1"), dedup.key("evt_2")) })

	seen, err := dedup.IsProcessed(ctx, "evt_1")
	if err != nil || seen {
		t.Fatalf("expected evt_1 unseen, got %v / %v", seen, err)
	}

	if err := dedup.MarkProcessed(ctx, " evt_1 ", domain.EventSubscriptionUpdated); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	seen, err = dedup.IsProcessed(ctx, "evt_1")
	if err != nil || !seen {
		t.Fatalf("expected evt_1 seen, got %v / %v", seen, err)
	}
	seen, err = dedup.IsProcessed(ctx, "evt_2")
	if err != nil || seen {
		t.Fatalf("expected evt_2 unseen, got %v / %v", seen, err)
	}

	stored, err := client.Get(ctx, prefix+":evt_1").Result()
	if err != nil {
		t.Fatalf("expected stored key, got %v", err)
	}
	if stored != domain.EventSubscriptionUpdated {
		t.Fatalf("expected event type stored, got %q", stored)
	}
	ttl, err := client.TTL(ctx, prefix+":evt_1").Result()
	if err != nil {
		t.Fatalf("expected ttl, got %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected ttl within one minute, got %v", ttl)
	}
}

func TestRedisEventDeduplicator_ClosedClientReturnsError(t *testing.T) {
	client := testRedisClient(t)
	dedup := NewRedisEventDeduplicator(client, "", 0)
	client.Close()

	if _, err := dedup.IsProcessed(context.Background(), "evt_1"); err == nil {
		t.Fatal("expected error from closed client")
	}
	if err := dedup.MarkProcessed(context.Background(), "evt_1", domain.EventSubscriptionUpdated); err == nil {
		t.Fatal("expected error from closed client")
	}
}
