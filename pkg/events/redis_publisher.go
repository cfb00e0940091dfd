package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher appends events to a redis stream. Consumers (notification
// widgets, audit trails) read the stream with their own consumer groups.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// RedisPublisherConfig configures the stream publisher.
type RedisPublisherConfig struct {
	Addr     string
	Password string
	Stream   string
	MaxLen   int64
}

// NewRedisPublisher validates config and connects the client.
func NewRedisPublisher(cfg RedisPublisherConfig) (*RedisPublisher, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("events stream required")
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisPublisher{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream: stream,
		maxLen: maxLen,
	}, nil
}

// Publish appends one event to the stream.
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":        ev.Type,
			"loan_id":     ev.LoanID,
			"stage":       string(ev.Stage),
			"category":    ev.Category,
			"document_id": ev.DocumentID,
			"actor_id":    ev.ActorID,
			"occurred_at": ev.OccurredAt.Format(time.RFC3339Nano),
		},
	}).Err()
}
