package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/cdoctl/pkg/util"
)

// DefaultRedisKey is the list holding audit events, oldest at the head.
const DefaultRedisKey = "cdoctl:audit"

// RedisLogger appends audit events as JSON to a Redis list so several
// operators can share one trail.
type RedisLogger struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

// NewRedisLogger creates a Redis-backed audit logger. An empty key selects
// DefaultRedisKey.
func NewRedisLogger(addr string, db int, key string) *RedisLogger {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisLogger{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   db,
		}),
		key: key,
		ctx: context.Background(),
	}
}

// Connect tests the connection.
func (l *RedisLogger) Connect() error {
	if err := l.client.Ping(l.ctx).Err(); err != nil {
		return fmt.Errorf("connecting to audit redis: %w", err)
	}
	return nil
}

// Log appends event to the list.
func (l *RedisLogger) Log(event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding audit event: %w", err)
	}
	if err := l.client.RPush(l.ctx, l.key, data).Err(); err != nil {
		return fmt.Errorf("writing audit event to %s: %w", l.key, err)
	}
	return nil
}

// Query reads the whole list and filters it, oldest first.
func (l *RedisLogger) Query(filter Filter) ([]*Event, error) {
	raw, err := l.client.LRange(l.ctx, l.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading audit events from %s: %w", l.key, err)
	}

	events := []*Event{}
	for i, r := range raw {
		var event Event
		if err := json.Unmarshal([]byte(r), &event); err != nil {
			util.Warnf("audit: skipping malformed redis entry %d: %v", i, err)
			continue
		}
		if filter.Matches(&event) {
			events = append(events, &event)
		}
	}
	return filter.page(events), nil
}

// Close closes the connection.
func (l *RedisLogger) Close() error {
	return l.client.Close()
}
