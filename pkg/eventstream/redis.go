package eventstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

const payloadField = "payload"

// RedisProvider backs session streams with Redis Streams, so event history
// survives process restarts and can be consumed from multiple replicas.
type RedisProvider struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisProvider connects to Redis and verifies the connection.
func NewRedisProvider(ctx context.Context, addr, password string, db int) (*RedisProvider, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return &RedisProvider{client: client, keyPrefix: "events:"}, nil
}

// Stream returns the Redis-backed stream for a session.
func (p *RedisProvider) Stream(sessionID string) Stream {
	return &RedisStream{client: p.client, key: p.keyPrefix + sessionID}
}

// Close closes the underlying Redis client.
func (p *RedisProvider) Close() error {
	return p.client.Close()
}

// RedisStream maps the Stream interface onto one Redis stream key.
type RedisStream struct {
	client *redis.Client
	key    string
}

// Put appends the event with XADD and assigns the generated ID.
func (s *RedisStream) Put(ctx context.Context, e models.Event) (string, error) {
	payload, err := models.EncodeEvent(e)
	if err != nil {
		return "", fmt.Errorf("encoding event: %w", err)
	}
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key,
		Values: map[string]any{payloadField: string(payload)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("appending to stream %s: %w", s.key, err)
	}
	e.Meta().ID = id
	return id, nil
}

// Get reads the first event after startID, blocking up to block via XREAD.
func (s *RedisStream) Get(ctx context.Context, startID string, block time.Duration) (models.Event, error) {
	if startID == "" {
		startID = "0"
	}

	if block <= 0 {
		// XRANGE with an exclusive start does a non-blocking cursor read.
		start := "(" + startID
		if startID == "0" {
			start = "-"
		}
		entries, err := s.client.XRangeN(ctx, s.key, start, "+", 1).Result()
		if err != nil {
			return nil, fmt.Errorf("reading stream %s: %w", s.key, err)
		}
		if len(entries) == 0 {
			return nil, nil
		}
		return decodeXMessage(entries[0])
	}

	res, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.key, startID},
		Count:   1,
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("blocking read on stream %s: %w", s.key, err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, nil
	}
	return decodeXMessage(res[0].Messages[0])
}

// Pop removes and returns the oldest event.
func (s *RedisStream) Pop(ctx context.Context) (models.Event, error) {
	entries, err := s.client.XRangeN(ctx, s.key, "-", "+", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading stream %s: %w", s.key, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	if err := s.client.XDel(ctx, s.key, entries[0].ID).Err(); err != nil {
		return nil, fmt.Errorf("deleting %s from stream %s: %w", entries[0].ID, s.key, err)
	}
	return decodeXMessage(entries[0])
}

// IsEmpty reports whether the stream has no events.
func (s *RedisStream) IsEmpty(ctx context.Context) (bool, error) {
	n, err := s.Size(ctx)
	return n == 0, err
}

// Size returns XLEN of the stream.
func (s *RedisStream) Size(ctx context.Context) (int64, error) {
	n, err := s.client.XLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("sizing stream %s: %w", s.key, err)
	}
	return n, nil
}

// Clear deletes the stream key.
func (s *RedisStream) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clearing stream %s: %w", s.key, err)
	}
	return nil
}

// Delete removes one event by ID.
func (s *RedisStream) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.client.XDel(ctx, s.key, id).Result()
	if err != nil {
		return false, fmt.Errorf("deleting %s from stream %s: %w", id, s.key, err)
	}
	return n > 0, nil
}

func decodeXMessage(msg redis.XMessage) (models.Event, error) {
	raw, ok := msg.Values[payloadField].(string)
	if !ok {
		return nil, fmt.Errorf("stream entry %s has no %s field", msg.ID, payloadField)
	}
	e, err := models.DecodeEvent([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding stream entry %s: %w", msg.ID, err)
	}
	e.Meta().ID = msg.ID
	return e, nil
}
