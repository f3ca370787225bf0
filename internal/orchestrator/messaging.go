package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/neurokid/insight-agents/internal/controller"
)

// DefaultStream is the Redis Stream that run events are appended to.
const DefaultStream = "neurokid:agents:runs"

// MessageBus publishes run-completed events to a Redis Stream so other
// services can follow agent activity.
type MessageBus struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

var _ controller.RunPublisher = (*MessageBus)(nil)

// NewMessageBus wraps an existing client. The stream is trimmed to roughly
// maxLen entries; zero means 10000.
func NewMessageBus(rdb *redis.Client, stream string, maxLen int64, logger *zap.Logger) *MessageBus {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &MessageBus{
		rdb:    rdb,
		stream: stream,
		maxLen: maxLen,
		logger: logger.With(zap.String("component", "message_bus")),
	}
}

// DialMessageBus connects to redisURL and verifies the connection.
func DialMessageBus(ctx context.Context, redisURL, stream string, logger *zap.Logger) (*MessageBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewMessageBus(rdb, stream, 0, logger), nil
}

// PublishRun appends ev to the stream.
func (mb *MessageBus) PublishRun(ctx context.Context, ev controller.RunEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}
	_, err = mb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: mb.stream,
		MaxLen: mb.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"agent_type": string(ev.AgentType),
			"data":       string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", mb.stream, err)
	}
	mb.logger.Debug("published run event",
		zap.String("agent", string(ev.AgentType)),
		zap.String("session", ev.SessionID),
		zap.Bool("success", ev.Success))
	return nil
}

// Recent returns up to n events, newest first.
func (mb *MessageBus) Recent(ctx context.Context, n int64) ([]controller.RunEvent, error) {
	msgs, err := mb.rdb.XRevRangeN(ctx, mb.stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", mb.stream, err)
	}
	out := make([]controller.RunEvent, 0, len(msgs))
	for _, m := range msgs {
		if ev, ok := decodeEvent(m); ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Subscribe streams events appended after the call. Cancel ctx to stop.
func (mb *MessageBus) Subscribe(ctx context.Context) <-chan controller.RunEvent {
	ch := make(chan controller.RunEvent, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := mb.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{mb.stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					mb.logger.Warn("stream read failed", zap.Error(err))
					select {
					case <-time.After(500 * time.Millisecond):
					case <-ctx.Done():
						return
					}
				}
				continue
			}

			for _, r := range results {
				for _, m := range r.Messages {
					lastID = m.ID
					ev, ok := decodeEvent(m)
					if !ok {
						continue
					}
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (mb *MessageBus) Close() error {
	return mb.rdb.Close()
}

func decodeEvent(m redis.XMessage) (controller.RunEvent, bool) {
	var ev controller.RunEvent
	data, ok := m.Values["data"].(string)
	if !ok {
		return ev, false
	}
	return ev, json.Unmarshal([]byte(data), &ev) == nil
}
