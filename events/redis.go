package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DefaultStream is the Redis Stream payroll events are appended to.
const DefaultStream = "payroll:events"

// RedisStream appends events to a Redis Stream with XADD.
// Each entry carries the event type as a plain field so consumers can
// filter without decoding, and the full envelope as JSON under "data".
type RedisStream struct {
	client redis.UniversalClient
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRedisStream creates a publisher. maxLen > 0 caps the stream
// approximately (XADD MAXLEN ~).
func NewRedisStream(client redis.UniversalClient, stream string, maxLen int64, logger *zap.Logger) *RedisStream {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStream{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

func (p *RedisStream) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.Type, err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"event_type": e.Type,
			"event_id":   e.ID,
			"data":       string(data),
			"timestamp":  e.Timestamp.Unix(),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	p.logger.Debug("event published",
		zap.String("stream", p.stream),
		zap.String("entry_id", id),
		zap.String("event_type", e.Type),
		zap.String("aggregate_id", e.AggregateID),
	)
	return nil
}
