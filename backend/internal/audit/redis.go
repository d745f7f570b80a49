package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// DefaultStream is the Redis stream decisions are appended to
const DefaultStream = "moderation:decisions"

// RedisSink appends records to a Redis stream with XADD. Streams are
// append-only, which suits an audit log; MaxLen > 0 caps it approximately.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink creates a sink on an existing client
func NewRedisSink(client *redis.Client, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisSink) Name() string { return "redis" }

// Write adds one stream entry. The searchable fields are duplicated next to
// the full JSON record.
func (s *RedisSink) Write(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	d := rec.Decision
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: []interface{}{
			"id", rec.ID,
			"organization", d.Organization,
			"action", d.Action.String(),
			"label", d.Label,
			"reason", d.Reason,
			"record", string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisSink) Close() error {
	return s.client.Close()
}
