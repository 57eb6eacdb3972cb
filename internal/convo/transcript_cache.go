package convo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	transcriptKeyPrefix = "transcript:"
	transcriptTTL       = 72 * time.Hour
)

// CachedMessage is the hot-path transcript entry kept in Redis so the engine
// can assemble the model context without a database round trip.
type CachedMessage struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptCache keeps a bounded per-conversation message window in Redis.
// The cache is advisory: the Postgres log in Store stays the record of truth,
// and a cold cache is rebuilt from it on the next read.
type TranscriptCache struct {
	redis       *redis.Client
	tracer      trace.Tracer
	maxMessages int64
}

// NewTranscriptCache wraps a Redis client. A nil client yields a no-op cache.
func NewTranscriptCache(redisClient *redis.Client) *TranscriptCache {
	if redisClient == nil {
		return nil
	}
	return &TranscriptCache{
		redis:       redisClient,
		tracer:      otel.Tracer("sellzap.internal.convo.transcript_cache"),
		maxMessages: 250,
	}
}

// Append pushes one message onto the cached window and refreshes its TTL.
func (c *TranscriptCache) Append(ctx context.Context, conversationID string, msg CachedMessage) error {
	if c == nil || c.redis == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if conversationID == "" {
		return errors.New("convo: transcript conversationID required")
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("convo: marshal transcript message: %w", err)
	}

	ctx, span := c.tracer.Start(ctx, "convo.transcript_cache.append")
	defer span.End()

	key := transcriptKey(conversationID)
	pipe := c.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, transcriptTTL)
	if c.maxMessages > 0 {
		pipe.LTrim(ctx, key, -c.maxMessages, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("convo: append transcript message: %w", err)
	}
	return nil
}

// List returns up to limit most recent cached messages in order. A zero limit
// returns the whole cached window.
func (c *TranscriptCache) List(ctx context.Context, conversationID string, limit int64) ([]CachedMessage, error) {
	if c == nil || c.redis == nil {
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if conversationID == "" {
		return nil, errors.New("convo: transcript conversationID required")
	}

	ctx, span := c.tracer.Start(ctx, "convo.transcript_cache.list")
	defer span.End()

	start := int64(0)
	if limit > 0 {
		start = -limit
	}

	raw, err := c.redis.LRange(ctx, transcriptKey(conversationID), start, -1).Result()
	if err != nil {
		span.RecordError(err)
		if err == redis.Nil {
			return []CachedMessage{}, nil
		}
		return nil, fmt.Errorf("convo: list transcript: %w", err)
	}

	out := make([]CachedMessage, 0, len(raw))
	for _, item := range raw {
		var msg CachedMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			span.RecordError(err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Prime replaces the cached window with messages loaded from the durable log.
func (c *TranscriptCache) Prime(ctx context.Context, conversationID string, messages []CachedMessage) error {
	if c == nil || c.redis == nil {
		return nil
	}
	if conversationID == "" {
		return errors.New("convo: transcript conversationID required")
	}

	key := transcriptKey(conversationID)
	pipe := c.redis.TxPipeline()
	pipe.Del(ctx, key)
	for _, msg := range messages {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("convo: marshal transcript message: %w", err)
		}
		pipe.RPush(ctx, key, data)
	}
	pipe.Expire(ctx, key, transcriptTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("convo: prime transcript: %w", err)
	}
	return nil
}

func transcriptKey(conversationID string) string {
	return transcriptKeyPrefix + conversationID
}
