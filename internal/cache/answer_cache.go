package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"pdfchat/internal/model"
)

// AnswerCache keeps synthesized answers in redis. Keys embed a generation
// counter; bumping the generation after any ingest, delete, or reset makes
// every cached answer unreachable without enumerating keys, and the TTL
// reclaims the orphans.
type AnswerCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewAnswerCache(client *redisv9.Client, ttl time.Duration) *AnswerCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AnswerCache{client: client, ttl: ttl}
}

func (c *AnswerCache) Get(ctx context.Context, query string, topK int) (*model.AnswerResult, bool, error) {
	key, err := c.answerKey(ctx, query, topK)
	if err != nil {
		return nil, false, err
	}
	raw, err := c.client.Get(ctx, key).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get answer failed: %w", err)
	}

	var result model.AnswerResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached answer failed: %w", err)
	}
	return &result, true, nil
}

func (c *AnswerCache) Set(ctx context.Context, query string, topK int, result model.AnswerResult) error {
	key, err := c.answerKey(ctx, query, topK)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal answer cache failed: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set answer failed: %w", err)
	}
	return nil
}

// Invalidate bumps the generation so answers synthesized against the old
// index contents are never served again.
func (c *AnswerCache) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.generationKey()).Err(); err != nil {
		return fmt.Errorf("redis bump answer generation failed: %w", err)
	}
	return nil
}

func (c *AnswerCache) answerKey(ctx context.Context, query string, topK int) (string, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if err != nil && err != redisv9.Nil {
		return "", fmt.Errorf("redis get answer generation failed: %w", err)
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", query, topK)))
	return fmt.Sprintf("answers:%d:%s", gen, hex.EncodeToString(sum[:])), nil
}

func (c *AnswerCache) generationKey() string {
	return "answers:generation"
}
