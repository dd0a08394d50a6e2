package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yourorg/finance/internal/domain"
)

const quoteKeyPrefix = "quote:"

// QuoteCache keeps recent quotes so repeated lookups of a symbol within ttl
// skip the upstream API.
type QuoteCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewQuoteCache(client *redis.Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{client: client, ttl: ttl}
}

func quoteKey(symbol string) string {
	return quoteKeyPrefix + strings.ToUpper(symbol)
}

func (c *QuoteCache) Set(ctx context.Context, q *domain.Quote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, quoteKey(q.Symbol), data, c.ttl).Err()
}

// Get returns nil, nil on a cache miss.
func (c *QuoteCache) Get(ctx context.Context, symbol string) (*domain.Quote, error) {
	val, err := c.client.Get(ctx, quoteKey(symbol)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get quote: %w", err)
	}
	var q domain.Quote
	if err := json.Unmarshal([]byte(val), &q); err != nil {
		return nil, err
	}
	return &q, nil
}
