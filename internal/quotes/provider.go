package quotes

import (
	"context"
	"log/slog"
	"strings"

	"github.com/yourorg/finance/internal/domain"
)

// Provider resolves a ticker symbol to its current quote. A nil quote with
// a nil error means the symbol is unknown.
type Provider interface {
	Lookup(ctx context.Context, symbol string) (*domain.Quote, error)
}

type Cache interface {
	Get(ctx context.Context, symbol string) (*domain.Quote, error)
	Set(ctx context.Context, q *domain.Quote) error
}

func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// CachedProvider serves quotes from cache and falls back to next on a miss.
// Cache failures are logged and never fail a lookup.
type CachedProvider struct {
	next   Provider
	cache  Cache
	logger *slog.Logger
}

func NewCachedProvider(next Provider, cache Cache, logger *slog.Logger) *CachedProvider {
	return &CachedProvider{next: next, cache: cache, logger: logger}
}

func (p *CachedProvider) Lookup(ctx context.Context, symbol string) (*domain.Quote, error) {
	symbol = NormalizeSymbol(symbol)
	cached, err := p.cache.Get(ctx, symbol)
	if err != nil {
		p.logger.Warn("quote cache read failed", "symbol", symbol, "err", err)
	}
	if cached != nil {
		return cached, nil
	}

	q, err := p.next.Lookup(ctx, symbol)
	if err != nil || q == nil {
		return q, err
	}
	if err := p.cache.Set(ctx, q); err != nil {
		p.logger.Warn("quote cache write failed", "symbol", symbol, "err", err)
	}
	return q, nil
}
