package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourorg/finance/internal/domain"
)

const DefaultIEXBaseURL = "https://cloud.iexapis.com/stable"

// IEXClient looks up quotes from an IEX Cloud compatible REST API.
type IEXClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewIEXClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *IEXClient {
	if baseURL == "" {
		baseURL = DefaultIEXBaseURL
	}
	return &IEXClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type iexQuote struct {
	Symbol      string           `json:"symbol"`
	CompanyName string           `json:"companyName"`
	LatestPrice *decimal.Decimal `json:"latestPrice"`
}

// Lookup returns nil, nil when the API does not know symbol.
func (c *IEXClient) Lookup(ctx context.Context, symbol string) (*domain.Quote, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, nil
	}
	endpoint := fmt.Sprintf("%s/stock/%s/quote?token=%s",
		c.baseURL, url.PathEscape(symbol), url.QueryEscape(c.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("quote api error", "symbol", symbol, "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("quote api: unexpected status %d", resp.StatusCode)
	}

	var q iexQuote
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	if q.Symbol == "" || q.LatestPrice == nil || !q.LatestPrice.IsPositive() {
		return nil, nil
	}
	return &domain.Quote{
		Symbol: strings.ToUpper(q.Symbol),
		Name:   q.CompanyName,
		Price:  *q.LatestPrice,
	}, nil
}
