package execution

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/yourorg/finance/internal/quotes"
)

var (
	ErrQuoteUnavailable   = errors.New("invalid symbol")
	ErrQuoteService       = errors.New("quote service unavailable")
	ErrNoSuchSymbol       = errors.New("no shares held for symbol")
	ErrInsufficientFunds  = errors.New("not enough cash")
	ErrInsufficientShares = errors.New("not enough shares")
)

// ValidationError reports malformed input rejected before any lookup or
// mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Shares is a validated, strictly positive whole number of shares.
type Shares int64

// ParseShares parses user input such as a form field. Empty, non-numeric,
// fractional, zero and negative values are rejected.
func ParseShares(s string) (Shares, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, &ValidationError{Field: "shares", Reason: "must provide number of shares"}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, &ValidationError{Field: "shares", Reason: "must provide a positive whole number of shares"}
	}
	return Shares(n), nil
}

func validateTrade(symbol string, shares Shares) (string, error) {
	symbol = quotes.NormalizeSymbol(symbol)
	if symbol == "" {
		return "", &ValidationError{Field: "symbol", Reason: "must provide symbol"}
	}
	if shares <= 0 {
		return "", &ValidationError{Field: "shares", Reason: "must provide a positive whole number of shares"}
	}
	return symbol, nil
}
