package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/yourorg/finance/internal/domain"
	"github.com/yourorg/finance/internal/quotes"
	"github.com/yourorg/finance/internal/repository/sqlstore"
)

const DefaultQuoteTimeout = 5 * time.Second

// Service applies buys and sells to the ledger. Each trade commits the cash
// change, the history entry and the position change in one transaction.
type Service struct {
	db           *sqlx.DB
	userRepo     *sqlstore.UserRepo
	positionRepo *sqlstore.PositionRepo
	historyRepo  *sqlstore.HistoryRepo
	quotes       quotes.Provider
	logger       *slog.Logger

	quoteTimeout time.Duration
	now          func() time.Time
}

type Option func(*Service)

// WithQuoteTimeout bounds each quote lookup.
func WithQuoteTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.quoteTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	db *sqlx.DB,
	userRepo *sqlstore.UserRepo,
	positionRepo *sqlstore.PositionRepo,
	historyRepo *sqlstore.HistoryRepo,
	provider quotes.Provider,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		db:           db,
		userRepo:     userRepo,
		positionRepo: positionRepo,
		historyRepo:  historyRepo,
		quotes:       provider,
		logger:       logger,
		quoteTimeout: DefaultQuoteTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Quote resolves symbol through the quote provider. Unknown symbols yield
// ErrQuoteUnavailable; provider failures wrap ErrQuoteService.
func (s *Service) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	symbol = quotes.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, &ValidationError{Field: "symbol", Reason: "must provide symbol"}
	}
	ctx, cancel := context.WithTimeout(ctx, s.quoteTimeout)
	defer cancel()
	q, err := s.quotes.Lookup(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup %s: %w", ErrQuoteService, symbol, err)
	}
	if q == nil {
		return nil, ErrQuoteUnavailable
	}
	return q, nil
}

func (s *Service) Buy(ctx context.Context, userID uuid.UUID, symbol string, shares Shares) (*domain.Trade, error) {
	symbol, err := validateTrade(symbol, shares)
	if err != nil {
		return nil, err
	}

	quote, err := s.Quote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	qty := int64(shares)
	total := quote.Price.Mul(decimal.NewFromInt(qty))

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	user, err := s.userRepo.GetByIDForUpdateTx(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user.Cash.LessThan(total) {
		return nil, ErrInsufficientFunds
	}
	cashAfter := user.Cash.Sub(total)
	now := s.now().UTC()

	pos, err := s.positionRepo.GetBySymbolTx(ctx, tx, userID, symbol)
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	if pos == nil {
		pos = &domain.Position{
			UserID: userID,
			Symbol: symbol,
			Shares: qty,
			Price:  quote.Price,
			Date:   now,
			Total:  total,
			Name:   quote.Name,
		}
		if err := s.positionRepo.InsertTx(ctx, tx, pos); err != nil {
			return nil, fmt.Errorf("insert position: %w", err)
		}
	} else {
		pos.Shares += qty
		pos.Price = quote.Price
		pos.Total = quote.Price.Mul(decimal.NewFromInt(pos.Shares))
		pos.Date = now
		pos.Name = quote.Name
		if err := s.positionRepo.UpdateTx(ctx, tx, pos); err != nil {
			return nil, fmt.Errorf("update position: %w", err)
		}
	}

	entry := domain.HistoryEntry{UserID: userID, Symbol: symbol, Shares: qty, Price: quote.Price, Date: now}
	if err := s.historyRepo.InsertTx(ctx, tx, &entry); err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}
	if err := s.userRepo.UpdateCashTx(ctx, tx, userID, cashAfter); err != nil {
		return nil, fmt.Errorf("update cash: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Info("trade executed", "side", domain.SideBuy, "user_id", userID,
		"symbol", symbol, "shares", qty, "price", quote.Price.String(), "cash", cashAfter.String())

	return &domain.Trade{
		UserID:     userID,
		Side:       domain.SideBuy,
		Symbol:     symbol,
		Name:       quote.Name,
		Shares:     qty,
		Price:      quote.Price,
		Total:      total,
		CashAfter:  cashAfter,
		ExecutedAt: now,
	}, nil
}

func (s *Service) Sell(ctx context.Context, userID uuid.UUID, symbol string, shares Shares) (*domain.Trade, error) {
	symbol, err := validateTrade(symbol, shares)
	if err != nil {
		return nil, err
	}
	qty := int64(shares)

	// Reject on the current holding before spending a quote lookup; the
	// checks are repeated under the lock below.
	held, err := s.positionRepo.GetBySymbol(ctx, userID, symbol)
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	if err := checkHolding(held, qty); err != nil {
		return nil, err
	}

	quote, err := s.Quote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	proceeds := quote.Price.Mul(decimal.NewFromInt(qty)).Round(domain.CurrencyPlaces)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	user, err := s.userRepo.GetByIDForUpdateTx(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	pos, err := s.positionRepo.GetBySymbolTx(ctx, tx, userID, symbol)
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	if err := checkHolding(pos, qty); err != nil {
		return nil, err
	}
	cashAfter := user.Cash.Add(proceeds)
	now := s.now().UTC()

	remaining := pos.Shares - qty
	if remaining == 0 {
		if err := s.positionRepo.DeleteTx(ctx, tx, userID, symbol); err != nil {
			return nil, fmt.Errorf("delete position: %w", err)
		}
	} else {
		pos.Shares = remaining
		pos.Price = quote.Price
		pos.Total = quote.Price.Mul(decimal.NewFromInt(remaining))
		pos.Date = now
		if err := s.positionRepo.UpdateTx(ctx, tx, pos); err != nil {
			return nil, fmt.Errorf("update position: %w", err)
		}
	}

	entry := domain.HistoryEntry{UserID: userID, Symbol: symbol, Shares: -qty, Price: quote.Price, Date: now}
	if err := s.historyRepo.InsertTx(ctx, tx, &entry); err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}
	if err := s.userRepo.UpdateCashTx(ctx, tx, userID, cashAfter); err != nil {
		return nil, fmt.Errorf("update cash: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Info("trade executed", "side", domain.SideSell, "user_id", userID,
		"symbol", symbol, "shares", qty, "price", quote.Price.String(), "cash", cashAfter.String())

	return &domain.Trade{
		UserID:     userID,
		Side:       domain.SideSell,
		Symbol:     symbol,
		Name:       quote.Name,
		Shares:     qty,
		Price:      quote.Price,
		Total:      proceeds,
		CashAfter:  cashAfter,
		ExecutedAt: now,
	}, nil
}

func checkHolding(pos *domain.Position, qty int64) error {
	if pos == nil || pos.Shares <= 0 {
		return ErrNoSuchSymbol
	}
	if qty > pos.Shares {
		return ErrInsufficientShares
	}
	return nil
}
