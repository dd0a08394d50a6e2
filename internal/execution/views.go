package execution

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/yourorg/finance/internal/domain"
)

func (s *Service) Holdings(ctx context.Context, userID uuid.UUID) (domain.Holdings, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return domain.Holdings{}, fmt.Errorf("get user: %w", err)
	}
	positions, err := s.positionRepo.GetByUserID(ctx, userID)
	if err != nil {
		return domain.Holdings{}, fmt.Errorf("get positions: %w", err)
	}
	return domain.NewHoldings(positions, user.Cash), nil
}

func (s *Service) History(ctx context.Context, userID uuid.UUID) ([]domain.HistoryEntry, error) {
	entries, err := s.historyRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return entries, nil
}

// HeldSymbols lists the symbols the user can sell.
func (s *Service) HeldSymbols(ctx context.Context, userID uuid.UUID) ([]string, error) {
	positions, err := s.positionRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.Symbol)
	}
	return symbols, nil
}

// Mismatch is a held position whose share count disagrees with the sum of
// its history.
type Mismatch struct {
	Symbol        string `json:"symbol"`
	Shares        int64  `json:"shares"`
	HistoryShares int64  `json:"history_shares"`
}

// Audit compares every open position of the user against its history.
func (s *Service) Audit(ctx context.Context, userID uuid.UUID) ([]Mismatch, error) {
	positions, err := s.positionRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	var mismatches []Mismatch
	for _, p := range positions {
		n, err := s.historyRepo.NetShares(ctx, userID, p.Symbol)
		if err != nil {
			return nil, fmt.Errorf("sum history %s: %w", p.Symbol, err)
		}
		if n != p.Shares {
			mismatches = append(mismatches, Mismatch{Symbol: p.Symbol, Shares: p.Shares, HistoryShares: n})
		}
	}
	return mismatches, nil
}
