package sqlstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/yourorg/finance/internal/domain"
)

type HistoryRepo struct {
	db *sqlx.DB
}

func NewHistoryRepo(db *sqlx.DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

func (r *HistoryRepo) InsertTx(ctx context.Context, tx *sqlx.Tx, e *domain.HistoryEntry) error {
	return tx.QueryRowxContext(ctx, tx.Rebind(`
		INSERT INTO history (user_id, symbol, shares, price, date)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`),
		e.UserID, e.Symbol, e.Shares, e.Price, e.Date).
		Scan(&e.ID)
}

// GetByUserID returns the user's trades oldest first.
func (r *HistoryRepo) GetByUserID(ctx context.Context, userID uuid.UUID) ([]domain.HistoryEntry, error) {
	var entries []domain.HistoryEntry
	err := r.db.SelectContext(ctx, &entries,
		r.db.Rebind(`SELECT id, user_id, symbol, shares, price, date FROM history WHERE user_id = ? ORDER BY id`),
		userID)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// NetShares sums the signed history of symbol for the user.
func (r *HistoryRepo) NetShares(ctx context.Context, userID uuid.UUID, symbol string) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n,
		r.db.Rebind(`SELECT COALESCE(SUM(shares), 0) FROM history WHERE user_id = ? AND symbol = ?`),
		userID, symbol)
	return n, err
}
