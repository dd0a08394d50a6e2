package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/yourorg/finance/internal/domain"
)

const positionColumns = `id, user_id, symbol, shares, price, date, total, name`

// PositionRepo reads and writes the transactions table, one row per held
// symbol per user.
type PositionRepo struct {
	db *sqlx.DB
}

func NewPositionRepo(db *sqlx.DB) *PositionRepo {
	return &PositionRepo{db: db}
}

func (r *PositionRepo) GetByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Position, error) {
	var positions []domain.Position
	err := r.db.SelectContext(ctx, &positions,
		r.db.Rebind(`SELECT `+positionColumns+` FROM transactions WHERE user_id = ? ORDER BY symbol`), userID)
	if err != nil {
		return nil, err
	}
	return positions, nil
}

// GetBySymbol returns nil, nil when the user holds no position in symbol.
func (r *PositionRepo) GetBySymbol(ctx context.Context, userID uuid.UUID, symbol string) (*domain.Position, error) {
	return getBySymbol(ctx, r.db, userID, symbol)
}

func (r *PositionRepo) GetBySymbolTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, symbol string) (*domain.Position, error) {
	return getBySymbol(ctx, tx, userID, symbol)
}

func getBySymbol(ctx context.Context, q sqlx.QueryerContext, userID uuid.UUID, symbol string) (*domain.Position, error) {
	var p domain.Position
	err := sqlx.GetContext(ctx, q, &p,
		sqlx.Rebind(bindTypeOf(q), `SELECT `+positionColumns+` FROM transactions WHERE user_id = ? AND symbol = ?`),
		userID, symbol)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *PositionRepo) InsertTx(ctx context.Context, tx *sqlx.Tx, p *domain.Position) error {
	return tx.QueryRowxContext(ctx, tx.Rebind(`
		INSERT INTO transactions (user_id, symbol, shares, price, date, total, name)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		p.UserID, p.Symbol, p.Shares, p.Price, p.Date, p.Total, p.Name).
		Scan(&p.ID)
}

func (r *PositionRepo) UpdateTx(ctx context.Context, tx *sqlx.Tx, p *domain.Position) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE transactions
		SET shares = ?, price = ?, date = ?, total = ?, name = ?
		WHERE user_id = ? AND symbol = ?`),
		p.Shares, p.Price, p.Date, p.Total, p.Name, p.UserID, p.Symbol)
	return err
}

func (r *PositionRepo) DeleteTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, symbol string) error {
	_, err := tx.ExecContext(ctx,
		tx.Rebind(`DELETE FROM transactions WHERE user_id = ? AND symbol = ?`),
		userID, symbol)
	return err
}

func bindTypeOf(q sqlx.QueryerContext) int {
	if ext, ok := q.(interface{ DriverName() string }); ok {
		return sqlx.BindType(ext.DriverName())
	}
	return sqlx.QUESTION
}
