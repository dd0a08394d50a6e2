package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/yourorg/finance/internal/domain"
)

var ErrUserNotFound = errors.New("user not found")

const userColumns = `id, username, hash, cash, created_at`

type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO users (id, username, hash, cash, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		u.ID, u.Username, u.Hash, u.Cash, u.CreatedAt)
	return err
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	err := r.db.GetContext(ctx, &u,
		r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE username = ?`), username)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := r.db.GetContext(ctx, &u,
		r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// GetByIDForUpdateTx reads the user row and, on PostgreSQL, locks it until
// tx ends. Every cash mutation for the user goes through this lock.
func (r *UserRepo) GetByIDForUpdateTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := tx.GetContext(ctx, &u,
		tx.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`+forUpdate(tx)), id)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *UserRepo) UpdateCashTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, cash decimal.Decimal) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE users SET cash = ? WHERE id = ?`), cash, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("update cash: %w", ErrUserNotFound)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	return err
}
