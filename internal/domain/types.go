package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

type User struct {
	ID        uuid.UUID       `db:"id"         json:"id"`
	Username  string          `db:"username"   json:"username"`
	Hash      string          `db:"hash"       json:"-"`
	Cash      decimal.Decimal `db:"cash"       json:"cash"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Position is a user's current net holding of one symbol. It is stored in
// the transactions table.
type Position struct {
	ID     int64           `db:"id"      json:"-"`
	UserID uuid.UUID       `db:"user_id" json:"user_id"`
	Symbol string          `db:"symbol"  json:"symbol"`
	Shares int64           `db:"shares"  json:"shares"`
	Price  decimal.Decimal `db:"price"   json:"price"`
	Date   time.Time       `db:"date"    json:"date"`
	Total  decimal.Decimal `db:"total"   json:"total"`
	Name   string          `db:"name"    json:"name"`
}

// HistoryEntry records one executed trade. Shares is negative for sells.
type HistoryEntry struct {
	ID     int64           `db:"id"      json:"id"`
	UserID uuid.UUID       `db:"user_id" json:"user_id"`
	Symbol string          `db:"symbol"  json:"symbol"`
	Shares int64           `db:"shares"  json:"shares"`
	Price  decimal.Decimal `db:"price"   json:"price"`
	Date   time.Time       `db:"date"    json:"date"`
}

type Quote struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
}

// Trade is the outcome of an executed buy or sell.
type Trade struct {
	UserID     uuid.UUID       `json:"user_id"`
	Side       TradeSide       `json:"side"`
	Symbol     string          `json:"symbol"`
	Name       string          `json:"name"`
	Shares     int64           `json:"shares"`
	Price      decimal.Decimal `json:"price"`
	Total      decimal.Decimal `json:"total"`
	CashAfter  decimal.Decimal `json:"cash_after"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// Holdings is the portfolio view: open positions, cash and their sum.
type Holdings struct {
	Positions  []Position      `json:"positions"`
	Cash       decimal.Decimal `json:"cash"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

func NewHoldings(positions []Position, cash decimal.Decimal) Holdings {
	total := cash
	for _, p := range positions {
		total = total.Add(p.Total)
	}
	if positions == nil {
		positions = []Position{}
	}
	return Holdings{Positions: positions, Cash: cash, GrandTotal: total}
}
