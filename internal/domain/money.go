package domain

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// CurrencyPlaces is the precision cash balances are rounded to.
const CurrencyPlaces = 2

// USD formats an amount as US dollars, e.g. $10,000.00.
func USD(d decimal.Decimal) string {
	cents := d.Round(CurrencyPlaces).Shift(CurrencyPlaces).IntPart()
	return money.New(cents, money.USD).Display()
}
