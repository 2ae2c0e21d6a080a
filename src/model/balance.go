package model

import (
	"sort"

	"github.com/shopspring/decimal"
)

// SettlementCurrency is the quote currency every notional is expressed in.
const SettlementCurrency = "USDT"

// Balance is the holding of one currency.
type Balance struct {
	Currency string          `json:"currency"`
	Free     decimal.Decimal `json:"free"`
	Used     decimal.Decimal `json:"used"`
	Total    decimal.Decimal `json:"total"`
}

// IsZero reports whether nothing is held.
func (b Balance) IsZero() bool {
	return b.Total.IsZero() && b.Free.IsZero() && b.Used.IsZero()
}

// BalanceSet maps upper-case currency codes to balances.
type BalanceSet map[string]Balance

// Currencies returns the keys in lexical order.
func (s BalanceSet) Currencies() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// USDTBalance is the settlement-currency view used by tools.
type USDTBalance struct {
	Available decimal.Decimal `json:"available_usdt"`
	Used      decimal.Decimal `json:"used_usdt"`
	Total     decimal.Decimal `json:"total_usdt"`
}

// NewUSDTBalance derives available as total minus used.
func NewUSDTBalance(b Balance) USDTBalance {
	return USDTBalance{
		Available: b.Total.Sub(b.Used),
		Used:      b.Used,
		Total:     b.Total,
	}
}

// MeetsMinimum reports whether the available amount covers threshold.
func (u USDTBalance) MeetsMinimum(threshold decimal.Decimal) bool {
	return u.Available.GreaterThanOrEqual(threshold)
}
