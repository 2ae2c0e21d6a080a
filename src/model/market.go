package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// defaultQuantityPlaces is used when a market publishes no step size.
const defaultQuantityPlaces = 8

// Market holds the trading rules of one symbol. Zero values mean "no rule".
type Market struct {
	Symbol      Symbol          `json:"symbol"`
	NativeID    string          `json:"native_id"`
	TickSize    decimal.Decimal `json:"tick_size"`
	StepSize    decimal.Decimal `json:"step_size"`
	MinQty      decimal.Decimal `json:"min_qty"`
	MinNotional decimal.Decimal `json:"min_notional"`
	MinPrice    decimal.Decimal `json:"min_price"`
	MaxPrice    decimal.Decimal `json:"max_price"`

	// MARKET orders may follow their own lot rules
	MarketStepSize decimal.Decimal `json:"market_step_size"`
	MarketMinQty   decimal.Decimal `json:"market_min_qty"`
}

// ForMarketOrder returns the rules that apply to a MARKET order.
func (m Market) ForMarketOrder() Market {
	if m.MarketStepSize.IsPositive() {
		m.StepSize = m.MarketStepSize
	}
	if m.MarketMinQty.IsPositive() {
		m.MinQty = m.MarketMinQty
	}
	return m
}

// AmountToPrecision floors qty to the step size so the order never exceeds
// the requested notional.
func (m Market) AmountToPrecision(qty decimal.Decimal) decimal.Decimal {
	if m.StepSize.IsPositive() {
		return qty.Div(m.StepSize).Floor().Mul(m.StepSize)
	}
	return qty.Truncate(defaultQuantityPlaces)
}

// CheckPrice returns a descriptive error when price breaks the market rules.
func (m Market) CheckPrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("price %s must be positive", price)
	}
	if m.MinPrice.IsPositive() && price.LessThan(m.MinPrice) {
		return fmt.Errorf("price %s is below the minimum %s", price, m.MinPrice)
	}
	if m.MaxPrice.IsPositive() && price.GreaterThan(m.MaxPrice) {
		return fmt.Errorf("price %s is above the maximum %s", price, m.MaxPrice)
	}
	if m.TickSize.IsPositive() && !price.Mod(m.TickSize).IsZero() {
		return fmt.Errorf("price %s is not a multiple of the tick size %s", price, m.TickSize)
	}
	return nil
}

// CheckQuantity returns a descriptive error when qty (priced at price) is
// below the market minimums.
func (m Market) CheckQuantity(qty, price decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("quantity rounds to zero at step size %s", m.StepSize)
	}
	if m.MinQty.IsPositive() && qty.LessThan(m.MinQty) {
		return fmt.Errorf("quantity %s is below the minimum %s", qty, m.MinQty)
	}
	if m.MinNotional.IsPositive() && price.IsPositive() && qty.Mul(price).LessThan(m.MinNotional) {
		return fmt.Errorf("notional %s is below the minimum %s", qty.Mul(price), m.MinNotional)
	}
	return nil
}

// Ticker is the latest price snapshot of a symbol.
type Ticker struct {
	Symbol    Symbol          `json:"symbol"`
	Last      decimal.Decimal `json:"last"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp time.Time       `json:"timestamp"`
}
