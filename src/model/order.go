package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the normalized lifecycle state reported by the exchange.
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusClosed   OrderStatus = "closed"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusExpired  OrderStatus = "expired"
	OrderStatusUnknown  OrderStatus = "unknown"
)

// Order is the result of a placement call. It is a snapshot and is never
// mutated or cached after it is returned.
type Order struct {
	ID            string           `json:"id"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
	Symbol        Symbol           `json:"symbol"`
	Side          OrderSide        `json:"side"`
	Type          OrderType        `json:"type"`
	Amount        decimal.Decimal  `json:"amount"`
	Price         *decimal.Decimal `json:"price"`
	Status        OrderStatus      `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
}
