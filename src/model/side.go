package model

import (
	"fmt"
	"strings"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// OrderSide is the exchange-facing direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OpenOrderSide returns the order side that opens (or grows) a position.
func (s Side) OpenOrderSide() OrderSide {
	if s == SideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// CloseOrderSide returns the order side that reduces a position.
func (s Side) CloseOrderSide() OrderSide {
	if s == SideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// Opposite returns the other order side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ParseOrderSide accepts buy/sell in any case.
func ParseOrderSide(v string) (OrderSide, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "buy":
		return OrderSideBuy, nil
	case "sell":
		return OrderSideSell, nil
	}
	return "", fmt.Errorf("unknown order side %q", v)
}

// ParseSide accepts long/short in any case.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "long":
		return SideLong, nil
	case "short":
		return SideShort, nil
	}
	return "", fmt.Errorf("unknown position side %q", v)
}
