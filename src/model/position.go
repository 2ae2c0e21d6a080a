package model

import "github.com/shopspring/decimal"

// Position is a read-only snapshot of an open position. Size is always
// positive; the direction lives in Side.
type Position struct {
	Symbol        Symbol           `json:"symbol"`
	Side          Side             `json:"side"`
	Size          decimal.Decimal  `json:"size"`
	EntryPrice    decimal.Decimal  `json:"entry_price"`
	UnrealizedPnl decimal.Decimal  `json:"unrealized_pnl"`
	Leverage      *decimal.Decimal `json:"leverage"`
}

// CloseStatus summarizes a close-all attempt.
type CloseStatus string

const (
	CloseStatusNoPositions     CloseStatus = "no_positions"
	CloseStatusFullyClosed     CloseStatus = "fully_closed"
	CloseStatusPartiallyClosed CloseStatus = "partially_closed"
	CloseStatusNoneClosed      CloseStatus = "none_closed"
)

// CloseFailure records one position that could not be closed.
type CloseFailure struct {
	Symbol Symbol          `json:"symbol"`
	Side   Side            `json:"side"`
	Size   decimal.Decimal `json:"size"`
	Kind   string          `json:"kind"`
	Reason string          `json:"reason"`
}

// CloseResult aggregates per-position outcomes of a close-all call.
type CloseResult struct {
	Symbol Symbol         `json:"symbol"`
	Status CloseStatus    `json:"status"`
	Closed []Order        `json:"closed"`
	Failed []CloseFailure `json:"failed"`
}

// NewCloseResult builds the aggregate and derives its status.
func NewCloseResult(symbol Symbol, closed []Order, failed []CloseFailure) CloseResult {
	if closed == nil {
		closed = []Order{}
	}
	if failed == nil {
		failed = []CloseFailure{}
	}

	status := CloseStatusNoPositions
	switch {
	case len(closed) > 0 && len(failed) == 0:
		status = CloseStatusFullyClosed
	case len(closed) > 0:
		status = CloseStatusPartiallyClosed
	case len(failed) > 0:
		status = CloseStatusNoneClosed
	}

	return CloseResult{Symbol: symbol, Status: status, Closed: closed, Failed: failed}
}
