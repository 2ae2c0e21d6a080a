package connectors

import (
	"encoding/json"

	"tradingmcp/src/exception"
	"tradingmcp/src/model"

	"github.com/shopspring/decimal"
)

// binanceExchangeInfo is the part of /exchangeInfo shared by spot and USDT-M.
type binanceExchangeInfo struct {
	Symbols []struct {
		Symbol       string          `json:"symbol"`
		Status       string          `json:"status"`
		BaseAsset    string          `json:"baseAsset"`
		QuoteAsset   string          `json:"quoteAsset"`
		ContractType string          `json:"contractType"`
		Filters      []binanceFilter `json:"filters"`
	} `json:"symbols"`
}

type binanceFilter struct {
	FilterType  string `json:"filterType"`
	MinPrice    string `json:"minPrice"`
	MaxPrice    string `json:"maxPrice"`
	TickSize    string `json:"tickSize"`
	StepSize    string `json:"stepSize"`
	MinQty      string `json:"minQty"`
	Notional    string `json:"notional"`
	MinNotional string `json:"minNotional"`
}

// parseBinanceMarkets keeps trading symbols. With perpetualOnly, dated
// futures are skipped so BTC/USDT always means the perpetual.
func parseBinanceMarkets(body []byte, perpetualOnly bool) ([]model.Market, error) {
	var info binanceExchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, exception.Response(err, "malformed exchangeInfo")
	}

	markets := make([]model.Market, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		if perpetualOnly && s.ContractType != "PERPETUAL" {
			continue
		}
		if s.BaseAsset == "" || s.QuoteAsset == "" {
			continue
		}

		m := model.Market{
			Symbol:   model.Symbol{Base: s.BaseAsset, Quote: s.QuoteAsset},
			NativeID: s.Symbol,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				m.TickSize = lenientDecimal(f.TickSize)
				m.MinPrice = lenientDecimal(f.MinPrice)
				m.MaxPrice = lenientDecimal(f.MaxPrice)
			case "LOT_SIZE":
				m.StepSize = lenientDecimal(f.StepSize)
				m.MinQty = lenientDecimal(f.MinQty)
			case "MARKET_LOT_SIZE":
				m.MarketStepSize = lenientDecimal(f.StepSize)
				m.MarketMinQty = lenientDecimal(f.MinQty)
			case "MIN_NOTIONAL", "NOTIONAL":
				if f.Notional != "" {
					m.MinNotional = lenientDecimal(f.Notional)
				} else {
					m.MinNotional = lenientDecimal(f.MinNotional)
				}
			}
		}
		markets = append(markets, m)
	}

	if len(markets) == 0 {
		return nil, exception.Response(nil, "exchangeInfo lists no tradable symbols")
	}
	return markets, nil
}

// lenientDecimal reads an optional rule; an unreadable rule means no rule.
func lenientDecimal(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func binanceOrderStatus(status string) model.OrderStatus {
	switch status {
	case "NEW", "PARTIALLY_FILLED":
		return model.OrderStatusOpen
	case "FILLED":
		return model.OrderStatusClosed
	case "CANCELED", "PENDING_CANCEL":
		return model.OrderStatusCanceled
	case "REJECTED":
		return model.OrderStatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return model.OrderStatusExpired
	}
	return model.OrderStatusUnknown
}

func binanceSide(side model.OrderSide) string {
	if side == model.OrderSideSell {
		return "SELL"
	}
	return "BUY"
}
