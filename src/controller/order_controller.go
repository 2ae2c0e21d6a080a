package controller

import (
	"context"
	"time"

	"tradingmcp/src/exception"
	"tradingmcp/src/model"
	"tradingmcp/src/service"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// tradingExchange is the adapter surface the tools drive.
type tradingExchange interface {
	Market(symbol model.Symbol) (model.Market, bool)
	FetchTicker(ctx context.Context, symbol model.Symbol) (model.Ticker, error)
	PlaceMarketOrder(ctx context.Context, symbol model.Symbol, side model.OrderSide, qty decimal.Decimal) (model.Order, error)
	PlaceLimitOrder(ctx context.Context, symbol model.Symbol, side model.OrderSide, qty, price decimal.Decimal) (model.Order, error)
	FetchOpenPositions(ctx context.Context, symbol *model.Symbol) ([]model.Position, error)
	CloseAllPositions(ctx context.Context, symbol model.Symbol) (model.CloseResult, error)
}

type balanceReader interface {
	GetFormattedBalance(ctx context.Context) (service.BalanceSummary, error)
}

// ToolController validates tool inputs and runs each call under its own
// deadline. It holds no per-call state.
type ToolController struct {
	exchange tradingExchange
	balances balanceReader
	timeout  time.Duration
}

func NewToolController(exchange tradingExchange, balances balanceReader, timeout time.Duration) *ToolController {
	return &ToolController{exchange: exchange, balances: balances, timeout: timeout}
}

func (c *ToolController) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// market resolves a raw symbol against the loaded market table.
func (c *ToolController) market(raw string) (model.Market, error) {
	symbol, err := model.ParseSymbol(raw)
	if err != nil {
		return model.Market{}, exception.Validation("%v", err)
	}
	m, ok := c.exchange.Market(symbol)
	if !ok {
		return model.Market{}, exception.Validation("symbol %s is not traded on this exchange", symbol)
	}
	return m, nil
}

// quantityFor converts a USDT notional into a base quantity at price.
func quantityFor(m model.Market, usdt, price decimal.Decimal) (decimal.Decimal, error) {
	qty := m.AmountToPrecision(usdt.Div(price))
	if err := m.CheckQuantity(qty, price); err != nil {
		return decimal.Zero, exception.Validation("%s USDT at %s: %v", usdt, price, err)
	}
	return qty, nil
}

func (c *ToolController) openMarket(ctx context.Context, op string, side model.Side, rawSymbol string, usdtAmount float64) (model.Order, error) {
	usdt, err := positiveAmount("usdt_amount", usdtAmount)
	if err != nil {
		return model.Order{}, exception.WithContext(err, op, rawSymbol)
	}
	m, err := c.market(rawSymbol)
	if err != nil {
		return model.Order{}, exception.WithContext(err, op, rawSymbol)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	ticker, err := c.exchange.FetchTicker(ctx, m.Symbol)
	if err != nil {
		return model.Order{}, exception.WithContext(err, op, m.Symbol.String())
	}
	qty, err := quantityFor(m.ForMarketOrder(), usdt, ticker.Last)
	if err != nil {
		return model.Order{}, exception.WithContext(err, op, m.Symbol.String())
	}

	logger.WithFields(map[string]interface{}{
		"tool":        op,
		"symbol":      m.Symbol.String(),
		"usdt_amount": usdt.String(),
		"last":        ticker.Last.String(),
		"qty":         qty.String(),
	}).Info("Placing market order")

	order, err := c.exchange.PlaceMarketOrder(ctx, m.Symbol, side.OpenOrderSide(), qty)
	if err != nil {
		return model.Order{}, exception.WithContext(err, op, m.Symbol.String())
	}
	return order, nil
}

func (c *ToolController) openLimit(ctx context.Context, op string, side model.Side, rawSymbol string, usdtAmount, limitPrice float64) (model.Order, error) {
	usdt, err := positiveAmount("usdt_amount", usdtAmount)
	if err != nil {
		return model.Order{}, exception.WithContext(err, op, rawSymbol)
	}
	price, err := positiveAmount("price", limitPrice)
	if err != nil {
		return model.Order{}, exception.WithContext(err, op, rawSymbol)
	}
	m, err := c.market(rawSymbol)
	if err != nil {
		return model.Order{}, exception.WithContext(err, op, rawSymbol)
	}
	qty, err := quantityFor(m, usdt, price)
	if err != nil {
		return model.Order{}, exception.WithContext(err, op, m.Symbol.String())
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	logger.WithFields(map[string]interface{}{
		"tool":        op,
		"symbol":      m.Symbol.String(),
		"usdt_amount": usdt.String(),
		"price":       price.String(),
		"qty":         qty.String(),
	}).Info("Placing limit order")

	order, err := c.exchange.PlaceLimitOrder(ctx, m.Symbol, side.OpenOrderSide(), qty, price)
	if err != nil {
		return model.Order{}, exception.WithContext(err, op, m.Symbol.String())
	}
	return order, nil
}

// OpenMarketLong buys usdtAmount worth of symbol at market.
func (c *ToolController) OpenMarketLong(ctx context.Context, symbol string, usdtAmount float64) (model.Order, error) {
	return c.openMarket(ctx, ToolOpenMarketLong, model.SideLong, symbol, usdtAmount)
}

// OpenMarketShort sells usdtAmount worth of symbol at market.
func (c *ToolController) OpenMarketShort(ctx context.Context, symbol string, usdtAmount float64) (model.Order, error) {
	return c.openMarket(ctx, ToolOpenMarketShort, model.SideShort, symbol, usdtAmount)
}

func (c *ToolController) OpenLimitLong(ctx context.Context, symbol string, usdtAmount, price float64) (model.Order, error) {
	return c.openLimit(ctx, ToolOpenLimitLong, model.SideLong, symbol, usdtAmount, price)
}

func (c *ToolController) OpenLimitShort(ctx context.Context, symbol string, usdtAmount, price float64) (model.Order, error) {
	return c.openLimit(ctx, ToolOpenLimitShort, model.SideShort, symbol, usdtAmount, price)
}

// ClosePosition closes every open position on symbol and reports each outcome.
func (c *ToolController) ClosePosition(ctx context.Context, symbol string) (model.CloseResult, error) {
	m, err := c.market(symbol)
	if err != nil {
		return model.CloseResult{}, exception.WithContext(err, ToolClosePosition, symbol)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	result, err := c.exchange.CloseAllPositions(ctx, m.Symbol)
	if err != nil {
		return model.CloseResult{}, exception.WithContext(err, ToolClosePosition, m.Symbol.String())
	}

	logger.WithFields(map[string]interface{}{
		"symbol": m.Symbol.String(),
		"status": result.Status,
		"closed": len(result.Closed),
		"failed": len(result.Failed),
	}).Info("Close position finished")
	return result, nil
}

func (c *ToolController) GetBalance(ctx context.Context) (service.BalanceSummary, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	summary, err := c.balances.GetFormattedBalance(ctx)
	if err != nil {
		return service.BalanceSummary{}, exception.WithContext(err, ToolGetBalance, "")
	}
	return summary, nil
}

// GetPositions lists open positions, optionally for one symbol only.
func (c *ToolController) GetPositions(ctx context.Context, symbol string) ([]model.Position, error) {
	var filter *model.Symbol
	if symbol != "" {
		m, err := c.market(symbol)
		if err != nil {
			return nil, exception.WithContext(err, ToolGetPositions, symbol)
		}
		filter = &m.Symbol
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	positions, err := c.exchange.FetchOpenPositions(ctx, filter)
	if err != nil {
		return nil, exception.WithContext(err, ToolGetPositions, symbol)
	}
	if positions == nil {
		positions = []model.Position{}
	}
	return positions, nil
}
