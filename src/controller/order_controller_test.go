package controller

// Test index:
// - TestOpenMarketLongSizesFromTicker: 50 USDT at 25000 becomes a 0.002 market buy
// - TestOpenMarketShortUsesSell: short side maps to a sell order
// - TestOpenLimitSizesFromPrice: limit quantity derives from the limit price
// - TestValidationHappensBeforeExchangeCalls: bad inputs never reach the exchange
// - TestQuantityBelowMinimum: rounding to zero or under min notional is a validation error
// - TestMarketOrdersUseMarketLotRules: market sizing follows the market lot step, limits keep the regular one
// - TestClosePositionNoPositions: empty closed and failed lists
// - TestErrorsKeepKind: adapter errors reach the caller with the same kind and retry flag
// - TestToolTimeoutApplied: every call carries a deadline
// - TestInvokeDispatch: loosely typed arguments reach the right operation
// - TestInvokeRecoversPanics: a panicking adapter becomes an error result

import (
	"context"
	"testing"
	"time"

	"tradingmcp/src/exception"
	"tradingmcp/src/model"
	"tradingmcp/src/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type placedOrder struct {
	symbol model.Symbol
	side   model.OrderSide
	qty    decimal.Decimal
	price  decimal.Decimal
	limit  bool
}

type fakeExchange struct {
	markets map[string]model.Market
	last    decimal.Decimal

	tickerErr error
	placeErr  error
	closeErr  error
	panicOn   string

	positions []model.Position
	result    *model.CloseResult

	tickerCalls int
	placed      []placedOrder
	closed      []model.Symbol
	deadlines   []bool
}

func newFakeExchange() *fakeExchange {
	btc := model.MustParseSymbol("BTC/USDT")
	return &fakeExchange{
		markets: map[string]model.Market{
			btc.String(): {
				Symbol:      btc,
				NativeID:    "BTCUSDT",
				TickSize:    decimal.RequireFromString("0.1"),
				StepSize:    decimal.RequireFromString("0.001"),
				MinQty:      decimal.RequireFromString("0.001"),
				MinNotional: decimal.RequireFromString("5"),
			},
		},
		last: decimal.NewFromInt(25000),
	}
}

func (f *fakeExchange) seen(ctx context.Context) {
	_, ok := ctx.Deadline()
	f.deadlines = append(f.deadlines, ok)
}

func (f *fakeExchange) Market(symbol model.Symbol) (model.Market, bool) {
	m, ok := f.markets[symbol.String()]
	return m, ok
}

func (f *fakeExchange) FetchTicker(ctx context.Context, symbol model.Symbol) (model.Ticker, error) {
	f.seen(ctx)
	f.tickerCalls++
	if f.panicOn == "ticker" {
		panic("ticker exploded")
	}
	return model.Ticker{Symbol: symbol, Last: f.last}, f.tickerErr
}

func (f *fakeExchange) PlaceMarketOrder(ctx context.Context, symbol model.Symbol, side model.OrderSide, qty decimal.Decimal) (model.Order, error) {
	f.seen(ctx)
	f.placed = append(f.placed, placedOrder{symbol: symbol, side: side, qty: qty})
	if f.placeErr != nil {
		return model.Order{}, f.placeErr
	}
	return model.Order{ID: "1", Symbol: symbol, Side: side, Type: model.OrderTypeMarket, Amount: qty, Status: model.OrderStatusClosed}, nil
}

func (f *fakeExchange) PlaceLimitOrder(ctx context.Context, symbol model.Symbol, side model.OrderSide, qty, price decimal.Decimal) (model.Order, error) {
	f.seen(ctx)
	f.placed = append(f.placed, placedOrder{symbol: symbol, side: side, qty: qty, price: price, limit: true})
	if f.placeErr != nil {
		return model.Order{}, f.placeErr
	}
	return model.Order{ID: "2", Symbol: symbol, Side: side, Type: model.OrderTypeLimit, Amount: qty, Price: &price, Status: model.OrderStatusOpen}, nil
}

func (f *fakeExchange) FetchOpenPositions(ctx context.Context, symbol *model.Symbol) ([]model.Position, error) {
	f.seen(ctx)
	if symbol == nil {
		return f.positions, nil
	}
	var out []model.Position
	for _, p := range f.positions {
		if p.Symbol == *symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeExchange) CloseAllPositions(ctx context.Context, symbol model.Symbol) (model.CloseResult, error) {
	f.seen(ctx)
	f.closed = append(f.closed, symbol)
	if f.closeErr != nil {
		return model.CloseResult{}, f.closeErr
	}
	if f.result != nil {
		return *f.result, nil
	}
	return model.NewCloseResult(symbol, nil, nil), nil
}

type fakeBalances struct {
	summary service.BalanceSummary
	err     error
}

func (f *fakeBalances) GetFormattedBalance(context.Context) (service.BalanceSummary, error) {
	return f.summary, f.err
}

func newTestController(ex *fakeExchange) *ToolController {
	return NewToolController(ex, &fakeBalances{}, time.Second)
}

func TestOpenMarketLongSizesFromTicker(t *testing.T) {
	ex := newFakeExchange()
	c := newTestController(ex)

	order, err := c.OpenMarketLong(context.Background(), "BTCUSDT", 50)
	require.NoError(t, err)
	assert.Equal(t, "1", order.ID)

	require.Len(t, ex.placed, 1)
	assert.Equal(t, "BTC/USDT", ex.placed[0].symbol.String())
	assert.Equal(t, model.OrderSideBuy, ex.placed[0].side)
	assert.Equal(t, "0.002", ex.placed[0].qty.String())
	assert.False(t, ex.placed[0].limit)
}

func TestOpenMarketShortUsesSell(t *testing.T) {
	ex := newFakeExchange()
	ex.last = decimal.NewFromInt(30000)
	c := newTestController(ex)

	_, err := c.OpenMarketShort(context.Background(), "btc/usdt", 100)
	require.NoError(t, err)
	require.Len(t, ex.placed, 1)
	assert.Equal(t, model.OrderSideSell, ex.placed[0].side)
	// 100 / 30000 = 0.00333.. floored to the step
	assert.Equal(t, "0.003", ex.placed[0].qty.String())
}

func TestOpenLimitSizesFromPrice(t *testing.T) {
	ex := newFakeExchange()
	c := newTestController(ex)

	order, err := c.OpenLimitShort(context.Background(), "BTC/USDT", 48, 24000)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusOpen, order.Status)
	assert.Zero(t, ex.tickerCalls)

	require.Len(t, ex.placed, 1)
	assert.True(t, ex.placed[0].limit)
	assert.Equal(t, model.OrderSideSell, ex.placed[0].side)
	assert.Equal(t, "0.002", ex.placed[0].qty.String())
	assert.Equal(t, "24000", ex.placed[0].price.String())
}

func TestValidationHappensBeforeExchangeCalls(t *testing.T) {
	ex := newFakeExchange()
	c := newTestController(ex)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"negative price", func() error { _, err := c.OpenLimitLong(ctx, "BTC/USDT", 50, -1); return err }},
		{"zero amount", func() error { _, err := c.OpenMarketLong(ctx, "BTC/USDT", 0); return err }},
		{"empty symbol", func() error { _, err := c.OpenMarketShort(ctx, "", 50); return err }},
		{"unparseable symbol", func() error { _, err := c.OpenMarketLong(ctx, "???", 50); return err }},
		{"unknown market", func() error { _, err := c.OpenMarketLong(ctx, "DOGE/USDT", 50); return err }},
		{"close unknown market", func() error { _, err := c.ClosePosition(ctx, "ETH/USDT"); return err }},
	}
	for _, tt := range tests {
		err := tt.call()
		if exception.KindOf(err) != exception.KindValidation {
			t.Fatalf("%s: expected validation error, got %v", tt.name, err)
		}
	}

	assert.Zero(t, ex.tickerCalls)
	assert.Empty(t, ex.placed)
	assert.Empty(t, ex.closed)
}

func TestQuantityBelowMinimum(t *testing.T) {
	ex := newFakeExchange()
	c := newTestController(ex)

	// 10 USDT at 25000 is 0.0004, floored to zero
	_, err := c.OpenMarketLong(context.Background(), "BTC/USDT", 10)
	assert.Equal(t, exception.KindValidation, exception.KindOf(err))

	// 0.001 at 2000 is 2 USDT, under the 5 USDT minimum notional
	_, err = c.OpenLimitLong(context.Background(), "BTC/USDT", 2, 2000)
	assert.Equal(t, exception.KindValidation, exception.KindOf(err))

	assert.Empty(t, ex.placed)
}

func TestMarketOrdersUseMarketLotRules(t *testing.T) {
	ex := newFakeExchange()
	btc := ex.markets["BTC/USDT"]
	btc.MarketStepSize = decimal.RequireFromString("0.01")
	btc.MarketMinQty = decimal.RequireFromString("0.01")
	ex.markets["BTC/USDT"] = btc
	c := newTestController(ex)
	ctx := context.Background()

	// 290 / 25000 = 0.0116
	_, err := c.OpenMarketLong(ctx, "BTC/USDT", 290)
	require.NoError(t, err)
	_, err = c.OpenLimitLong(ctx, "BTC/USDT", 290, 25000)
	require.NoError(t, err)

	require.Len(t, ex.placed, 2)
	assert.Equal(t, "0.01", ex.placed[0].qty.String())
	assert.Equal(t, "0.011", ex.placed[1].qty.String())

	// 0.008 passes LOT_SIZE but floors to zero at the market step
	_, err = c.OpenMarketShort(ctx, "BTC/USDT", 200)
	assert.Equal(t, exception.KindValidation, exception.KindOf(err))
	assert.Len(t, ex.placed, 2)
}

func TestClosePositionNoPositions(t *testing.T) {
	ex := newFakeExchange()
	c := newTestController(ex)

	result, err := c.ClosePosition(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, model.CloseStatusNoPositions, result.Status)
	assert.NotNil(t, result.Closed)
	assert.NotNil(t, result.Failed)
	assert.Empty(t, result.Closed)
	assert.Empty(t, result.Failed)
}

func TestErrorsKeepKind(t *testing.T) {
	ex := newFakeExchange()
	c := newTestController(ex)

	ex.placeErr = exception.InsufficientBalance(nil, "margin is insufficient")
	_, err := c.OpenMarketLong(context.Background(), "BTC/USDT", 50)
	payload := exception.ToPayload(err)
	assert.Equal(t, exception.KindInsufficientBalance, payload.Kind)
	assert.False(t, payload.Retryable)

	var e *exception.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ToolOpenMarketLong, e.Op)
	assert.Equal(t, "BTC/USDT", e.Symbol)

	ex.placeErr = nil
	ex.tickerErr = exception.Connection(nil, "exchange unavailable")
	_, err = c.OpenMarketShort(context.Background(), "BTC/USDT", 50)
	payload = exception.ToPayload(err)
	assert.Equal(t, exception.KindConnection, payload.Kind)
	assert.True(t, payload.Retryable)

	ex.closeErr = exception.Timeout(context.DeadlineExceeded, true, "exchange did not answer")
	_, err = c.ClosePosition(context.Background(), "BTC/USDT")
	payload = exception.ToPayload(err)
	assert.True(t, payload.OutcomeUnknown)
	assert.False(t, payload.Retryable)

	bal := &fakeBalances{err: exception.Response(nil, "bad payload")}
	_, err = NewToolController(ex, bal, 0).GetBalance(context.Background())
	assert.Equal(t, exception.KindResponse, exception.KindOf(err))
}

func TestToolTimeoutApplied(t *testing.T) {
	ex := newFakeExchange()
	c := newTestController(ex)

	_, err := c.OpenMarketLong(context.Background(), "BTC/USDT", 50)
	require.NoError(t, err)
	_, err = c.GetPositions(context.Background(), "")
	require.NoError(t, err)

	require.NotEmpty(t, ex.deadlines)
	for i, ok := range ex.deadlines {
		if !ok {
			t.Fatalf("call %d ran without a deadline", i)
		}
	}
}

func TestInvokeDispatch(t *testing.T) {
	ex := newFakeExchange()
	btc := model.MustParseSymbol("BTC/USDT")
	eth := model.MustParseSymbol("ETH/USDT")
	ex.positions = []model.Position{
		{Symbol: btc, Side: model.SideLong, Size: decimal.NewFromInt(1)},
		{Symbol: eth, Side: model.SideShort, Size: decimal.NewFromInt(2)},
	}
	bal := &fakeBalances{summary: service.BalanceSummary{USDTBalance: model.USDTBalance{Available: decimal.NewFromInt(80)}}}
	c := NewToolController(ex, bal, time.Second)
	ctx := context.Background()

	out, err := c.Invoke(ctx, ToolOpenLimitLong, map[string]interface{}{"symbol": "BTCUSDT", "usdt_amount": "50", "price": 25000.0})
	require.NoError(t, err)
	assert.Equal(t, "2", out.(model.Order).ID)

	out, err = c.Invoke(ctx, ToolGetPositions, map[string]interface{}{"symbol": "BTC/USDT"})
	require.NoError(t, err)
	assert.Len(t, out.([]model.Position), 1)

	out, err = c.Invoke(ctx, ToolGetPositions, nil)
	require.NoError(t, err)
	assert.Len(t, out.([]model.Position), 2)

	out, err = c.Invoke(ctx, ToolGetBalance, nil)
	require.NoError(t, err)
	assert.Equal(t, "80", out.(service.BalanceSummary).Available.String())

	_, err = c.Invoke(ctx, ToolOpenMarketLong, map[string]interface{}{"symbol": "BTC/USDT"})
	assert.Equal(t, exception.KindValidation, exception.KindOf(err))

	_, err = c.Invoke(ctx, "withdraw", nil)
	assert.Equal(t, exception.KindValidation, exception.KindOf(err))
	assert.False(t, HasTool("withdraw"))
	assert.True(t, HasTool(ToolClosePosition))
}

func TestInvokeRecoversPanics(t *testing.T) {
	ex := newFakeExchange()
	ex.panicOn = "ticker"
	c := newTestController(ex)

	out, err := c.Invoke(context.Background(), ToolOpenMarketLong, map[string]interface{}{"symbol": "BTC/USDT", "usdt_amount": 50.0})
	assert.Nil(t, out)
	assert.Equal(t, exception.KindResponse, exception.KindOf(err))
}
