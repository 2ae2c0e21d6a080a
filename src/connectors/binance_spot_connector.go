// Binance spot: trading and account through goex, market rules through the
// public exchangeInfo endpoint.
package connectors

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tradingmcp/src/exception"
	"tradingmcp/src/model"

	"github.com/go-resty/resty/v2"
	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// spotAPI is the part of goex.API the spot client relies on.
type spotAPI interface {
	GetAccount() (*goex.Account, error)
	GetTicker(currency goex.CurrencyPair) (*goex.Ticker, error)
	MarketBuy(amount, price string, currency goex.CurrencyPair) (*goex.Order, error)
	MarketSell(amount, price string, currency goex.CurrencyPair) (*goex.Order, error)
	LimitBuy(amount, price string, currency goex.CurrencyPair, opt ...goex.LimitOrderOptionalParameter) (*goex.Order, error)
	LimitSell(amount, price string, currency goex.CurrencyPair, opt ...goex.LimitOrderOptionalParameter) (*goex.Order, error)
	GetUnfinishOrders(currency goex.CurrencyPair) ([]goex.Order, error)
}

type BinanceSpotClient struct {
	api     spotAPI
	http    *resty.Client
	limiter *rate.Limiter
	markets marketTable
}

func NewBinanceSpotClient(opts ClientOptions, httpClient *http.Client) *BinanceSpotClient {
	if opts.BaseURL == "" {
		opts.BaseURL = binanceSpotTestnetURL
		logger.WithField("baseURL", opts.BaseURL).Warn("No base URL provided, using testnet")
	}
	var api goex.API = binance.NewWithConfig(&goex.APIConfig{
		HttpClient:   httpClient,
		Endpoint:     opts.BaseURL,
		ApiKey:       opts.APIKey,
		ApiSecretKey: opts.APISecret,
	})
	return newBinanceSpotClient(api, opts)
}

func newBinanceSpotClient(api spotAPI, opts ClientOptions) *BinanceSpotClient {
	return &BinanceSpotClient{
		api:     api,
		http:    newReadClient(opts.BaseURL, opts.Timeout),
		limiter: newLimiter(opts.RatePerSecond),
	}
}

func (c *BinanceSpotClient) Name() string { return "binance-spot" }

// call runs a goex request under ctx. goex has no context support, so when
// ctx ends first the request keeps running and its answer is discarded.
func call[T any](ctx context.Context, limiter *rate.Limiter, sideEffect bool, fn func() (T, error)) (T, error) {
	var zero T
	if err := throttle(ctx, limiter); err != nil {
		return zero, err
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return zero, exception.FromContext(ctx.Err(), sideEffect)
	case r := <-done:
		if r.err != nil {
			return zero, goexError(r.err, sideEffect)
		}
		return r.value, nil
	}
}

// goexError classifies goex failures. goex reports Binance errors as the raw
// answer text, so the code is read back out of the message.
func goexError(err error, sideEffect bool) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return transportError(err, sideEffect)
	}
	if code, ok := codeFromMessage(err.Error()); ok {
		return classifyBinance(apiFailure{Code: code, Msg: truncate(err.Error(), 200), Name: binanceErrorName(code)}, sideEffect)
	}
	if sideEffect {
		return exception.OrderRejected(errors.New(truncate(err.Error(), 200)), "order rejected by exchange")
	}
	return exception.Connection(errors.New(truncate(err.Error(), 200)), "exchange request failed")
}

func spotPair(symbol model.Symbol) goex.CurrencyPair {
	return goex.NewCurrencyPair2(symbol.Base + "_" + symbol.Quote)
}

// -----------------------------
// MARKETS & MARKET DATA
// -----------------------------
func (c *BinanceSpotClient) LoadMarkets(ctx context.Context) error {
	if err := throttle(ctx, c.limiter); err != nil {
		return exception.WithContext(err, "LoadMarkets", "")
	}
	resp, err := c.http.R().SetContext(ctx).Get("/api/v3/exchangeInfo")
	if err != nil {
		return exception.WithContext(transportError(err, false), "LoadMarkets", "")
	}
	if resp.StatusCode() != http.StatusOK {
		return exception.WithContext(binanceError(resp.StatusCode(), resp.Body(), false), "LoadMarkets", "")
	}

	markets, err := parseBinanceMarkets(resp.Body(), false)
	if err != nil {
		return exception.WithContext(err, "LoadMarkets", "")
	}
	c.markets.replace(markets)
	logger.WithFields(map[string]interface{}{
		"exchange": c.Name(),
		"markets":  len(markets),
	}).Info("Markets loaded")
	return nil
}

func (c *BinanceSpotClient) Market(symbol model.Symbol) (model.Market, bool) {
	return c.markets.get(symbol)
}

func (c *BinanceSpotClient) FetchTicker(ctx context.Context, symbol model.Symbol) (model.Ticker, error) {
	if err := c.markets.requireKnown(symbol); err != nil {
		return model.Ticker{}, exception.WithContext(err, "FetchTicker", symbol.String())
	}
	t, err := call(ctx, c.limiter, false, func() (*goex.Ticker, error) {
		return c.api.GetTicker(spotPair(symbol))
	})
	if err != nil {
		return model.Ticker{}, exception.WithContext(err, "FetchTicker", symbol.String())
	}
	if t == nil || t.Last <= 0 || t.Buy < 0 || t.Sell < 0 {
		return model.Ticker{}, exception.WithContext(
			exception.Response(nil, "exchange reported an invalid ticker"), "FetchTicker", symbol.String())
	}

	ts := time.Now().UTC()
	if t.Date > 0 {
		ts = msToTime(int64(t.Date))
	}
	return model.Ticker{
		Symbol:    symbol,
		Last:      decimal.NewFromFloat(t.Last),
		Bid:       decimal.NewFromFloat(t.Buy),
		Ask:       decimal.NewFromFloat(t.Sell),
		Timestamp: ts,
	}, nil
}

// -----------------------------
// ACCOUNT
// -----------------------------
func (c *BinanceSpotClient) FetchBalance(ctx context.Context) (model.BalanceSet, error) {
	acc, err := call(ctx, c.limiter, false, c.api.GetAccount)
	if err != nil {
		return nil, exception.WithContext(err, "FetchBalance", "")
	}
	if acc == nil {
		return nil, exception.WithContext(exception.Response(nil, "empty account answer"), "FetchBalance", "")
	}

	set := make(model.BalanceSet, len(acc.SubAccounts))
	for currency, sub := range acc.SubAccounts {
		code := strings.ToUpper(currency.Symbol)
		if sub.Amount < 0 || sub.ForzenAmount < 0 {
			return nil, exception.WithContext(
				exception.Response(nil, "negative %s balance reported by exchange", code), "FetchBalance", "")
		}
		free := decimal.NewFromFloat(sub.Amount)
		used := decimal.NewFromFloat(sub.ForzenAmount)
		set[code] = model.Balance{Currency: code, Free: free, Used: used, Total: free.Add(used)}
	}

	if _, ok := set[model.SettlementCurrency]; !ok {
		return nil, exception.WithContext(
			exception.Response(nil, "balance has no %s entry", model.SettlementCurrency), "FetchBalance", "")
	}
	return set, nil
}

// -----------------------------
// ORDERS
// -----------------------------
func (c *BinanceSpotClient) toOrder(symbol model.Symbol, side model.OrderSide, orderType model.OrderType, o *goex.Order) model.Order {
	id := o.OrderID2
	if id == "" && o.OrderID != 0 {
		id = strconv.FormatInt(int64(o.OrderID), 10)
	}

	var price *decimal.Decimal
	switch {
	case orderType == model.OrderTypeLimit && o.Price > 0:
		price = optionalDecimal(decimal.NewFromFloat(o.Price))
	case o.AvgPrice > 0:
		price = optionalDecimal(decimal.NewFromFloat(o.AvgPrice))
	}

	ts := time.Now().UTC()
	if o.OrderTime > 0 {
		ts = msToTime(int64(o.OrderTime))
	}

	return model.Order{
		ID:            id,
		ClientOrderID: o.Cid,
		Symbol:        symbol,
		Side:          side,
		Type:          orderType,
		Amount:        decimal.NewFromFloat(o.Amount),
		Price:         price,
		Status:        goexOrderStatus(o.Status),
		Timestamp:     ts,
	}
}

func goexOrderStatus(s goex.TradeStatus) model.OrderStatus {
	switch s {
	case goex.ORDER_UNFINISH, goex.ORDER_PART_FINISH:
		return model.OrderStatusOpen
	case goex.ORDER_FINISH:
		return model.OrderStatusClosed
	case goex.ORDER_CANCEL, goex.ORDER_CANCEL_ING:
		return model.OrderStatusCanceled
	case goex.ORDER_REJECT, goex.ORDER_FAIL:
		return model.OrderStatusRejected
	}
	return model.OrderStatusUnknown
}

func (c *BinanceSpotClient) PlaceMarketOrder(ctx context.Context, symbol model.Symbol, side model.OrderSide, qty decimal.Decimal) (model.Order, error) {
	if err := checkQuantity(qty); err != nil {
		return model.Order{}, exception.WithContext(err, "PlaceMarketOrder", symbol.String())
	}
	if err := c.markets.requireKnown(symbol); err != nil {
		return model.Order{}, exception.WithContext(err, "PlaceMarketOrder", symbol.String())
	}

	pair := spotPair(symbol)
	place := c.api.MarketBuy
	if side == model.OrderSideSell {
		place = c.api.MarketSell
	}

	logger.WithFields(map[string]interface{}{
		"exchange": c.Name(),
		"symbol":   symbol.String(),
		"side":     side,
		"qty":      qty.String(),
	}).Info("Placing market order")

	o, err := call(ctx, c.limiter, true, func() (*goex.Order, error) {
		return place(qty.String(), "", pair)
	})
	if err != nil {
		return model.Order{}, exception.WithContext(err, "PlaceMarketOrder", symbol.String())
	}
	if o == nil {
		return model.Order{}, exception.WithContext(exception.Response(nil, "empty order answer"), "PlaceMarketOrder", symbol.String())
	}
	return c.toOrder(symbol, side, model.OrderTypeMarket, o), nil
}

func (c *BinanceSpotClient) PlaceLimitOrder(ctx context.Context, symbol model.Symbol, side model.OrderSide, qty, price decimal.Decimal) (model.Order, error) {
	if err := c.markets.checkLimitPrice(symbol, price); err != nil {
		return model.Order{}, exception.WithContext(err, "PlaceLimitOrder", symbol.String())
	}
	if err := checkQuantity(qty); err != nil {
		return model.Order{}, exception.WithContext(err, "PlaceLimitOrder", symbol.String())
	}
	if err := c.markets.requireKnown(symbol); err != nil {
		return model.Order{}, exception.WithContext(err, "PlaceLimitOrder", symbol.String())
	}

	pair := spotPair(symbol)

	logger.WithFields(map[string]interface{}{
		"exchange": c.Name(),
		"symbol":   symbol.String(),
		"side":     side,
		"qty":      qty.String(),
		"price":    price.String(),
	}).Info("Placing limit order")

	o, err := call(ctx, c.limiter, true, func() (*goex.Order, error) {
		if side == model.OrderSideSell {
			return c.api.LimitSell(qty.String(), price.String(), pair)
		}
		return c.api.LimitBuy(qty.String(), price.String(), pair)
	})
	if err != nil {
		return model.Order{}, exception.WithContext(err, "PlaceLimitOrder", symbol.String())
	}
	if o == nil {
		return model.Order{}, exception.WithContext(exception.Response(nil, "empty order answer"), "PlaceLimitOrder", symbol.String())
	}
	order := c.toOrder(symbol, side, model.OrderTypeLimit, o)
	if order.Price == nil {
		order.Price = &price
	}
	return order, nil
}

// FetchOpenOrders needs a symbol on spot: the unfiltered endpoint is too
// expensive in request weight to poll.
func (c *BinanceSpotClient) FetchOpenOrders(ctx context.Context, symbol *model.Symbol) ([]model.Order, error) {
	if symbol == nil {
		return nil, exception.WithContext(
			exception.Validation("a symbol is required to list open spot orders"), "FetchOpenOrders", "")
	}
	rows, err := call(ctx, c.limiter, false, func() ([]goex.Order, error) {
		return c.api.GetUnfinishOrders(spotPair(*symbol))
	})
	if err != nil {
		return nil, exception.WithContext(err, "FetchOpenOrders", symbol.String())
	}

	orders := make([]model.Order, 0, len(rows))
	for i := range rows {
		o := &rows[i]
		side := model.OrderSideBuy
		if o.Side == goex.SELL || o.Side == goex.SELL_MARKET {
			side = model.OrderSideSell
		}
		orderType := model.OrderTypeLimit
		if o.Side == goex.BUY_MARKET || o.Side == goex.SELL_MARKET {
			orderType = model.OrderTypeMarket
		}
		orders = append(orders, c.toOrder(*symbol, side, orderType, o))
	}
	return orders, nil
}

// -----------------------------
// POSITIONS
// -----------------------------

// Spot holdings are balances, not positions.
func (c *BinanceSpotClient) FetchOpenPositions(_ context.Context, _ *model.Symbol) ([]model.Position, error) {
	return []model.Position{}, nil
}

func (c *BinanceSpotClient) CloseAllPositions(_ context.Context, symbol model.Symbol) (model.CloseResult, error) {
	return model.NewCloseResult(symbol, nil, nil), nil
}
