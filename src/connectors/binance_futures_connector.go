// REST client for Binance USDT-M futures (/fapi)
package connectors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tradingmcp/src/exception"
	"tradingmcp/src/model"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const binanceAPIKeyHeader = "X-MBX-APIKEY"

type BinanceFuturesClient struct {
	apiKey        string
	apiSecret     string
	recvWindow    time.Duration
	closeParallel int
	hedgeMode     bool

	http    *resty.Client
	trade   *resty.Client
	limiter *rate.Limiter
	markets marketTable
	now     func() time.Time
}

func NewBinanceFuturesClient(opts ClientOptions) *BinanceFuturesClient {
	if opts.BaseURL == "" {
		opts.BaseURL = binanceFuturesTestnetURL
		logger.WithField("baseURL", opts.BaseURL).Warn("No base URL provided, using testnet")
	}
	return &BinanceFuturesClient{
		apiKey:        opts.APIKey,
		apiSecret:     opts.APISecret,
		recvWindow:    opts.RecvWindow,
		closeParallel: opts.CloseParallel,
		hedgeMode:     opts.HedgeMode,
		http:          newReadClient(opts.BaseURL, opts.Timeout),
		trade:         newTradeClient(opts.BaseURL, opts.Timeout),
		limiter:       newLimiter(opts.RatePerSecond),
		now:           time.Now,
	}
}

func (c *BinanceFuturesClient) Name() string { return "binance-futures" }

// -----------------------------
// TRANSPORT
// -----------------------------

// signedQuery appends timestamp, recvWindow and the HMAC of the whole query.
func (c *BinanceFuturesClient) signedQuery(params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	if c.recvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
	}
	query := params.Encode()
	return query + "&signature=" + hmacHex(c.apiSecret, query)
}

func (c *BinanceFuturesClient) get(ctx context.Context, path string, params url.Values, signed bool, out interface{}) error {
	if err := throttle(ctx, c.limiter); err != nil {
		return err
	}

	req := c.http.R().SetContext(ctx)

	// the signed query goes into the URL as is; resty re-sorts query params
	target := path
	if signed {
		req.SetHeader(binanceAPIKeyHeader, c.apiKey)
		target += "?" + c.signedQuery(params)
	} else if len(params) > 0 {
		target += "?" + params.Encode()
	}

	resp, err := req.Get(target)
	if err != nil {
		return transportError(err, false)
	}
	if resp.StatusCode() != http.StatusOK {
		return binanceError(resp.StatusCode(), resp.Body(), false)
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return exception.Response(err, "malformed answer from %s", path)
	}
	return nil
}

// -----------------------------
// MARKETS & MARKET DATA
// -----------------------------
func (c *BinanceFuturesClient) LoadMarkets(ctx context.Context) error {
	var raw json.RawMessage
	if err := c.get(ctx, "/fapi/v1/exchangeInfo", nil, false, &raw); err != nil {
		return exception.WithContext(err, "LoadMarkets", "")
	}
	markets, err := parseBinanceMarkets(raw, true)
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

func (c *BinanceFuturesClient) Market(symbol model.Symbol) (model.Market, bool) {
	return c.markets.get(symbol)
}

func (c *BinanceFuturesClient) FetchTicker(ctx context.Context, symbol model.Symbol) (model.Ticker, error) {
	ticker, err := c.fetchTicker(ctx, symbol)
	return ticker, exception.WithContext(err, "FetchTicker", symbol.String())
}

func (c *BinanceFuturesClient) fetchTicker(ctx context.Context, symbol model.Symbol) (model.Ticker, error) {
	if err := c.markets.requireKnown(symbol); err != nil {
		return model.Ticker{}, err
	}
	params := url.Values{"symbol": {c.markets.nativeID(symbol)}}

	var price struct {
		Price string `json:"price"`
		Time  int64  `json:"time"`
	}
	if err := c.get(ctx, "/fapi/v1/ticker/price", params, false, &price); err != nil {
		return model.Ticker{}, err
	}
	var book struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	if err := c.get(ctx, "/fapi/v1/ticker/bookTicker", params, false, &book); err != nil {
		return model.Ticker{}, err
	}

	last, err := parseAmount("last price", price.Price)
	if err != nil {
		return model.Ticker{}, err
	}
	if !last.IsPositive() {
		return model.Ticker{}, exception.Response(nil, "exchange reported no last price")
	}
	bid, err := parseAmount("bid price", book.BidPrice)
	if err != nil {
		return model.Ticker{}, err
	}
	ask, err := parseAmount("ask price", book.AskPrice)
	if err != nil {
		return model.Ticker{}, err
	}

	return model.Ticker{
		Symbol:    symbol,
		Last:      last,
		Bid:       bid,
		Ask:       ask,
		Timestamp: msToTime(price.Time),
	}, nil
}

// -----------------------------
// ACCOUNT
// -----------------------------
type binanceFuturesBalance struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
}

func (c *BinanceFuturesClient) FetchBalance(ctx context.Context) (model.BalanceSet, error) {
	var rows []binanceFuturesBalance
	if err := c.get(ctx, "/fapi/v2/balance", nil, true, &rows); err != nil {
		return nil, exception.WithContext(err, "FetchBalance", "")
	}

	set := make(model.BalanceSet, len(rows))
	for _, r := range rows {
		total, err := parseAmount(r.Asset+" balance", r.Balance)
		if err != nil {
			return nil, exception.WithContext(err, "FetchBalance", "")
		}
		free, err := parseAmount(r.Asset+" available balance", r.AvailableBalance)
		if err != nil {
			return nil, exception.WithContext(err, "FetchBalance", "")
		}
		// available may include unrealized profit and exceed the wallet
		if free.GreaterThan(total) {
			free = total
		}
		set[r.Asset] = model.Balance{
			Currency: r.Asset,
			Free:     free,
			Used:     total.Sub(free),
			Total:    total,
		}
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
type binanceOrder struct {
	OrderID       int64  `json:"orderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	AvgPrice      string `json:"avgPrice"`
	OrigQty       string `json:"origQty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Time          int64  `json:"time"`
	UpdateTime    int64  `json:"updateTime"`
}

func (c *BinanceFuturesClient) toOrder(o binanceOrder) (model.Order, error) {
	symbol, err := c.markets.symbolOf(o.Symbol)
	if err != nil {
		return model.Order{}, err
	}
	amount, err := parseAmount("order quantity", o.OrigQty)
	if err != nil {
		return model.Order{}, err
	}

	order := model.Order{
		ID:            strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Symbol:        symbol,
		Side:          model.OrderSideBuy,
		Type:          model.OrderTypeMarket,
		Amount:        amount,
		Status:        binanceOrderStatus(o.Status),
		Timestamp:     msToTime(o.UpdateTime),
	}
	if o.UpdateTime == 0 {
		order.Timestamp = msToTime(o.Time)
	}
	if o.Side == "SELL" {
		order.Side = model.OrderSideSell
	}

	priceField := o.AvgPrice
	if o.Type == "LIMIT" {
		order.Type = model.OrderTypeLimit
		priceField = o.Price
	}
	price, err := parseAmount("order price", priceField)
	if err != nil {
		return model.Order{}, err
	}
	order.Price = optionalDecimal(price)
	return order, nil
}

type orderRequest struct {
	symbol       model.Symbol
	side         model.OrderSide
	orderType    model.OrderType
	qty          decimal.Decimal
	price        decimal.Decimal
	reduceOnly   bool
	positionSide string
}

// placeOrder is sent exactly once. A timeout leaves the outcome unknown.
func (c *BinanceFuturesClient) placeOrder(ctx context.Context, r orderRequest) (model.Order, error) {
	if err := checkQuantity(r.qty); err != nil {
		return model.Order{}, err
	}
	if err := c.markets.requireKnown(r.symbol); err != nil {
		return model.Order{}, err
	}

	params := url.Values{}
	params.Set("symbol", c.markets.nativeID(r.symbol))
	params.Set("side", binanceSide(r.side))
	params.Set("quantity", r.qty.String())
	params.Set("newClientOrderId", newClientOrderID())
	params.Set("newOrderRespType", "RESULT")
	if r.orderType == model.OrderTypeLimit {
		params.Set("type", "LIMIT")
		params.Set("price", r.price.String())
		params.Set("timeInForce", "GTC")
	} else {
		params.Set("type", "MARKET")
	}
	if r.positionSide != "" && r.positionSide != "BOTH" {
		params.Set("positionSide", r.positionSide)
	} else if r.reduceOnly {
		params.Set("reduceOnly", "true")
	}

	if err := throttle(ctx, c.limiter); err != nil {
		return model.Order{}, err
	}

	logger.WithFields(map[string]interface{}{
		"exchange":   c.Name(),
		"symbol":     r.symbol.String(),
		"side":       r.side,
		"type":       r.orderType,
		"qty":        r.qty.String(),
		"reduceOnly": r.reduceOnly,
	}).Info("Placing order")

	resp, err := c.trade.R().
		SetContext(ctx).
		SetHeader(binanceAPIKeyHeader, c.apiKey).
		Post("/fapi/v1/order?" + c.signedQuery(params))
	if err != nil {
		return model.Order{}, transportError(err, true)
	}
	if resp.StatusCode() != http.StatusOK {
		return model.Order{}, binanceError(resp.StatusCode(), resp.Body(), true)
	}

	var placed binanceOrder
	if err := json.Unmarshal(resp.Body(), &placed); err != nil {
		return model.Order{}, exception.Response(err, "order accepted but the answer is unreadable")
	}
	return c.toOrder(placed)
}

// openPositionSide is empty in one-way mode. Hedged accounts reject orders
// without an explicit leg.
func (c *BinanceFuturesClient) openPositionSide(side model.OrderSide) string {
	if !c.hedgeMode {
		return ""
	}
	if side == model.OrderSideSell {
		return "SHORT"
	}
	return "LONG"
}

func (c *BinanceFuturesClient) PlaceMarketOrder(ctx context.Context, symbol model.Symbol, side model.OrderSide, qty decimal.Decimal) (model.Order, error) {
	order, err := c.placeOrder(ctx, orderRequest{
		symbol:    symbol,
		side:      side,
		orderType:    model.OrderTypeMarket,
		qty:          qty,
		positionSide: c.openPositionSide(side),
	})
	return order, exception.WithContext(err, "PlaceMarketOrder", symbol.String())
}

func (c *BinanceFuturesClient) PlaceLimitOrder(ctx context.Context, symbol model.Symbol, side model.OrderSide, qty, price decimal.Decimal) (model.Order, error) {
	if err := c.markets.checkLimitPrice(symbol, price); err != nil {
		return model.Order{}, exception.WithContext(err, "PlaceLimitOrder", symbol.String())
	}
	order, err := c.placeOrder(ctx, orderRequest{
		symbol:    symbol,
		side:      side,
		orderType:    model.OrderTypeLimit,
		qty:          qty,
		price:        price,
		positionSide: c.openPositionSide(side),
	})
	return order, exception.WithContext(err, "PlaceLimitOrder", symbol.String())
}

func (c *BinanceFuturesClient) FetchOpenOrders(ctx context.Context, symbol *model.Symbol) ([]model.Order, error) {
	params := url.Values{}
	if symbol != nil {
		params.Set("symbol", c.markets.nativeID(*symbol))
	}

	var rows []binanceOrder
	if err := c.get(ctx, "/fapi/v1/openOrders", params, true, &rows); err != nil {
		return nil, exception.WithContext(err, "FetchOpenOrders", symbolText(symbol))
	}

	orders := make([]model.Order, 0, len(rows))
	for _, r := range rows {
		o, err := c.toOrder(r)
		if err != nil {
			return nil, exception.WithContext(err, "FetchOpenOrders", symbolText(symbol))
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// -----------------------------
// POSITIONS
// -----------------------------
type binancePositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
	PositionSide     string `json:"positionSide"`
}

// binancePosition keeps the hedge-mode side needed to close the position.
type binancePosition struct {
	model.Position
	positionSide string
}

func (c *BinanceFuturesClient) positions(ctx context.Context, symbol *model.Symbol) ([]binancePosition, error) {
	params := url.Values{}
	if symbol != nil {
		params.Set("symbol", c.markets.nativeID(*symbol))
	}

	var rows []binancePositionRisk
	if err := c.get(ctx, "/fapi/v2/positionRisk", params, true, &rows); err != nil {
		return nil, err
	}

	keep := sameSymbolFilter(symbol)
	out := make([]binancePosition, 0, len(rows))
	for _, r := range rows {
		amt, err := parseSigned("position amount", r.PositionAmt)
		if err != nil {
			return nil, err
		}
		if amt.IsZero() {
			continue
		}
		s, err := c.markets.symbolOf(r.Symbol)
		if err != nil {
			return nil, err
		}
		if !keep(s) {
			continue
		}
		entry, err := parseAmount("entry price", r.EntryPrice)
		if err != nil {
			return nil, err
		}
		pnl, err := parseSigned("unrealized pnl", r.UnRealizedProfit)
		if err != nil {
			return nil, err
		}
		leverage, err := parseAmount("leverage", r.Leverage)
		if err != nil {
			return nil, err
		}

		side := model.SideLong
		switch {
		case r.PositionSide == "SHORT":
			side = model.SideShort
		case r.PositionSide == "LONG":
		case amt.IsNegative():
			side = model.SideShort
		}

		out = append(out, binancePosition{
			Position: model.Position{
				Symbol:        s,
				Side:          side,
				Size:          amt.Abs(),
				EntryPrice:    entry,
				UnrealizedPnl: pnl,
				Leverage:      optionalDecimal(leverage),
			},
			positionSide: r.PositionSide,
		})
	}
	return out, nil
}

func (c *BinanceFuturesClient) FetchOpenPositions(ctx context.Context, symbol *model.Symbol) ([]model.Position, error) {
	rows, err := c.positions(ctx, symbol)
	if err != nil {
		return nil, exception.WithContext(err, "FetchOpenPositions", symbolText(symbol))
	}
	out := make([]model.Position, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Position)
	}
	return out, nil
}

// CloseAllPositions closes every open position of symbol with reduce-only
// market orders in the opposite direction.
func (c *BinanceFuturesClient) CloseAllPositions(ctx context.Context, symbol model.Symbol) (model.CloseResult, error) {
	logger.WithFields(map[string]interface{}{
		"exchange": c.Name(),
		"symbol":   symbol.String(),
	}).Info("Closing ALL positions for symbol")

	rows, err := c.positions(ctx, &symbol)
	if err != nil {
		return model.CloseResult{}, exception.WithContext(err, "CloseAllPositions", symbol.String())
	}

	hedgeSide := make(map[model.Side]string, len(rows))
	positions := make([]model.Position, 0, len(rows))
	for _, r := range rows {
		hedgeSide[r.Side] = r.positionSide
		positions = append(positions, r.Position)
	}

	result := closePositions(ctx, symbol, positions, c.closeParallel, func(ctx context.Context, p model.Position) (model.Order, error) {
		order, err := c.placeOrder(ctx, orderRequest{
			symbol:       p.Symbol,
			side:         p.Side.CloseOrderSide(),
			orderType:    model.OrderTypeMarket,
			qty:          p.Size,
			reduceOnly:   true,
			positionSide: hedgeSide[p.Side],
		})
		return order, exception.WithContext(err, "CloseAllPositions", p.Symbol.String())
	})
	return result, nil
}

func symbolText(symbol *model.Symbol) string {
	if symbol == nil {
		return ""
	}
	return symbol.String()
}
