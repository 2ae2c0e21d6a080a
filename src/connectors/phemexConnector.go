// REST API CLIENT FOR PHEMEX USDT-M FUTURES (HEDGED)
// RESTY ONLY, READS RETRIED, ORDERS SENT ONCE
package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tradingmcp/src/exception"
	"tradingmcp/src/model"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// phemexNoOrders is returned by activeList when nothing is open.
const phemexNoOrders = 10002

// -----------------------------
// API RESPONSE WRAPPER
// -----------------------------
type APIResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// -----------------------------
// STRUCTURES FOR ACCOUNT & POSITIONS
// -----------------------------
type phemexPosition struct {
	Symbol          string `json:"symbol"`
	Currency        string `json:"currency"`
	Side            string `json:"side"`
	PosSide         string `json:"posSide"`
	SizeRq          string `json:"sizeRq"`
	AvgEntryPriceRp string `json:"avgEntryPriceRp"`
	UnRealisedPnlRv string `json:"unRealisedPnlRv"`
	LeverageRr      string `json:"leverageRr"`
}

type GAccountPositions struct {
	Account struct {
		UserID             int64  `json:"userID"`
		AccountID          int64  `json:"accountId"`
		Currency           string `json:"currency"`
		AccountBalanceRv   string `json:"accountBalanceRv"`
		TotalUsedBalanceRv string `json:"totalUsedBalanceRv"`
	} `json:"account"`

	Positions []phemexPosition `json:"positions"`
}

type phemexOrder struct {
	OrderID      string `json:"orderID"`
	ClOrdID      string `json:"clOrdID"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	OrdType      string `json:"ordType"`
	OrderQtyRq   string `json:"orderQtyRq"`
	PriceRp      string `json:"priceRp"`
	OrdStatus    string `json:"ordStatus"`
	ActionTimeNs int64  `json:"actionTimeNs"`
}

// -----------------------------
// A) AUTHENTICATED CLIENT
// -----------------------------
type PhemexClient struct {
	apiKey        string
	apiSecret     string
	baseURL       string
	closeParallel int
	hedgeMode     bool

	http    *resty.Client
	trade   *resty.Client
	limiter *rate.Limiter
	markets marketTable
	now     func() time.Time
}

func NewPhemexClient(opts ClientOptions) *PhemexClient {
	if opts.BaseURL == "" {
		opts.BaseURL = phemexTestnetURL
		logger.WithField("baseURL", opts.BaseURL).Warn("No base URL provided, using testnet")
	}

	return &PhemexClient{
		apiKey:        opts.APIKey,
		apiSecret:     opts.APISecret,
		baseURL:       opts.BaseURL,
		closeParallel: opts.CloseParallel,
		hedgeMode:     opts.HedgeMode,
		http:          newReadClient(opts.BaseURL, opts.Timeout),
		trade:         newTradeClient(opts.BaseURL, opts.Timeout),
		limiter:       newLimiter(opts.RatePerSecond),
		now:           time.Now,
	}
}

func (c *PhemexClient) Name() string { return "phemex" }

func signRequest(path, query, body string, expiry int64, secret string) string {
	base := path
	if query != "" {
		base += query
	}
	base += fmt.Sprintf("%d", expiry)
	if body != "" {
		base += body
	}
	return hmacHex(secret, base)
}

// doRequest signs and sends one request. POSTs go through the client that
// never retries and are treated as side effects.
func (c *PhemexClient) doRequest(ctx context.Context, method, path, query string, body []byte) (*APIResponse, error) {
	if err := throttle(ctx, c.limiter); err != nil {
		return nil, err
	}

	sideEffect := method != http.MethodGet
	expiry := c.now().Add(1 * time.Minute).Unix()
	sig := signRequest(path, query, string(body), expiry, c.apiSecret)

	httpClient := c.http
	if sideEffect {
		httpClient = c.trade
	}
	req := httpClient.R().
		SetContext(ctx).
		SetHeader("x-phemex-access-token", c.apiKey).
		SetHeader("x-phemex-request-expiry", fmt.Sprintf("%d", expiry)).
		SetHeader("x-phemex-request-signature", sig)

	if body != nil {
		req = req.SetBody(body).SetHeader("Content-Type", "application/json")
	}

	// the query is signed as written, so it is not handed to resty to re-encode
	target := path
	if query != "" {
		target += "?" + query
	}

	resp, err := req.Execute(method, target)
	if err != nil {
		return nil, transportError(err, sideEffect)
	}

	var apiResp APIResponse
	decodeErr := json.Unmarshal(resp.Body(), &apiResp)

	if resp.StatusCode() != http.StatusOK {
		msg := apiResp.Msg
		if decodeErr != nil {
			msg = truncate(string(resp.Body()), 200)
		}
		return nil, phemexError(resp.StatusCode(), apiResp.Code, msg, sideEffect)
	}
	if decodeErr != nil {
		return nil, exception.Response(decodeErr, "malformed answer from %s", path)
	}
	return &apiResp, nil
}

// get decodes data of a successful (code 0) answer into out.
func (c *PhemexClient) get(ctx context.Context, path, query string, out interface{}) error {
	resp, err := c.doRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if resp.Code != 0 {
		return phemexError(http.StatusOK, resp.Code, resp.Msg, false)
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return exception.Response(err, "malformed data from %s", path)
	}
	return nil
}

// -----------------------------
// B) MARKETS & MARKET DATA
// -----------------------------
type phemexProducts struct {
	PerpProductsV2 []struct {
		Symbol          string `json:"symbol"`
		BaseCurrency    string `json:"baseCurrency"`
		QuoteCurrency   string `json:"quoteCurrency"`
		Status          string `json:"status"`
		TickSize        string `json:"tickSize"`
		QtyStepSize     string `json:"qtyStepSize"`
		MinPriceRp      string `json:"minPriceRp"`
		MaxPriceRp      string `json:"maxPriceRp"`
		MinOrderValueRv string `json:"minOrderValueRv"`
	} `json:"perpProductsV2"`
}

func (c *PhemexClient) LoadMarkets(ctx context.Context) error {
	var products phemexProducts
	if err := c.get(ctx, "/public/products", "", &products); err != nil {
		return exception.WithContext(err, "LoadMarkets", "")
	}

	markets := make([]model.Market, 0, len(products.PerpProductsV2))
	for _, p := range products.PerpProductsV2 {
		if p.Status != "Listed" {
			continue
		}
		symbol := model.Symbol{Base: strings.ToUpper(p.BaseCurrency), Quote: strings.ToUpper(p.QuoteCurrency)}
		if symbol.Base == "" || symbol.Quote == "" {
			parsed, err := model.ParseSymbol(p.Symbol)
			if err != nil {
				continue
			}
			symbol = parsed
		}
		markets = append(markets, model.Market{
			Symbol:      symbol,
			NativeID:    p.Symbol,
			TickSize:    lenientDecimal(p.TickSize),
			StepSize:    lenientDecimal(p.QtyStepSize),
			MinQty:      lenientDecimal(p.QtyStepSize),
			MinNotional: lenientDecimal(p.MinOrderValueRv),
			MinPrice:    lenientDecimal(p.MinPriceRp),
			MaxPrice:    lenientDecimal(p.MaxPriceRp),
		})
	}
	if len(markets) == 0 {
		return exception.WithContext(exception.Response(nil, "products list no tradable perpetuals"), "LoadMarkets", "")
	}

	c.markets.replace(markets)
	logger.WithFields(map[string]interface{}{
		"exchange": c.Name(),
		"markets":  len(markets),
	}).Info("Markets loaded")
	return nil
}

func (c *PhemexClient) Market(symbol model.Symbol) (model.Market, bool) {
	return c.markets.get(symbol)
}

type mdResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Result json.RawMessage `json:"result"`
}

func (c *PhemexClient) FetchTicker(ctx context.Context, symbol model.Symbol) (model.Ticker, error) {
	ticker, err := c.fetchTicker(ctx, symbol)
	return ticker, exception.WithContext(err, "FetchTicker", symbol.String())
}

func (c *PhemexClient) fetchTicker(ctx context.Context, symbol model.Symbol) (model.Ticker, error) {
	if err := c.markets.requireKnown(symbol); err != nil {
		return model.Ticker{}, err
	}
	if err := throttle(ctx, c.limiter); err != nil {
		return model.Ticker{}, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", c.markets.nativeID(symbol)).
		Get("/md/v3/ticker/24hr")
	if err != nil {
		return model.Ticker{}, transportError(err, false)
	}
	if resp.StatusCode() != http.StatusOK {
		return model.Ticker{}, phemexError(resp.StatusCode(), 0, truncate(string(resp.Body()), 200), false)
	}

	var md mdResponse
	if err := json.Unmarshal(resp.Body(), &md); err != nil {
		return model.Ticker{}, exception.Response(err, "malformed ticker")
	}
	if md.Error != nil {
		return model.Ticker{}, phemexError(http.StatusOK, md.Error.Code, md.Error.Message, false)
	}

	var tk struct {
		LastRp    string `json:"lastRp"`
		BidRp     string `json:"bidRp"`
		AskRp     string `json:"askRp"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(md.Result, &tk); err != nil {
		return model.Ticker{}, exception.Response(err, "malformed ticker")
	}

	last, err := parseAmount("last price", tk.LastRp)
	if err != nil {
		return model.Ticker{}, err
	}
	if !last.IsPositive() {
		return model.Ticker{}, exception.Response(nil, "exchange reported no last price")
	}
	bid, err := parseAmount("bid price", tk.BidRp)
	if err != nil {
		return model.Ticker{}, err
	}
	ask, err := parseAmount("ask price", tk.AskRp)
	if err != nil {
		return model.Ticker{}, err
	}

	ts := time.Now().UTC()
	if tk.Timestamp > 0 {
		ts = time.Unix(0, tk.Timestamp).UTC()
	}
	return model.Ticker{Symbol: symbol, Last: last, Bid: bid, Ask: ask, Timestamp: ts}, nil
}

// -----------------------------
// C) ACCOUNT & POSITION METHODS
// -----------------------------
func (c *PhemexClient) GetPositionsUSDT(ctx context.Context) (*GAccountPositions, error) {
	var parsed GAccountPositions
	if err := c.get(ctx, "/g-accounts/positions", "currency=USDT", &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func (c *PhemexClient) FetchBalance(ctx context.Context) (model.BalanceSet, error) {
	acc, err := c.GetPositionsUSDT(ctx)
	if err != nil {
		return nil, exception.WithContext(err, "FetchBalance", "")
	}
	if !strings.EqualFold(acc.Account.Currency, model.SettlementCurrency) {
		return nil, exception.WithContext(
			exception.Response(nil, "balance has no %s entry", model.SettlementCurrency), "FetchBalance", "")
	}

	total, err := parseAmount("USDT balance", acc.Account.AccountBalanceRv)
	if err != nil {
		return nil, exception.WithContext(err, "FetchBalance", "")
	}
	used, err := parseAmount("USDT used balance", acc.Account.TotalUsedBalanceRv)
	if err != nil {
		return nil, exception.WithContext(err, "FetchBalance", "")
	}
	if used.GreaterThan(total) {
		used = total
	}

	return model.BalanceSet{
		model.SettlementCurrency: {
			Currency: model.SettlementCurrency,
			Free:     total.Sub(used),
			Used:     used,
			Total:    total,
		},
	}, nil
}

// openPosition keeps the Phemex posSide needed to close the position.
type openPosition struct {
	model.Position
	posSide string
}

func (c *PhemexClient) positions(ctx context.Context, symbol *model.Symbol) ([]openPosition, error) {
	acc, err := c.GetPositionsUSDT(ctx)
	if err != nil {
		return nil, err
	}

	keep := sameSymbolFilter(symbol)
	out := make([]openPosition, 0, len(acc.Positions))
	for _, p := range acc.Positions {
		size, err := parseAmount("position size", p.SizeRq)
		if err != nil {
			return nil, err
		}
		// Skip empty positions (nothing to close)
		if size.IsZero() {
			continue
		}
		s, err := c.markets.symbolOf(p.Symbol)
		if err != nil {
			return nil, err
		}
		if !keep(s) {
			continue
		}

		var side model.Side
		switch {
		case p.PosSide == "Long", p.PosSide != "Short" && p.Side == "Buy":
			side = model.SideLong
		case p.PosSide == "Short", p.Side == "Sell":
			side = model.SideShort
		default:
			return nil, exception.Response(nil, "unknown position side %q/%q", p.PosSide, p.Side)
		}

		entry, err := parseAmount("entry price", p.AvgEntryPriceRp)
		if err != nil {
			return nil, err
		}
		pnl, err := parseSigned("unrealized pnl", p.UnRealisedPnlRv)
		if err != nil {
			return nil, err
		}
		// negative leverageRr marks cross margin, the magnitude is the leverage
		leverage, err := parseSigned("leverage", p.LeverageRr)
		if err != nil {
			return nil, err
		}

		out = append(out, openPosition{
			Position: model.Position{
				Symbol:        s,
				Side:          side,
				Size:          size,
				EntryPrice:    entry,
				UnrealizedPnl: pnl,
				Leverage:      optionalDecimal(leverage.Abs()),
			},
			posSide: p.PosSide,
		})
	}
	return out, nil
}

func (c *PhemexClient) FetchOpenPositions(ctx context.Context, symbol *model.Symbol) ([]model.Position, error) {
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

// -----------------------------
// D) TRADING METHODS
// -----------------------------
func phemexSide(side model.OrderSide) string {
	if side == model.OrderSideSell {
		return "Sell"
	}
	return "Buy"
}

// PlaceOrder sends one order. posSide is Long/Short in hedged mode and
// Merged in one-way mode.
func (c *PhemexClient) PlaceOrder(ctx context.Context, symbol model.Symbol, side model.OrderSide, posSide string, qty decimal.Decimal, price *decimal.Decimal, reduce bool) (model.Order, error) {
	if err := checkQuantity(qty); err != nil {
		return model.Order{}, err
	}
	if err := c.markets.requireKnown(symbol); err != nil {
		return model.Order{}, err
	}

	body := map[string]interface{}{
		"symbol":      c.markets.nativeID(symbol),
		"side":        phemexSide(side),
		"posSide":     posSide,
		"ordType":     "Market",
		"orderQtyRq":  qty.String(),
		"reduceOnly":  reduce,
		"clOrdID":     newClientOrderID(),
		"timeInForce": "ImmediateOrCancel",
	}
	if price != nil {
		body["ordType"] = "Limit"
		body["priceRp"] = price.String()
		body["timeInForce"] = "GoodTillCancel"
	}

	logger.WithFields(map[string]interface{}{
		"exchange": c.Name(),
		"symbol":   symbol.String(),
		"side":     side,
		"posSide":  posSide,
		"ordType":  body["ordType"],
		"qty":      qty.String(),
		"reduce":   reduce,
	}).Info("Placing order")

	b, _ := json.Marshal(body)
	resp, err := c.doRequest(ctx, http.MethodPost, "/g-orders", "", b)
	if err != nil {
		return model.Order{}, err
	}
	if resp.Code != 0 {
		return model.Order{}, phemexError(http.StatusOK, resp.Code, resp.Msg, true)
	}

	var placed phemexOrder
	if err := json.Unmarshal(resp.Data, &placed); err != nil {
		return model.Order{}, exception.Response(err, "order accepted but the answer is unreadable")
	}
	return c.toOrder(placed)
}

func (c *PhemexClient) toOrder(o phemexOrder) (model.Order, error) {
	symbol, err := c.markets.symbolOf(o.Symbol)
	if err != nil {
		return model.Order{}, err
	}
	amount, err := parseAmount("order quantity", o.OrderQtyRq)
	if err != nil {
		return model.Order{}, err
	}
	price, err := parseAmount("order price", o.PriceRp)
	if err != nil {
		return model.Order{}, err
	}

	order := model.Order{
		ID:            o.OrderID,
		ClientOrderID: o.ClOrdID,
		Symbol:        symbol,
		Side:          model.OrderSideBuy,
		Type:          model.OrderTypeMarket,
		Amount:        amount,
		Price:         optionalDecimal(price),
		Status:        phemexOrderStatus(o.OrdStatus),
		Timestamp:     time.Now().UTC(),
	}
	if o.Side == "Sell" {
		order.Side = model.OrderSideSell
	}
	if o.OrdType == "Limit" {
		order.Type = model.OrderTypeLimit
	}
	if o.ActionTimeNs > 0 {
		order.Timestamp = time.Unix(0, o.ActionTimeNs).UTC()
	}
	return order, nil
}

func phemexOrderStatus(status string) model.OrderStatus {
	switch status {
	case "Created", "Untriggered", "New", "PartiallyFilled":
		return model.OrderStatusOpen
	case "Filled":
		return model.OrderStatusClosed
	case "Canceled":
		return model.OrderStatusCanceled
	case "Rejected":
		return model.OrderStatusRejected
	case "Deactivated":
		return model.OrderStatusExpired
	}
	return model.OrderStatusUnknown
}

// openPosSide is the leg an opening order grows. One-way accounts only
// accept Merged.
func (c *PhemexClient) openPosSide(side model.OrderSide) string {
	if !c.hedgeMode {
		return "Merged"
	}
	if side == model.OrderSideSell {
		return "Short"
	}
	return "Long"
}

func (c *PhemexClient) PlaceMarketOrder(ctx context.Context, symbol model.Symbol, side model.OrderSide, qty decimal.Decimal) (model.Order, error) {
	order, err := c.PlaceOrder(ctx, symbol, side, c.openPosSide(side), qty, nil, false)
	return order, exception.WithContext(err, "PlaceMarketOrder", symbol.String())
}

func (c *PhemexClient) PlaceLimitOrder(ctx context.Context, symbol model.Symbol, side model.OrderSide, qty, price decimal.Decimal) (model.Order, error) {
	if err := c.markets.checkLimitPrice(symbol, price); err != nil {
		return model.Order{}, exception.WithContext(err, "PlaceLimitOrder", symbol.String())
	}
	order, err := c.PlaceOrder(ctx, symbol, side, c.openPosSide(side), qty, &price, false)
	return order, exception.WithContext(err, "PlaceLimitOrder", symbol.String())
}

// -----------------------------
// E) ORDER QUERY METHODS
// -----------------------------
func (c *PhemexClient) FetchOpenOrders(ctx context.Context, symbol *model.Symbol) ([]model.Order, error) {
	query := ""
	if symbol != nil {
		query = url.Values{"symbol": {c.markets.nativeID(*symbol)}}.Encode()
	}

	resp, err := c.doRequest(ctx, http.MethodGet, "/g-orders/activeList", query, nil)
	if err != nil {
		return nil, exception.WithContext(err, "FetchOpenOrders", symbolText(symbol))
	}
	if resp.Code == phemexNoOrders {
		return []model.Order{}, nil
	}
	if resp.Code != 0 {
		return nil, exception.WithContext(phemexError(http.StatusOK, resp.Code, resp.Msg, false), "FetchOpenOrders", symbolText(symbol))
	}

	var page struct {
		Rows []phemexOrder `json:"rows"`
	}
	if err := json.Unmarshal(resp.Data, &page); err != nil {
		return nil, exception.WithContext(exception.Response(err, "malformed open orders"), "FetchOpenOrders", symbolText(symbol))
	}

	orders := make([]model.Order, 0, len(page.Rows))
	for _, r := range page.Rows {
		o, err := c.toOrder(r)
		if err != nil {
			return nil, exception.WithContext(err, "FetchOpenOrders", symbolText(symbol))
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// CloseAllPositions closes ALL open positions (Long and Short) for a given symbol
// by sending MARKET orders in the opposite direction with reduceOnly enabled.
func (c *PhemexClient) CloseAllPositions(ctx context.Context, symbol model.Symbol) (model.CloseResult, error) {
	logger.WithFields(map[string]interface{}{
		"exchange": c.Name(),
		"symbol":   symbol.String(),
	}).Info("Closing ALL positions for symbol")

	rows, err := c.positions(ctx, &symbol)
	if err != nil {
		return model.CloseResult{}, exception.WithContext(err, "CloseAllPositions", symbol.String())
	}

	posSide := make(map[model.Side]string, len(rows))
	positions := make([]model.Position, 0, len(rows))
	for _, r := range rows {
		posSide[r.Side] = r.posSide
		positions = append(positions, r.Position)
	}

	result := closePositions(ctx, symbol, positions, c.closeParallel, func(ctx context.Context, p model.Position) (model.Order, error) {
		order, err := c.PlaceOrder(ctx, p.Symbol, p.Side.CloseOrderSide(), posSide[p.Side], p.Size, nil, true)
		return order, exception.WithContext(err, "CloseAllPositions", p.Symbol.String())
	})
	return result, nil
}
