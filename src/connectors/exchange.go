package connectors

import (
	"context"
	"net/http"
	"sync"

	"tradingmcp/src/config"
	"tradingmcp/src/exception"
	"tradingmcp/src/model"

	"github.com/shopspring/decimal"
)

// Exchange is the capability set every supported exchange family offers.
// Implementations are safe for concurrent use once LoadMarkets returned.
type Exchange interface {
	Name() string
	// LoadMarkets fetches the trading rules once; Market never does I/O.
	LoadMarkets(ctx context.Context) error
	Market(symbol model.Symbol) (model.Market, bool)

	FetchBalance(ctx context.Context) (model.BalanceSet, error)
	FetchTicker(ctx context.Context, symbol model.Symbol) (model.Ticker, error)
	PlaceMarketOrder(ctx context.Context, symbol model.Symbol, side model.OrderSide, qty decimal.Decimal) (model.Order, error)
	PlaceLimitOrder(ctx context.Context, symbol model.Symbol, side model.OrderSide, qty, price decimal.Decimal) (model.Order, error)
	// FetchOpenPositions returns every non-zero position, or only those of
	// symbol when it is not nil.
	FetchOpenPositions(ctx context.Context, symbol *model.Symbol) ([]model.Position, error)
	FetchOpenOrders(ctx context.Context, symbol *model.Symbol) ([]model.Order, error)
	CloseAllPositions(ctx context.Context, symbol model.Symbol) (model.CloseResult, error)
}

const (
	binanceFuturesLiveURL    = "https://fapi.binance.com"
	binanceFuturesTestnetURL = "https://testnet.binancefuture.com"
	binanceSpotLiveURL       = "https://api.binance.com"
	binanceSpotTestnetURL    = "https://testnet.binance.vision"
	phemexLiveURL            = "https://api.phemex.com"
	phemexTestnetURL         = "https://testnet-api.phemex.com"
)

// New builds the client selected by the configuration.
func New(cfg *config.Config) (Exchange, error) {
	opts := ClientOptions{
		APIKey:        cfg.APIKey,
		APISecret:     cfg.APISecret,
		BaseURL:       cfg.BaseURL,
		Timeout:       cfg.HTTPTimeout,
		RecvWindow:    cfg.RecvWindow,
		CloseParallel: cfg.CloseParallel,
		HedgeMode:     cfg.HedgeMode,
	}
	if cfg.RateLimit {
		opts.RatePerSecond = cfg.RatePerSecond
	}

	switch cfg.ExchangeID {
	case config.ExchangeBinance:
		if !cfg.Futures() {
			if opts.BaseURL == "" {
				opts.BaseURL = pick(cfg.SandboxMode, binanceSpotTestnetURL, binanceSpotLiveURL)
			}
			return NewBinanceSpotClient(opts, &http.Client{Timeout: orDefault(opts.Timeout)}), nil
		}
		if opts.BaseURL == "" {
			opts.BaseURL = pick(cfg.SandboxMode, binanceFuturesTestnetURL, binanceFuturesLiveURL)
		}
		return NewBinanceFuturesClient(opts), nil
	case config.ExchangePhemex:
		if opts.BaseURL == "" {
			opts.BaseURL = pick(cfg.SandboxMode, phemexTestnetURL, phemexLiveURL)
		}
		return NewPhemexClient(opts), nil
	}
	return nil, exception.Configuration("unsupported EXCHANGE_ID %q", cfg.ExchangeID)
}

func pick(sandbox bool, testnet, live string) string {
	if sandbox {
		return testnet
	}
	return live
}

// marketTable is written once by LoadMarkets and read by every call after.
type marketTable struct {
	mu       sync.RWMutex
	bySymbol map[model.Symbol]model.Market
	byNative map[string]model.Symbol
}

func (t *marketTable) replace(markets []model.Market) {
	bySymbol := make(map[model.Symbol]model.Market, len(markets))
	byNative := make(map[string]model.Symbol, len(markets))
	for _, m := range markets {
		bySymbol[m.Symbol] = m
		byNative[m.NativeID] = m.Symbol
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.bySymbol = bySymbol
	t.byNative = byNative
}

func (t *marketTable) get(symbol model.Symbol) (model.Market, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.bySymbol[symbol]
	return m, ok
}

func (t *marketTable) loaded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.bySymbol) > 0
}

// nativeID returns the exchange id of symbol, falling back to the
// concatenated form before markets are loaded.
func (t *marketTable) nativeID(symbol model.Symbol) string {
	if m, ok := t.get(symbol); ok && m.NativeID != "" {
		return m.NativeID
	}
	return symbol.Native()
}

// symbolOf maps an exchange id back to a normalized symbol.
func (t *marketTable) symbolOf(native string) (model.Symbol, error) {
	t.mu.RLock()
	s, ok := t.byNative[native]
	t.mu.RUnlock()
	if ok {
		return s, nil
	}
	s, err := model.ParseSymbol(native)
	if err != nil {
		return model.Symbol{}, exception.Response(err, "exchange returned an unreadable symbol")
	}
	return s, nil
}

// requireKnown fails fast with SymbolNotFound once the table is loaded.
func (t *marketTable) requireKnown(symbol model.Symbol) error {
	if !t.loaded() {
		return nil
	}
	if _, ok := t.get(symbol); !ok {
		return exception.SymbolNotFound(symbol.String(), nil)
	}
	return nil
}

// checkLimitPrice validates price against the loaded rules before any request.
func (t *marketTable) checkLimitPrice(symbol model.Symbol, price decimal.Decimal) error {
	m, _ := t.get(symbol)
	if err := m.CheckPrice(price); err != nil {
		return exception.InvalidPrice("%s", err.Error())
	}
	return nil
}

func checkQuantity(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return exception.Validation("quantity %s must be positive", qty)
	}
	return nil
}

func sameSymbolFilter(symbol *model.Symbol) func(model.Symbol) bool {
	return func(s model.Symbol) bool {
		return symbol == nil || *symbol == s
	}
}
