package controller

import (
	"context"
	"runtime/debug"

	"tradingmcp/src/exception"

	logger "github.com/sirupsen/logrus"
)

const (
	ToolOpenMarketLong  = "open_market_long"
	ToolOpenMarketShort = "open_market_short"
	ToolOpenLimitLong   = "open_limit_long"
	ToolOpenLimitShort  = "open_limit_short"
	ToolClosePosition   = "close_position"
	ToolGetBalance      = "get_balance"
	ToolGetPositions    = "get_positions"
)

// ParamType is the JSON type of a tool argument.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamNumber ParamType = "number"
)

type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
}

// Tool describes one callable operation independently of the transport.
type Tool struct {
	Name        string
	Description string
	Params      []Param
}

var (
	symbolParam = Param{Name: "symbol", Type: ParamString, Required: true,
		Description: "Trading pair, e.g. BTC/USDT or BTCUSDT"}
	usdtParam = Param{Name: "usdt_amount", Type: ParamNumber, Required: true,
		Description: "Order size in USDT"}
	priceParam = Param{Name: "price", Type: ParamNumber, Required: true,
		Description: "Limit price in USDT"}
)

// Tools lists every operation in the order it is advertised.
var Tools = []Tool{
	{Name: ToolOpenMarketLong, Description: "Open a long position with a market buy order sized in USDT",
		Params: []Param{symbolParam, usdtParam}},
	{Name: ToolOpenMarketShort, Description: "Open a short position with a market sell order sized in USDT",
		Params: []Param{symbolParam, usdtParam}},
	{Name: ToolOpenLimitLong, Description: "Place a limit buy order sized in USDT",
		Params: []Param{symbolParam, usdtParam, priceParam}},
	{Name: ToolOpenLimitShort, Description: "Place a limit sell order sized in USDT",
		Params: []Param{symbolParam, usdtParam, priceParam}},
	{Name: ToolClosePosition, Description: "Close every open position on a symbol with reduce-only market orders",
		Params: []Param{symbolParam}},
	{Name: ToolGetBalance, Description: "Get the USDT balance and every non-empty asset"},
	{Name: ToolGetPositions, Description: "List open positions",
		Params: []Param{{Name: "symbol", Type: ParamString, Description: "Only positions on this pair"}}},
}

// HasTool reports whether name is an advertised tool.
func HasTool(name string) bool {
	for _, t := range Tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Invoke runs the named tool with loosely typed arguments as they arrive
// from a transport. A panic inside a tool is turned into an error.
func (c *ToolController) Invoke(ctx context.Context, name string, args map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{
				"tool":  name,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Tool panicked")
			result, err = nil, exception.Response(nil, "internal error in %s", name)
		}
	}()

	result, err = c.dispatch(ctx, name, Args(args))
	if err != nil {
		Capture(name, err, args)
	}
	return result, err
}

func (c *ToolController) dispatch(ctx context.Context, name string, args Args) (interface{}, error) {
	switch name {
	case ToolOpenMarketLong, ToolOpenMarketShort:
		symbol, err := args.String("symbol", true)
		if err != nil {
			return nil, exception.WithContext(err, name, "")
		}
		usdt, err := args.Number("usdt_amount")
		if err != nil {
			return nil, exception.WithContext(err, name, symbol)
		}
		if name == ToolOpenMarketLong {
			return c.OpenMarketLong(ctx, symbol, usdt)
		}
		return c.OpenMarketShort(ctx, symbol, usdt)

	case ToolOpenLimitLong, ToolOpenLimitShort:
		symbol, err := args.String("symbol", true)
		if err != nil {
			return nil, exception.WithContext(err, name, "")
		}
		usdt, err := args.Number("usdt_amount")
		if err != nil {
			return nil, exception.WithContext(err, name, symbol)
		}
		price, err := args.Number("price")
		if err != nil {
			return nil, exception.WithContext(err, name, symbol)
		}
		if name == ToolOpenLimitLong {
			return c.OpenLimitLong(ctx, symbol, usdt, price)
		}
		return c.OpenLimitShort(ctx, symbol, usdt, price)

	case ToolClosePosition:
		symbol, err := args.String("symbol", true)
		if err != nil {
			return nil, exception.WithContext(err, name, "")
		}
		return c.ClosePosition(ctx, symbol)

	case ToolGetBalance:
		return c.GetBalance(ctx)

	case ToolGetPositions:
		symbol, err := args.String("symbol", false)
		if err != nil {
			return nil, exception.WithContext(err, name, "")
		}
		return c.GetPositions(ctx, symbol)
	}
	return nil, exception.Validation("unknown tool %q", name)
}
