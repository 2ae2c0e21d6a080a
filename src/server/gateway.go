package server

import (
	"context"
	"time"

	"tradingmcp/src/controller"
	"tradingmcp/src/exception"
	"tradingmcp/src/service"
)

type toolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)
}

type statusReader interface {
	AccountStatus(ctx context.Context) (service.AccountStatus, error)
}

// Resource is a read-only view served by both transports.
type Resource struct {
	URI         string
	Path        string
	Name        string
	Description string
	read        func(ctx context.Context) (interface{}, error)
}

// Gateway joins the tool controller and the account views behind one
// transport-neutral surface.
type Gateway struct {
	tools   toolInvoker
	account statusReader
	timeout time.Duration
}

func NewGateway(tools toolInvoker, account statusReader, timeout time.Duration) *Gateway {
	return &Gateway{tools: tools, account: account, timeout: timeout}
}

func (g *Gateway) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	return g.tools.Invoke(ctx, name, args)
}

func (g *Gateway) status(ctx context.Context) (interface{}, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	status, err := g.account.AccountStatus(ctx)
	if err != nil {
		return nil, exception.WithContext(err, "account_status", "")
	}
	return status, nil
}

// Resources lists the account views in the order they are advertised.
func (g *Gateway) Resources() []Resource {
	return []Resource{
		{
			URI: "account://balance", Path: "balance", Name: "Account balance",
			Description: "USDT balance and every non-empty asset",
			read: func(ctx context.Context) (interface{}, error) {
				return g.tools.Invoke(ctx, controller.ToolGetBalance, nil)
			},
		},
		{
			URI: "account://positions", Path: "positions", Name: "Open positions",
			Description: "Every open position on the account",
			read: func(ctx context.Context) (interface{}, error) {
				return g.tools.Invoke(ctx, controller.ToolGetPositions, nil)
			},
		},
		{
			URI: "account://status", Path: "status", Name: "Account status",
			Description: "Minimum balance check, open orders and open position count",
			read:        g.status,
		},
	}
}

// ReadResource looks a resource up by URI or bridge path.
func (g *Gateway) ReadResource(ctx context.Context, key string) (interface{}, bool, error) {
	for _, r := range g.Resources() {
		if r.URI == key || r.Path == key {
			out, err := r.read(ctx)
			return out, true, err
		}
	}
	return nil, false, nil
}
