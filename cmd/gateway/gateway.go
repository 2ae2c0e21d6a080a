package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"tradingmcp/src/config"
	"tradingmcp/src/connectors"
	"tradingmcp/src/controller"
	"tradingmcp/src/logging"
	"tradingmcp/src/server"
	"tradingmcp/src/service"

	logger "github.com/sirupsen/logrus"
)

var newExchange = func(cfg *config.Config) (connectors.Exchange, error) {
	return connectors.New(cfg)
}

// App is the wired process: one exchange client shared by every call.
type App struct {
	Config   *config.Config
	Exchange connectors.Exchange
	Balances *service.BalanceService
	Tools    *controller.ToolController
	Gateway  *server.Gateway
}

// Bootstrap reads the configuration, sets up logging and loads the market
// table. Any error here is fatal for the process.
func Bootstrap(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if err := logging.SetupLogger(logging.Options{
		Level:       cfg.LogLevel,
		FilePath:    cfg.LogFilePath,
		MaxSizeMB:   cfg.LogMaxSizeMB,
		MaxBackups:  cfg.LogMaxBackups,
		MaxAgeDays:  cfg.LogMaxAgeDays,
		Development: cfg.IsDevelopment(),
		Console:     os.Stderr,
	}); err != nil {
		return nil, err
	}

	exchange, err := newExchange(cfg)
	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"exchange": exchange.Name(),
		"type":     cfg.DefaultType,
		"sandbox":  cfg.SandboxMode,
	}).Info("Loading markets")

	loadCtx, cancel := context.WithTimeout(ctx, cfg.ToolTimeout)
	defer cancel()
	if err := exchange.LoadMarkets(loadCtx); err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}

	balances := service.NewBalanceService(exchange, cfg.MinimumUSDT())
	tools := controller.NewToolController(exchange, balances, cfg.ToolTimeout)

	return &App{
		Config:   cfg,
		Exchange: exchange,
		Balances: balances,
		Tools:    tools,
		Gateway:  server.NewGateway(tools, balances, cfg.ToolTimeout),
	}, nil
}

// ServeStdio blocks serving MCP over stdin/stdout.
func (a *App) ServeStdio(version string) error {
	logger.WithField("name", a.Config.ServerName).Info("Serving MCP over stdio")
	return server.ServeStdio(server.NewMCPServer(a.Config.ServerName, version, a.Gateway))
}

// ServeHTTP blocks serving the HTTP bridge until a shutdown signal.
func (a *App) ServeHTTP() {
	server.StartServer(a.Config.HTTPPort, server.NewRouter(a.Gateway))
}

// PrintBalance writes the balance summary and account status as JSON.
func (a *App) PrintBalance(ctx context.Context, w io.Writer) error {
	summary, err := a.Tools.GetBalance(ctx)
	if err != nil {
		return err
	}
	status, err := a.Balances.AccountStatus(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{
		"balance": summary,
		"status":  status,
	})
}
