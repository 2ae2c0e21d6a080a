package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tradingmcp/cmd/gateway"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var Version = "dev"

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()
	decimal.MarshalJSONWithoutQuotes = true
	// stdout belongs to the MCP protocol
	logrus.SetOutput(os.Stderr)

	app := cli.NewApp()
	app.Name = "Trading MCP"
	app.Usage = "Exchange operations exposed as agent tools"
	app.Version = Version

	app.Commands = []cli.Command{
		stdioCMD,
		httpCMD,
		balanceCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	stdioCMD = cli.Command{
		Name:        "stdio",
		Usage:       "serve MCP over stdio",
		Action:      stdioAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Serve tools and account resources to an MCP client on stdin/stdout`,
	}
	httpCMD = cli.Command{
		Name:        "http",
		Usage:       "serve the HTTP bridge",
		Action:      httpAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Serve the same tools over HTTP on HTTP_PORT`,
	}
	balanceCMD = cli.Command{
		Name:        "balance",
		Usage:       "print the account balance",
		Action:      balanceAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Print the USDT balance and account status once and exit`,
	}
)

func bootstrap(ctx context.Context, cmd string) (*gateway.App, error) {
	logrus.WithField("cmd", cmd).Info("Starting CMD")
	app, err := gateway.Bootstrap(ctx)
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return nil, err
	}
	return app, nil
}

func stdioAction(_ *cli.Context) error {
	app, err := bootstrap(context.Background(), "stdio")
	if err != nil {
		return err
	}
	if err := app.ServeStdio(Version); err != nil {
		logrus.WithError(err).Error("MCP server stopped")
		return err
	}
	return nil
}

func httpAction(_ *cli.Context) error {
	app, err := bootstrap(context.Background(), "http")
	if err != nil {
		return err
	}
	app.ServeHTTP()
	return nil
}

func balanceAction(_ *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap(ctx, "balance")
	if err != nil {
		return err
	}
	return app.PrintBalance(ctx, os.Stdout)
}
