package service

import (
	"context"

	"tradingmcp/src/exception"
	"tradingmcp/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// accountReader is the part of the exchange adapter the balance service reads.
type accountReader interface {
	FetchBalance(ctx context.Context) (model.BalanceSet, error)
	FetchOpenOrders(ctx context.Context, symbol *model.Symbol) ([]model.Order, error)
	FetchOpenPositions(ctx context.Context, symbol *model.Symbol) ([]model.Position, error)
}

// BalanceSummary is the USDT view plus every non-empty asset.
type BalanceSummary struct {
	model.USDTBalance
	Assets []model.Balance `json:"assets"`
}

// AccountStatus backs the account://status resource. HasOpenOrders is nil
// when the exchange cannot list orders without a symbol.
type AccountStatus struct {
	MeetsMinimumUSDT bool            `json:"meets_minimum_usdt"`
	MinimumUSDT      decimal.Decimal `json:"minimum_usdt"`
	AvailableUSDT    decimal.Decimal `json:"available_usdt"`
	HasOpenOrders    *bool           `json:"has_open_orders"`
	OpenPositions    int             `json:"open_positions"`
}

type BalanceService struct {
	exchange accountReader
	minimum  decimal.Decimal
}

func NewBalanceService(exchange accountReader, minimum decimal.Decimal) *BalanceService {
	return &BalanceService{exchange: exchange, minimum: minimum}
}

func (s *BalanceService) GetFormattedBalance(ctx context.Context) (BalanceSummary, error) {
	set, err := s.exchange.FetchBalance(ctx)
	if err != nil {
		return BalanceSummary{}, exception.WithContext(err, "GetFormattedBalance", "")
	}

	usdt, ok := set[model.SettlementCurrency]
	if !ok {
		return BalanceSummary{}, exception.WithContext(
			exception.Response(nil, "balance has no %s entry", model.SettlementCurrency), "GetFormattedBalance", "")
	}

	assets := make([]model.Balance, 0, len(set))
	for _, currency := range set.Currencies() {
		if b := set[currency]; !b.IsZero() {
			assets = append(assets, b)
		}
	}

	summary := BalanceSummary{USDTBalance: model.NewUSDTBalance(usdt), Assets: assets}
	logger.WithFields(map[string]interface{}{
		"available_usdt": summary.Available.String(),
		"total_usdt":     summary.Total.String(),
		"assets":         len(assets),
	}).Debug("Balance fetched")
	return summary, nil
}

func (s *BalanceService) HasMinimumUSDT(ctx context.Context, threshold decimal.Decimal) (bool, error) {
	if threshold.IsNegative() {
		return false, exception.Validation("minimum USDT %s must not be negative", threshold)
	}
	summary, err := s.GetFormattedBalance(ctx)
	if err != nil {
		return false, exception.WithContext(err, "HasMinimumUSDT", "")
	}
	return summary.MeetsMinimum(threshold), nil
}

func (s *BalanceService) HasOpenOrders(ctx context.Context, symbol *model.Symbol) (bool, error) {
	orders, err := s.exchange.FetchOpenOrders(ctx, symbol)
	if err != nil {
		sym := ""
		if symbol != nil {
			sym = symbol.String()
		}
		return false, exception.WithContext(err, "HasOpenOrders", sym)
	}
	return len(orders) > 0, nil
}

// AccountStatus reads balance, orders and positions concurrently.
func (s *BalanceService) AccountStatus(ctx context.Context) (AccountStatus, error) {
	var (
		summary   BalanceSummary
		hasOrders *bool
		positions []model.Position
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		summary, err = s.GetFormattedBalance(gctx)
		return err
	})
	g.Go(func() error {
		open, err := s.HasOpenOrders(gctx, nil)
		if exception.Is(err, exception.KindValidation) {
			logger.WithError(err).Debug("Open orders need a symbol on this exchange")
			return nil
		}
		if err != nil {
			return err
		}
		hasOrders = &open
		return nil
	})
	g.Go(func() error {
		var err error
		positions, err = s.exchange.FetchOpenPositions(gctx, nil)
		return exception.WithContext(err, "AccountStatus", "")
	})
	if err := g.Wait(); err != nil {
		return AccountStatus{}, err
	}

	return AccountStatus{
		MeetsMinimumUSDT: summary.MeetsMinimum(s.minimum),
		MinimumUSDT:      s.minimum,
		AvailableUSDT:    summary.Available,
		HasOpenOrders:    hasOrders,
		OpenPositions:    len(positions),
	}, nil
}
