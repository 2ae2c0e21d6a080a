package connectors

import (
	"context"

	"tradingmcp/src/exception"
	"tradingmcp/src/model"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const defaultCloseParallel = 2

type closeFunc func(ctx context.Context, p model.Position) (model.Order, error)

// closePositions sends one closing order per position, at most limit at a
// time, and waits for every attempt. A failed close never cancels the others.
func closePositions(ctx context.Context, symbol model.Symbol, positions []model.Position, limit int, closeOne closeFunc) model.CloseResult {
	if limit < 1 {
		limit = defaultCloseParallel
	}

	type outcome struct {
		order model.Order
		err   error
	}
	outcomes := make([]outcome, len(positions))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, p := range positions {
		g.Go(func() error {
			order, err := closeOne(ctx, p)
			outcomes[i] = outcome{order: order, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var closed []model.Order
	var failed []model.CloseFailure
	for i, o := range outcomes {
		p := positions[i]
		if o.err == nil {
			closed = append(closed, o.order)
			continue
		}

		payload := exception.ToPayload(o.err)
		logger.WithFields(map[string]interface{}{
			"symbol": p.Symbol.String(),
			"side":   p.Side,
			"size":   p.Size.String(),
			"kind":   payload.Kind,
		}).WithError(o.err).Error("Failed to close position")

		failed = append(failed, model.CloseFailure{
			Symbol: p.Symbol,
			Side:   p.Side,
			Size:   p.Size,
			Kind:   string(payload.Kind),
			Reason: payload.Message,
		})
	}

	result := model.NewCloseResult(symbol, closed, failed)
	logger.WithFields(map[string]interface{}{
		"symbol": symbol.String(),
		"status": result.Status,
		"closed": len(result.Closed),
		"failed": len(result.Failed),
	}).Info("Close positions finished")
	return result
}
