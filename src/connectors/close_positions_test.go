package connectors

import (
	"context"
	"errors"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"tradingmcp/src/config"
	"tradingmcp/src/exception"
	"tradingmcp/src/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClosePositionsBoundedAndAllSettled(t *testing.T) {
	positions := make([]model.Position, 5)
	for i := range positions {
		positions[i] = model.Position{Symbol: btcUSDT, Side: model.SideLong, Size: decimal.NewFromInt(int64(i + 1))}
	}

	var running, peak int32
	result := closePositions(context.Background(), btcUSDT, positions, 2, func(ctx context.Context, p model.Position) (model.Order, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)

		if p.Size.Equal(decimal.NewFromInt(1)) {
			return model.Order{}, exception.OrderRejected(nil, "reduce only rejected")
		}
		return model.Order{ID: p.Size.String()}, nil
	})

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, model.CloseStatusPartiallyClosed, result.Status)
	require.Len(t, result.Closed, 4)
	require.Len(t, result.Failed, 1)
	// input order is kept
	assert.Equal(t, []string{"2", "3", "4", "5"}, []string{result.Closed[0].ID, result.Closed[1].ID, result.Closed[2].ID, result.Closed[3].ID})
	assert.Equal(t, string(exception.KindOrderRejected), result.Failed[0].Kind)
}

func TestClosePositionsAllFail(t *testing.T) {
	positions := []model.Position{{Symbol: btcUSDT, Side: model.SideShort, Size: decimal.NewFromInt(1)}}
	result := closePositions(context.Background(), btcUSDT, positions, 0, func(context.Context, model.Position) (model.Order, error) {
		return model.Order{}, errors.New("boom")
	})
	assert.Equal(t, model.CloseStatusNoneClosed, result.Status)
	assert.Equal(t, string(exception.KindResponse), result.Failed[0].Kind)
	assert.NotNil(t, result.Closed)
}

func TestTransportErrorHidesURL(t *testing.T) {
	err := transportError(&url.Error{
		Op:  "Post",
		URL: "https://fapi.binance.com/fapi/v1/order?signature=deadbeef",
		Err: errors.New("connection reset by peer"),
	}, true)

	var e *exception.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, exception.KindConnection, e.Kind)
	assert.True(t, e.OutcomeUnknown)
	assert.NotContains(t, err.Error(), "deadbeef")

	err = transportError(&url.Error{Op: "Get", URL: "https://x", Err: context.DeadlineExceeded}, false)
	require.ErrorAs(t, err, &e)
	assert.True(t, e.Timeout)
	assert.False(t, e.OutcomeUnknown)
	assert.True(t, e.Retryable())
}

func TestThrottle(t *testing.T) {
	assert.NoError(t, throttle(context.Background(), nil))

	limiter := newLimiter(1)
	require.NoError(t, throttle(context.Background(), limiter))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := throttle(ctx, limiter)
	require.Error(t, err)
	assert.Equal(t, exception.KindConnection, exception.KindOf(err))
	assert.False(t, exception.ToPayload(err).OutcomeUnknown)
}

func TestClientOrderID(t *testing.T) {
	a, b := newClientOrderID(), newClientOrderID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 32)
}

func TestClassifyFallbacks(t *testing.T) {
	assert.Equal(t, exception.KindResponse, classify(apiFailure{Status: 400, Code: -9999}, binanceErrorKinds, nil, false).Kind)
	assert.Equal(t, exception.KindOrderRejected, classify(apiFailure{Status: 400, Code: -9999}, binanceErrorKinds, nil, true).Kind)
	assert.Equal(t, exception.KindConnection, classify(apiFailure{Status: 403}, binanceErrorKinds, nil, false).Kind)

	e := classify(apiFailure{Status: 500}, binanceErrorKinds, nil, true)
	assert.Equal(t, exception.KindConnection, e.Kind)
	assert.True(t, e.OutcomeUnknown)

	e = classify(apiFailure{Code: -1007}, binanceErrorKinds, binanceUnknownOutcome, true)
	assert.True(t, e.Timeout)
	assert.True(t, e.OutcomeUnknown)

	code, ok := codeFromMessage(`Response:{"code": -2019,"msg":"Margin is insufficient."}`)
	assert.True(t, ok)
	assert.Equal(t, -2019, code)
	assert.Equal(t, "UNKNOWN_PHEMEX_ERROR_1", GetErrorMsg(1))
}

func TestNewSelectsClient(t *testing.T) {
	base := config.Config{APIKey: "k", APISecret: "s", SandboxMode: true, CloseParallel: 2, RateLimit: true, RatePerSecond: 5}

	futures := base
	futures.ExchangeID, futures.DefaultType = config.ExchangeBinance, config.TypeFuture
	ex, err := New(&futures)
	require.NoError(t, err)
	fc, ok := ex.(*BinanceFuturesClient)
	require.True(t, ok)
	assert.Equal(t, binanceFuturesTestnetURL, fc.http.BaseURL)
	assert.NotNil(t, fc.limiter)

	margin := futures
	margin.DefaultType = config.TypeMargin
	margin.SandboxMode = false
	margin.RateLimit = false
	ex, err = New(&margin)
	require.NoError(t, err)
	fc = ex.(*BinanceFuturesClient)
	assert.Equal(t, binanceFuturesLiveURL, fc.http.BaseURL)
	assert.Nil(t, fc.limiter)

	phemex := base
	phemex.ExchangeID, phemex.DefaultType = config.ExchangePhemex, config.TypeFuture
	phemex.BaseURL = "http://override"
	ex, err = New(&phemex)
	require.NoError(t, err)
	assert.Equal(t, "phemex", ex.Name())
	assert.Equal(t, "http://override", ex.(*PhemexClient).baseURL)

	unknown := base
	unknown.ExchangeID = "ftx"
	_, err = New(&unknown)
	assert.Equal(t, exception.KindConfiguration, exception.KindOf(err))
}
