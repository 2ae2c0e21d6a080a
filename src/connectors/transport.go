package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"time"

	"tradingmcp/src/exception"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	// Default retry configuration, reads only
	defaultRetryAttempts   = 4
	defaultRetryBaseDelay  = 300 * time.Millisecond
	defaultRetryMaxBackoff = 3 * time.Second

	defaultHTTPTimeout = 10 * time.Second
	clientOrderPrefix  = "mcp"
)

// ClientOptions is what every exchange client needs to reach its API.
type ClientOptions struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Timeout   time.Duration
	// RecvWindow bounds how long a signed request stays valid.
	RecvWindow time.Duration
	// RatePerSecond of zero disables the outbound throttle.
	RatePerSecond float64
	CloseParallel int
	// HedgeMode opens long and short legs separately. It must match the
	// position mode set on the exchange account.
	HedgeMode bool
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		// the caller gave up, another attempt cannot help
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return false
		}
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

// newReadClient retries transport failures, 408, 429 and 5xx with backoff.
func newReadClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(orDefault(timeout)).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)
}

// newTradeClient never retries: a resent order may be a duplicate order.
func newTradeClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(orDefault(timeout)).
		SetRetryCount(0)
}

func orDefault(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return defaultHTTPTimeout
	}
	return timeout
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// throttle blocks until the limiter grants a token or ctx ends. Nothing has
// been sent yet when it fails, so the outcome is always known.
func throttle(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return exception.Timeout(err, false, "rate limiter wait aborted")
	}
	return nil
}

func hmacHex(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// newClientOrderID stays under the 36 char limit Binance and Phemex share.
func newClientOrderID() string {
	return clientOrderPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:29]
}

// transportError classifies a failure that happened before any exchange
// answer was read. The request URL is dropped because it carries the
// signature.
func transportError(err error, sideEffect bool) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		if uerr.Timeout() && !errors.Is(uerr.Err, context.Canceled) {
			return exception.Timeout(uerr.Err, sideEffect, "exchange did not answer before the deadline")
		}
		err = uerr.Err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return exception.FromContext(err, sideEffect)
	}
	e := exception.Connection(err, "exchange unreachable")
	// a reset connection may have delivered the order
	e.OutcomeUnknown = sideEffect
	return e
}

// parseAmount decodes a non-negative exchange number. Anything else is a
// malformed exchange response.
func parseAmount(field, raw string) (decimal.Decimal, error) {
	d, err := parseSigned(field, raw)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, exception.Response(nil, "negative %s %s reported by exchange", field, raw)
	}
	return d, nil
}

func parseSigned(field, raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, exception.Response(err, "malformed %s %q", field, raw)
	}
	return d, nil
}

func optionalDecimal(d decimal.Decimal) *decimal.Decimal {
	if d.IsZero() {
		return nil
	}
	return &d
}

func msToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
