package controller

import (
	"encoding/json"
	"math"
	"strings"

	"tradingmcp/src/exception"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// Args holds tool arguments decoded from JSON.
type Args map[string]interface{}

// String reads a string argument. Missing optional arguments are "".
func (a Args) String(name string, required bool) (string, error) {
	raw, ok := a[name]
	if !ok || raw == nil {
		if required {
			return "", exception.Validation("%s is required", name)
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", exception.Validation("%s must be a string", name)
	}
	s = strings.TrimSpace(s)
	if s == "" && required {
		return "", exception.Validation("%s must not be empty", name)
	}
	return s, nil
}

// Number reads a required numeric argument. Numeric strings are accepted
// because some clients quote decimals.
func (a Args) Number(name string) (float64, error) {
	raw, ok := a[name]
	if !ok || raw == nil {
		return 0, exception.Validation("%s is required", name)
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, exception.Validation("%s is not a number: %q", name, v.String())
		}
		return f, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return 0, exception.Validation("%s is not a number: %q", name, v)
		}
		return d.InexactFloat64(), nil
	}
	return 0, exception.Validation("%s must be a number", name)
}

// positiveAmount checks a finite positive input and converts it to decimal.
func positiveAmount(name string, v float64) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, exception.Validation("%s must be a finite number", name)
	}
	if v <= 0 {
		return decimal.Zero, exception.Validation("%s must be positive, got %v", name, v)
	}
	return decimal.NewFromFloat(v), nil
}

// Capture logs a failed tool call. Input mistakes are logged at warn, every
// other kind at error together with the serialized arguments.
func Capture(tool string, err error, args map[string]interface{}) {
	if err == nil {
		return
	}

	payload := exception.ToPayload(err)
	fields := map[string]interface{}{
		"tool":            tool,
		"kind":            payload.Kind,
		"retryable":       payload.Retryable,
		"outcome_unknown": payload.OutcomeUnknown,
	}
	if args != nil {
		if b, e := json.Marshal(args); e == nil {
			fields["args"] = string(b)
		}
	}

	entry := logger.WithFields(fields).WithError(err)
	switch payload.Kind {
	case exception.KindValidation, exception.KindSymbolNotFound, exception.KindInvalidPrice:
		entry.Warn("Tool call rejected")
	default:
		entry.Error("Tool call failed")
	}
}
