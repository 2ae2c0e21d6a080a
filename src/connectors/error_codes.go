package connectors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"tradingmcp/src/exception"
)

// PhemexErrorCodes maps Phemex bizError codes to human-readable messages.
var PhemexErrorCodes = map[int]string{
	10001: "OM_DUPLICATE_ORDERID",           // Duplicated client order ID
	10002: "OM_ORDER_NOT_FOUND",             // No matching order (also "no active orders")
	10500: "OM_SERVER_BUSY",                 // Matching engine busy, order state unknown
	11001: "TE_NO_ENOUGH_AVAILABLE_BALANCE", // Insufficient available balance
	11003: "TE_INVALID_ARGUMENT",            // Invalid argument (e.g. missing or wrong param)
	11005: "TE_MAINTENANCE_MODE",            // System maintenance mode
	11011: "TE_REDUCE_ONLY_ABORT",           // reduce-only order aborted / not allowed
	11012: "TE_REPLACE_TO_INVALID_QTY",      // Invalid quantity in order
	11013: "TE_REPLACE_TO_INVALID_PRICE",    // Invalid price in order
	11015: "TE_PRICE_TOO_SMALL",             // Price below minimum increment / tick size
	11016: "TE_PRICE_TOO_LARGE",             // Price too large
	11017: "TE_QTY_TOO_SMALL",               // Quantity below minimum
	11018: "TE_QTY_TOO_LARGE",               // Quantity above maximum
	11019: "TE_VALUE_TOO_SMALL",             // Value (price × qty) too small
	11020: "TE_VALUE_TOO_LARGE",             // Value too large
	11037: "TE_USER_NOT_EXIST",              // User account does not exist or is disabled
	11050: "TE_RISK_LIMIT_EXCEEDED",         // Risk limit exceeded
	11051: "TE_INSUFFICIENT_BALANCE",        // Not enough balance
	11052: "TE_INSUFFICIENT_MARGIN",         // Not enough margin
	11062: "TE_POSITION_NOT_EXIST",          // Position not exist
	11066: "TE_ORDER_UNSUPPORTED",           // Unsupported order type
	11067: "TE_ORDER_DISABLED",              // Order disabled for this symbol
	11070: "TE_MARKET_CLOSED",               // Market closed
	11071: "TE_RESTRICTED_REGION",           // Region restricted
	11120: "TE_CONTRACT_NOT_FOUND",          // Contract (symbol) not found
	19999: "REQUEST_IS_DUPLICATED",          // Same request sent twice
}

var phemexErrorKinds = map[int]exception.Kind{
	11001: exception.KindInsufficientBalance,
	11051: exception.KindInsufficientBalance,
	11052: exception.KindInsufficientBalance,
	11013: exception.KindInvalidPrice,
	11015: exception.KindInvalidPrice,
	11016: exception.KindInvalidPrice,
	11120: exception.KindSymbolNotFound,
	11005: exception.KindConnection,
	11037: exception.KindConnection,
}

// BinanceErrorCodes maps the Binance codes the gateway treats specially.
var BinanceErrorCodes = map[int]string{
	-1001: "DISCONNECTED",
	-1003: "TOO_MANY_REQUESTS",
	-1007: "TIMEOUT",
	-1013: "FILTER_FAILURE",
	-1021: "INVALID_TIMESTAMP",
	-1022: "INVALID_SIGNATURE",
	-1111: "BAD_PRECISION",
	-1121: "BAD_SYMBOL",
	-2010: "NEW_ORDER_REJECTED",
	-2014: "BAD_API_KEY_FMT",
	-2015: "REJECTED_MBX_KEY",
	-2019: "MARGIN_NOT_SUFFICIENT",
	-2022: "REDUCE_ONLY_REJECT",
	-4013: "PRICE_LESS_THAN_MIN_PRICE",
	-4014: "PRICE_NOT_INCREASED_BY_TICK_SIZE",
	-4016: "PRICE_GREATER_THAN_MAX_PRICE",
	-4164: "MIN_NOTIONAL",
}

var binanceErrorKinds = map[int]exception.Kind{
	-1001: exception.KindConnection,
	-1003: exception.KindConnection,
	-1021: exception.KindConnection,
	-1022: exception.KindConnection,
	-2014: exception.KindConnection,
	-2015: exception.KindConnection,
	-1121: exception.KindSymbolNotFound,
	-2019: exception.KindInsufficientBalance,
	-4013: exception.KindInvalidPrice,
	-4014: exception.KindInvalidPrice,
	-4016: exception.KindInvalidPrice,
}

// Codes that mean the exchange may or may not have acted on the request.
var (
	binanceUnknownOutcome = map[int]bool{-1007: true}
	phemexUnknownOutcome  = map[int]bool{10500: true}
)

// GetErrorMsg returns a human-readable message for a given Phemex error code.
// If the code is unknown, returns a generic message including the code.
func GetErrorMsg(code int) string {
	if msg, ok := PhemexErrorCodes[code]; ok {
		return msg
	}
	return fmt.Sprintf("UNKNOWN_PHEMEX_ERROR_%d", code)
}

func binanceErrorName(code int) string {
	if msg, ok := BinanceErrorCodes[code]; ok {
		return msg
	}
	return fmt.Sprintf("UNKNOWN_BINANCE_ERROR_%d", code)
}

// apiFailure is the decoded error answer of an exchange.
type apiFailure struct {
	Status int
	Code   int
	Msg    string
	Name   string
}

func (f apiFailure) Error() string {
	if f.Msg == "" {
		return fmt.Sprintf("HTTP %d code %d %s", f.Status, f.Code, f.Name)
	}
	return fmt.Sprintf("HTTP %d code %d %s: %s", f.Status, f.Code, f.Name, f.Msg)
}

// classify turns an exchange error answer into the taxonomy. Unlisted codes
// become rejections for orders and response errors for reads.
func classify(f apiFailure, kinds map[int]exception.Kind, unknownOutcome map[int]bool, sideEffect bool) *exception.Error {
	if unknownOutcome[f.Code] {
		return exception.Timeout(f, sideEffect, "exchange could not confirm the request")
	}

	kind, ok := kinds[f.Code]
	if !ok {
		switch {
		case f.Status == http.StatusUnauthorized || f.Status == http.StatusForbidden:
			kind = exception.KindConnection
		case f.Status == http.StatusTooManyRequests || f.Status == http.StatusRequestTimeout || f.Status >= 500:
			kind = exception.KindConnection
		case sideEffect:
			kind = exception.KindOrderRejected
		default:
			kind = exception.KindResponse
		}
	}

	switch kind {
	case exception.KindConnection:
		e := exception.Connection(f, "exchange refused the request")
		// a 5xx answer to an order does not say whether it was booked
		e.OutcomeUnknown = sideEffect && f.Status >= 500
		return e
	case exception.KindSymbolNotFound:
		return exception.SymbolNotFound("", f)
	case exception.KindInsufficientBalance:
		return exception.InsufficientBalance(f, "not enough balance or margin")
	case exception.KindInvalidPrice:
		return exception.InvalidPrice("%s", f.Error())
	case exception.KindOrderRejected:
		return exception.OrderRejected(f, "order rejected by exchange")
	}
	return exception.Response(f, "unexpected exchange answer")
}

type binanceErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func binanceFailure(status int, body []byte) apiFailure {
	var b binanceErrorBody
	_ = json.Unmarshal(body, &b)
	f := apiFailure{Status: status, Code: b.Code, Msg: b.Msg}
	if b.Code == 0 && b.Msg == "" {
		f.Msg = truncate(string(body), 200)
	}
	f.Name = binanceErrorName(f.Code)
	return f
}

func binanceError(status int, body []byte, sideEffect bool) *exception.Error {
	return classifyBinance(binanceFailure(status, body), sideEffect)
}

// classifyBinance reads -2010 NEW_ORDER_REJECTED by its message: it covers
// every new-order rejection, only some of which are about balance.
func classifyBinance(f apiFailure, sideEffect bool) *exception.Error {
	if f.Code == -2010 && strings.Contains(strings.ToLower(f.Msg), "insufficient balance") {
		return exception.InsufficientBalance(f, "not enough balance or margin")
	}
	return classify(f, binanceErrorKinds, binanceUnknownOutcome, sideEffect)
}

func phemexError(status, code int, msg string, sideEffect bool) *exception.Error {
	f := apiFailure{Status: status, Code: code, Msg: msg, Name: GetErrorMsg(code)}
	return classify(f, phemexErrorKinds, phemexUnknownOutcome, sideEffect)
}

var embeddedBinanceCode = regexp.MustCompile(`"code"\s*:\s*(-?\d+)`)

// codeFromMessage digs a Binance code out of an error produced by a library
// that only returns the raw body as text.
func codeFromMessage(msg string) (int, bool) {
	m := embeddedBinanceCode.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	code, err := strconv.Atoi(m[1])
	return code, err == nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
