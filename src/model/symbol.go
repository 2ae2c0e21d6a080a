package model

import (
	"fmt"
	"strings"
)

// knownQuotes is checked in order, so longer suffixes that end with a
// shorter one (FDUSD, BUSD, TUSD before USD) must come first.
var knownQuotes = []string{
	"USDT", "USDC", "FDUSD", "BUSD", "TUSD", "USD",
	"BTC", "ETH", "BNB", "EUR", "TRY",
}

// Symbol is a normalized trading pair.
type Symbol struct {
	Base  string
	Quote string
}

// String returns the canonical BASE/QUOTE form.
func (s Symbol) String() string {
	return s.Base + "/" + s.Quote
}

// Native returns the concatenated form used by Binance and Phemex REST.
func (s Symbol) Native() string {
	return s.Base + s.Quote
}

// IsZero reports whether the symbol is unset.
func (s Symbol) IsZero() bool {
	return s.Base == "" && s.Quote == ""
}

// MarshalText keeps the canonical form in JSON payloads.
func (s Symbol) MarshalText() ([]byte, error) {
	if s.IsZero() {
		return []byte{}, nil
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses any accepted form.
func (s *Symbol) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = Symbol{}
		return nil
	}
	parsed, err := ParseSymbol(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSymbol normalizes a trading pair.
// Examples:
//
//	BTC/USDT      -> BTC/USDT
//	btcusdt       -> BTC/USDT
//	BTC-USDT      -> BTC/USDT
//	BTC_USDT      -> BTC/USDT
//	BTC/USDT:USDT -> BTC/USDT
func ParseSymbol(raw string) (Symbol, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return Symbol{}, fmt.Errorf("symbol is empty")
	}

	// Settlement suffix used for derivatives, e.g. BTC/USDT:USDT
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}

	for _, sep := range []string{"/", "-", "_"} {
		if !strings.Contains(s, sep) {
			continue
		}
		parts := strings.Split(s, sep)
		if len(parts) != 2 || !isAlnum(parts[0]) || !isAlnum(parts[1]) {
			return Symbol{}, fmt.Errorf("malformed symbol %q", raw)
		}
		return Symbol{Base: parts[0], Quote: parts[1]}, nil
	}

	if !isAlnum(s) {
		return Symbol{}, fmt.Errorf("malformed symbol %q", raw)
	}
	for _, q := range knownQuotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return Symbol{Base: strings.TrimSuffix(s, q), Quote: q}, nil
		}
	}
	return Symbol{}, fmt.Errorf("cannot find quote currency in %q", raw)
}

// MustParseSymbol is for literals in tests and tables.
func MustParseSymbol(raw string) Symbol {
	s, err := ParseSymbol(raw)
	if err != nil {
		panic(err)
	}
	return s
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
