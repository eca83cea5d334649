// FILE: internal/instrument/instrument.go
// Package instrument – the compiled-in instrument catalog.
//
// Tick size and pip-cash-per-lot are pure functions of the symbol string,
// per spec.md §3. The 19-pair list and per-pair ECN spreads are carried
// over from the original Python implementation's config.py.
package instrument

import "strings"

// TradingPairs is the compiled-in set of instruments the engine trades.
// Matches original_source/app/config.py TRADING_PAIRS (19 pairs,
// CHF crosses excluded).
var TradingPairs = []string{
	"EURUSD", "GBPUSD", "USDJPY", "AUDUSD", "USDCAD", "NZDUSD",
	"EURGBP", "EURJPY", "GBPJPY", "EURAUD", "EURCAD", "EURNZD",
	"GBPAUD", "GBPCAD", "GBPNZD", "AUDJPY", "CADJPY",
	"XAUUSD", "XAGUSD",
}

// ecnSpreadPips mirrors original_source/app/config.py ECN_SPREADS.
var ecnSpreadPips = map[string]float64{
	"EURUSD": 0.1,
	"GBPUSD": 0.3,
	"USDJPY": 0.2,
	"AUDUSD": 0.3,
	"USDCAD": 0.4,
	"NZDUSD": 0.5,
	"EURGBP": 0.4,
	"EURJPY": 0.5,
	"GBPJPY": 0.8,
	"EURAUD": 0.6,
	"EURCAD": 0.6,
	"EURNZD": 0.8,
	"GBPAUD": 0.9,
	"GBPCAD": 0.8,
	"GBPNZD": 1.0,
	"AUDJPY": 0.5,
	"CADJPY": 0.5,
	"XAUUSD": 0.15,
	"XAGUSD": 0.02,
}

// TickSize returns the minimum price increment ("pip") for an instrument.
func TickSize(symbol string) float64 {
	switch {
	case strings.Contains(symbol, "JPY"):
		return 0.01
	case strings.HasPrefix(symbol, "XAU"):
		return 0.01
	case strings.HasPrefix(symbol, "XAG"):
		return 0.001
	default:
		return 0.0001
	}
}

// PipCashPerLot returns the approximate USD value of one pip move for one
// standard lot, derived from the quote currency. Mirrors
// original_source/app/services/risk_engine.py::calculate_position_size's
// pip_value_per_lot table.
func PipCashPerLot(symbol string) float64 {
	switch {
	case strings.Contains(symbol, "JPY"):
		return 9.0
	case strings.HasPrefix(symbol, "XAU"), strings.HasPrefix(symbol, "XAG"):
		return 10.0
	default:
		return 10.0
	}
}

// SpreadPips returns the compiled-in typical ECN spread for the instrument,
// falling back to defaultPips (DEFAULT_SPREAD_PIPS) when unlisted.
func SpreadPips(symbol string, defaultPips float64) float64 {
	if v, ok := ecnSpreadPips[symbol]; ok {
		return v
	}
	return defaultPips
}

// ToStreamSymbol converts an engine symbol ("EURUSD") to the quote feed's
// wire format ("C.EUR/USD"), per spec.md §6.
func ToStreamSymbol(symbol string) string {
	if len(symbol) < 6 {
		return "C." + symbol
	}
	return "C." + symbol[:3] + "/" + symbol[3:]
}

// FromStreamSymbol is the inverse of ToStreamSymbol: it strips the "C."
// prefix and every "/". Returns "" if the wire symbol lacks the "C."
// prefix; the rest of the shape is not checked.
func FromStreamSymbol(wire string) string {
	if !strings.HasPrefix(wire, "C.") {
		return ""
	}
	rest := strings.TrimPrefix(wire, "C.")
	return strings.ReplaceAll(rest, "/", "")
}
