package instrument

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTickSize(t *testing.T) {
	require.Equal(t, 0.0001, TickSize("EURUSD"))
	require.Equal(t, 0.01, TickSize("USDJPY"))
	require.Equal(t, 0.01, TickSize("XAUUSD"))
	require.Equal(t, 0.001, TickSize("XAGUSD"))
}

func TestSymbolCodecRoundTrip(t *testing.T) {
	for _, sym := range TradingPairs {
		wire := ToStreamSymbol(sym)
		require.Equal(t, sym, FromStreamSymbol(wire))
	}
}

func TestToStreamSymbol(t *testing.T) {
	require.Equal(t, "C.EUR/USD", ToStreamSymbol("EURUSD"))
	require.Equal(t, "C.XAU/USD", ToStreamSymbol("XAUUSD"))
}

func TestFromStreamSymbolRejectsGarbage(t *testing.T) {
	require.Equal(t, "", FromStreamSymbol("bogus"))
}

func TestSpreadPipsFallsBackToDefault(t *testing.T) {
	require.Equal(t, 0.1, SpreadPips("EURUSD", 0.9))
	require.Equal(t, 0.9, SpreadPips("UNKNOWN", 0.9))
}
