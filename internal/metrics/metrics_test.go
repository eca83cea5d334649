package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSetStreamStateZerosOtherLabels(t *testing.T) {
	SetStreamState("ready")
	require.Equal(t, 1.0, testutil.ToFloat64(streamState.WithLabelValues("ready")))
	require.Equal(t, 0.0, testutil.ToFloat64(streamState.WithLabelValues("connecting")))

	SetStreamState("closed")
	require.Equal(t, 0.0, testutil.ToFloat64(streamState.WithLabelValues("ready")))
	require.Equal(t, 1.0, testutil.ToFloat64(streamState.WithLabelValues("closed")))
}

func TestCounterHelpersIncrement(t *testing.T) {
	IncPrediction("EURUSD", "BULLISH")
	require.Equal(t, 1.0, testutil.ToFloat64(predictionsTotal.WithLabelValues("EURUSD", "BULLISH")))

	IncTradeOpened("EURUSD", "BULLISH")
	require.Equal(t, 1.0, testutil.ToFloat64(tradesOpenedTotal.WithLabelValues("EURUSD", "BULLISH")))

	IncTradeClosed("WIN")
	require.Equal(t, 1.0, testutil.ToFloat64(tradesClosedTotal.WithLabelValues("WIN")))

	IncPercentileRefresh()
	require.GreaterOrEqual(t, testutil.ToFloat64(percentileRefreshTotal), 1.0)
}
