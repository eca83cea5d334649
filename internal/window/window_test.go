package window

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPercentileIndexesAtPTimesNOver100(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	require.Equal(t, float64(3), percentile(sorted, 25))
	require.Equal(t, float64(6), percentile(sorted, 50))
	require.Equal(t, float64(8), percentile(sorted, 75))
}

func TestPercentileEmptySlice(t *testing.T) {
	require.Equal(t, float64(0), percentile(nil, 50))
}

func TestPercentileClampsRankToLastElement(t *testing.T) {
	sorted := []float64{10, 20}
	require.Equal(t, float64(20), percentile(sorted, 99))
}

func TestComputeStatAccuracyAndPercentiles(t *testing.T) {
	group := []ExcursionRecord{
		{Instrument: "EURUSD", SessionID: "London", Model: "claude", Correct: true, MFEPips: 10, MAEPips: 3},
		{Instrument: "EURUSD", SessionID: "London", Model: "claude", Correct: true, MFEPips: 20, MAEPips: 5},
		{Instrument: "EURUSD", SessionID: "London", Model: "claude", Correct: false, MFEPips: 5, MAEPips: 12},
		{Instrument: "EURUSD", SessionID: "London", Model: "claude", Correct: true, MFEPips: 30, MAEPips: 8},
	}

	stat := computeStat(group)

	require.Equal(t, "EURUSD", stat.Instrument)
	require.Equal(t, "London", stat.SessionID)
	require.Equal(t, "claude", stat.Model)
	require.Equal(t, 4, stat.SampleCount)
	require.Equal(t, 75.0, stat.AccuracyPct)
	require.Equal(t, 20.0, stat.MFEP50)
}

func TestComputeStatSingleSample(t *testing.T) {
	group := []ExcursionRecord{
		{Instrument: "GBPUSD", SessionID: "NewYork", Model: "claude", Correct: true, MFEPips: 12, MAEPips: 4},
	}

	stat := computeStat(group)

	require.Equal(t, 1, stat.SampleCount)
	require.Equal(t, "claude", stat.Model)
	require.Equal(t, 100.0, stat.AccuracyPct)
	require.Equal(t, 12.0, stat.MFEP25)
	require.Equal(t, 12.0, stat.MFEP75)
}
