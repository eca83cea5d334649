package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"RISK_PERCENT", "TP_PERCENTILE", "SL_PERCENTILE", "ROLLING_WINDOW_MONTHS",
	} {
		os.Unsetenv(k)
	}

	cfg := Load()
	require.Equal(t, 1.55, cfg.RiskPercent)
	require.Equal(t, P75, cfg.TPPercentile)
	require.Equal(t, P50, cfg.SLPercentile)
	require.Equal(t, 6, cfg.RollingWindowMonths)
}

func TestLoadPercentileRejectsGarbage(t *testing.T) {
	os.Setenv("TP_PERCENTILE", "P99")
	defer os.Unsetenv("TP_PERCENTILE")

	cfg := Load()
	require.Equal(t, P75, cfg.TPPercentile)
}

func TestLoadHonorsOverrides(t *testing.T) {
	os.Setenv("RISK_PERCENT", "2.5")
	os.Setenv("MAX_LOT_SIZE", "10")
	defer os.Unsetenv("RISK_PERCENT")
	defer os.Unsetenv("MAX_LOT_SIZE")

	cfg := Load()
	require.Equal(t, 2.5, cfg.RiskPercent)
	require.Equal(t, 10.0, cfg.MaxLotSize)
}
