package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseExcursionRowRequiredFields(t *testing.T) {
	rec, err := parseExcursionRow(map[string]string{
		"instrument":       "EURUSD",
		"session_id":       "London",
		"session_instant":  "2026-07-30T08:00:00Z",
		"model":            "claude-3-5-sonnet",
		"prediction":       "BULLISH",
		"correct":          "true",
		"mfe_pips":         "18.5",
		"mae_pips":         "6.2",
	})
	require.NoError(t, err)
	require.Equal(t, "EURUSD", rec.Instrument)
	require.True(t, rec.Correct)
	require.InDelta(t, 18.5, rec.MFEPips, 1e-9)
	require.Equal(t, time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC), rec.SessionInstant)
	require.Nil(t, rec.MFEFirst)
	require.Nil(t, rec.TimeToMFEMinutes)
}

func TestParseExcursionRowOptionalFields(t *testing.T) {
	rec, err := parseExcursionRow(map[string]string{
		"instrument":          "GBPUSD",
		"session_id":          "NewYork",
		"session_instant":     "2026-07-30T09:30:00Z",
		"model":               "claude-3-5-sonnet",
		"prediction":          "BEARISH",
		"correct":             "false",
		"mfe_pips":            "4.1",
		"mae_pips":            "22.0",
		"mfe_first":           "false",
		"time_to_mfe_minutes": "15",
		"time_to_mae_minutes": "90",
	})
	require.NoError(t, err)
	require.NotNil(t, rec.MFEFirst)
	require.False(t, *rec.MFEFirst)
	require.Equal(t, 15, *rec.TimeToMFEMinutes)
	require.Equal(t, 90, *rec.TimeToMAEMinutes)
}

func TestParseExcursionRowRejectsBadTimestamp(t *testing.T) {
	_, err := parseExcursionRow(map[string]string{
		"session_instant": "not-a-time",
		"correct":         "true",
		"mfe_pips":        "1",
		"mae_pips":        "1",
	})
	require.Error(t, err)
}

func TestLoadExcursionCSVParsesHeaderRow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "baseline.csv")
	content := "instrument,session_id,session_instant,model,prediction,correct,mfe_pips,mae_pips\n" +
		"EURUSD,London,2026-07-30T08:00:00Z,claude,BULLISH,true,18.5,6.2\n" +
		"GBPUSD,NewYork,2026-07-30T09:30:00Z,claude,BEARISH,false,4.1,22.0\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	recs, err := loadExcursionCSV(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "EURUSD", recs[0].Instrument)
	require.Equal(t, "GBPUSD", recs[1].Instrument)
}
