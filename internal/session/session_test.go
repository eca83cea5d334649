package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextSessionAlwaysFutureWeekday(t *testing.T) {
	now := time.Now().UTC()
	for i := 0; i < 50; i++ {
		probe := now.Add(time.Duration(i) * 37 * time.Minute)
		next := NextSession(probe)
		require.True(t, next.Instant.After(probe))
		wd := next.Instant.Weekday()
		require.NotEqual(t, time.Saturday, wd)
		require.NotEqual(t, time.Sunday, wd)
	}
}

// S1 — DST boundary: US clocks spring forward on Sunday 2024-03-10, a day
// NextSession skips; the first NY open after it (Monday 2024-03-11, after
// that day's London open) must already reflect the new offset (13:30Z,
// not 14:30Z).
func TestNextSessionDSTBoundary(t *testing.T) {
	now := time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC)
	next := NextSession(now)

	require.Equal(t, NewYork, next.ID)
	require.Equal(t, time.Date(2024, 3, 11, 13, 30, 0, 0, time.UTC), next.Instant)
}

func TestNextSessionOneWeekBeforeDST(t *testing.T) {
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	next := NextSession(now)

	require.Equal(t, NewYork, next.ID)
	require.Equal(t, time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC), next.Instant)
}

func TestNextSessionAsianHourInvariantAcrossDST(t *testing.T) {
	before := NextSession(time.Date(2024, 3, 3, 0, 30, 0, 0, time.UTC))
	after := NextSession(time.Date(2024, 3, 10, 0, 30, 0, 0, time.UTC))

	require.Equal(t, Asian, before.ID)
	require.Equal(t, Asian, after.ID)
	require.Equal(t, 1, before.Instant.Hour())
	require.Equal(t, 1, after.Instant.Hour())
}

func TestNextSessionFridayAfterNYOpensMonday(t *testing.T) {
	// A Friday well after the NY open; next session must be Monday Asian.
	fri := time.Date(2024, 3, 8, 22, 0, 0, 0, time.UTC)
	next := NextSession(fri)

	require.Equal(t, Asian, next.ID)
	require.Equal(t, time.Monday, next.Instant.Weekday())
}

func TestClassifyStatusWeekend(t *testing.T) {
	sat := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	require.Equal(t, StatusMarketClosed, ClassifyStatus(sat))

	mon := time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)
	require.Equal(t, StatusOpenSoon, ClassifyStatus(mon))
}
