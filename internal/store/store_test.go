package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forexsim/session-engine/internal/stream"
)

func TestAdjustEntryForSpreadLongPaysAsk(t *testing.T) {
	got := adjustEntryForSpread(1.1000, 0.5, "EURUSD", stream.Long)
	require.InDelta(t, 1.10005, got, 1e-9)
}

func TestAdjustEntryForSpreadShortPaysBid(t *testing.T) {
	got := adjustEntryForSpread(1.1000, 0.5, "EURUSD", stream.Short)
	require.InDelta(t, 1.09995, got, 1e-9)
}

func TestCalculateCommissionIsRoundtrip(t *testing.T) {
	require.InDelta(t, 7.0, calculateCommission(1.0, 3.5), 1e-9)
	require.InDelta(t, 3.5, calculateCommission(0.5, 3.5), 1e-9)
}

func TestClassifyOutcomeBuckets(t *testing.T) {
	require.Equal(t, OutcomeWin, classifyOutcome(12.5))
	require.Equal(t, OutcomeLoss, classifyOutcome(-8.25))
	require.Equal(t, OutcomeBreakeven, classifyOutcome(0))
}

func TestRoundingHelpers(t *testing.T) {
	require.Equal(t, 2.3, round1(2.34))
	require.Equal(t, 2.4, round1(2.35))
	require.Equal(t, 12.35, round2(12.3456))
	require.Equal(t, -2.35, round2(-2.3456))
}

func TestAccountWinRateExcludesBreakevens(t *testing.T) {
	a := Account{TotalTrades: 10, WinningTrades: 6, LosingTrades: 3}
	require.InDelta(t, 66.666, a.WinRate(), 0.01)
}

func TestAccountWinRateZeroDecidedTrades(t *testing.T) {
	a := Account{}
	require.Equal(t, 0.0, a.WinRate())
}

func TestAccountPnLPct(t *testing.T) {
	a := Account{Balance: 11000, InitialBalance: 10000}
	require.InDelta(t, 10.0, a.PnLPct(), 1e-9)
}

func TestPositionIsClosed(t *testing.T) {
	p := Position{}
	require.False(t, p.IsClosed())

	closedAt := p.CreatedAt
	p.ClosedAt = &closedAt
	require.True(t, p.IsClosed())
}
