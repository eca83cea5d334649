package prewarm_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forexsim/session-engine/internal/barfeed"
	"github.com/forexsim/session-engine/internal/prewarm"
)

type fakeBarClient struct {
	fail map[string]bool
}

func (f *fakeBarClient) FetchBars(ctx context.Context, instrument string, start, end time.Time, tf barfeed.Timeframe) ([]barfeed.Bar, error) {
	if f.fail[instrument] {
		return nil, errors.New("upstream unavailable")
	}
	return []barfeed.Bar{{Close: 1.0}}, nil
}

type fakeImageGen struct {
	concurrent int32
	maxSeen    int32
}

func (f *fakeImageGen) Render(ctx context.Context, bars []barfeed.Bar, instrument, sessionID string, sessionInstant time.Time) (string, error) {
	n := atomic.AddInt32(&f.concurrent, 1)
	defer atomic.AddInt32(&f.concurrent, -1)
	for {
		old := atomic.LoadInt32(&f.maxSeen)
		if n <= old || atomic.CompareAndSwapInt32(&f.maxSeen, old, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return "/tmp/" + instrument + ".png", nil
}

func TestPrewarmBarsDropsFailuresAndKeepsSuccesses(t *testing.T) {
	bars := &fakeBarClient{fail: map[string]bool{"GBPUSD": true}}
	p := prewarm.NewPipeline(bars, &fakeImageGen{})

	p.PrewarmBars(context.Background(), []string{"EURUSD", "GBPUSD", "USDJPY"}, time.Now())

	_, ok := p.BarC.Get("EURUSD")
	require.True(t, ok)
	_, ok = p.BarC.Get("GBPUSD")
	require.False(t, ok)
	_, ok = p.BarC.Get("USDJPY")
	require.True(t, ok)
}

func TestPrewarmInputsBoundedConcurrency(t *testing.T) {
	bars := &fakeBarClient{}
	images := &fakeImageGen{}
	p := prewarm.NewPipeline(bars, images)

	instruments := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	p.PrewarmBars(context.Background(), instruments, time.Now())
	p.PrewarmInputs(context.Background(), "London", time.Now())

	require.LessOrEqual(t, int(atomic.LoadInt32(&images.maxSeen)), prewarm.RenderWidth)

	for _, instrument := range instruments {
		_, ok := p.InputC.Get(instrument)
		require.True(t, ok)
	}
}

func TestClearAllEmptiesBothCaches(t *testing.T) {
	p := prewarm.NewPipeline(&fakeBarClient{}, &fakeImageGen{})
	p.PrewarmBars(context.Background(), []string{"EURUSD"}, time.Now())
	p.PrewarmInputs(context.Background(), "Asian", time.Now())

	p.ClearAll()

	require.Empty(t, p.BarC.Instruments())
	_, ok := p.InputC.Get("EURUSD")
	require.False(t, ok)
}
