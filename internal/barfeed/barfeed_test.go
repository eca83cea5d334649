package barfeed_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forexsim/session-engine/internal/barfeed"
)

type fakeClient struct {
	bars map[string][]barfeed.Bar
}

func (f *fakeClient) FetchBars(ctx context.Context, instrument string, start, end time.Time, tf barfeed.Timeframe) ([]barfeed.Bar, error) {
	return f.bars[instrument], nil
}

func TestFakeClientSatisfiesInterface(t *testing.T) {
	var c barfeed.Client = &fakeClient{bars: map[string][]barfeed.Bar{
		"EURUSD": {{Close: 1.1}},
	}}
	bars, err := c.FetchBars(context.Background(), "EURUSD", time.Now(), time.Now(), barfeed.Timeframe15m)
	require.NoError(t, err)
	require.Len(t, bars, 1)
}
