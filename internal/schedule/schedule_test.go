package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forexsim/session-engine/internal/session"
)

func TestScheduleSkipsPastDeadlines(t *testing.T) {
	s := New()
	s.Start(context.Background())
	defer s.Stop()

	var prewarmBars, execute int32
	sess := session.Session{ID: session.London, Instant: time.Now().Add(30 * time.Millisecond)}

	s.Schedule(sess, Handlers{
		PrewarmBars:   func(ctx context.Context, s session.Session) { atomic.AddInt32(&prewarmBars, 1) },
		PrewarmInputs: func(ctx context.Context, s session.Session) {},
		Execute:       func(ctx context.Context, s session.Session) { atomic.AddInt32(&execute, 1) },
		Reconcile:     func(ctx context.Context, s session.Session) {},
	})

	time.Sleep(80 * time.Millisecond)

	// prewarm deadlines are far in the past relative to a 30ms-out
	// session; only execute (and reconcile, 4h out) should ever fire.
	require.EqualValues(t, 0, atomic.LoadInt32(&prewarmBars))
	require.EqualValues(t, 1, atomic.LoadInt32(&execute))
}

func TestScheduleRecoversPanickingHandler(t *testing.T) {
	s := New()
	s.Start(context.Background())
	defer s.Stop()

	done := make(chan struct{})
	sess := session.Session{ID: session.Asian, Instant: time.Now().Add(10 * time.Millisecond)}

	s.Schedule(sess, Handlers{
		PrewarmBars:   func(ctx context.Context, s session.Session) {},
		PrewarmInputs: func(ctx context.Context, s session.Session) {},
		Execute: func(ctx context.Context, s session.Session) {
			defer close(done)
			panic("boom")
		},
		Reconcile: func(ctx context.Context, s session.Session) {},
	})

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("execute handler never ran")
	}
	// scheduler must still be usable after a handler panic
	require.NotPanics(t, func() { s.CancelAll() })
}

func TestCancelAllStopsTimers(t *testing.T) {
	s := New()
	s.Start(context.Background())
	defer s.Stop()

	var fired int32
	sess := session.Session{ID: session.Asian, Instant: time.Now().Add(50 * time.Millisecond)}
	s.Schedule(sess, Handlers{
		PrewarmBars:   func(ctx context.Context, s session.Session) { atomic.AddInt32(&fired, 1) },
		PrewarmInputs: func(ctx context.Context, s session.Session) { atomic.AddInt32(&fired, 1) },
		Execute:       func(ctx context.Context, s session.Session) { atomic.AddInt32(&fired, 1) },
		Reconcile:     func(ctx context.Context, s session.Session) { atomic.AddInt32(&fired, 1) },
	})
	s.CancelAll()
	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&fired))
}
