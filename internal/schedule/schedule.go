// FILE: internal/schedule/schedule.go
// Package schedule – C2 Deadline Scheduler.
//
// For a session instant T, Schedule enqueues four one-shot timers at
// T-120s, T-60s, T+0s, T+4h, each firing its corresponding handler exactly
// once. A deadline already in the past at scheduling time is skipped, not
// back-fired. A daily recurring trigger at 00:00 UTC invokes the cleanup
// handler.
//
// Handlers run concurrently with the scheduler loop but never concurrently
// with themselves; a panic inside a handler is recovered and logged so it
// can never bring down the process or cancel sibling deadlines.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/forexsim/session-engine/internal/logging"
	"github.com/forexsim/session-engine/internal/session"
)

// Handlers bundles the four per-session callbacks plus the daily cleanup.
type Handlers struct {
	PrewarmBars   func(ctx context.Context, s session.Session)
	PrewarmInputs func(ctx context.Context, s session.Session)
	Execute       func(ctx context.Context, s session.Session)
	Reconcile     func(ctx context.Context, s session.Session)
	DailyCleanup  func(ctx context.Context)
}

// PrewarmBarsLead is T-120s, matching config.OHLCPrewarmSeconds default.
const PrewarmBarsLead = 120 * time.Second

// PrewarmInputsLead is T-60s, matching config.InputPrewarmSeconds default.
const PrewarmInputsLead = 60 * time.Second

// ReconcileLag is T+4h.
const ReconcileLag = 4 * time.Hour

// Scheduler owns the live set of timers and the daily cron entry.
type Scheduler struct {
	log zerolog.Logger

	mu     sync.Mutex
	timers []*time.Timer
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Scheduler; call Start before Schedule.
func New() *Scheduler {
	return &Scheduler{
		log:  logging.For("schedule"),
		cron: cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start begins the scheduler's lifetime context and the cron runner.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
}

// Stop cancels all scheduled deadlines and the cron runner. In-flight
// handlers are not forcibly terminated; they cooperatively observe
// ctx.Done() if they choose to.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.cron.Stop()
}

// CancelAll stops every pending one-shot timer without touching the daily
// cron entry.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

// ScheduleDailyCleanup registers the 00:00 UTC recurring trigger. Safe to
// call once at process start.
func (s *Scheduler) ScheduleDailyCleanup(h Handlers) error {
	_, err := s.cron.AddFunc("0 0 * * *", func() {
		s.runGuarded("daily_cleanup", func() {
			h.DailyCleanup(s.ctx)
		})
	})
	return err
}

// Schedule enqueues the four one-shot deadlines for sess. Deadlines already
// in the past are skipped (not back-fired).
func (s *Scheduler) Schedule(sess session.Session, h Handlers) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadlines := []struct {
		name string
		at   time.Time
		run  func(ctx context.Context, s session.Session)
	}{
		{"prewarm_bars", sess.Instant.Add(-PrewarmBarsLead), h.PrewarmBars},
		{"prewarm_inputs", sess.Instant.Add(-PrewarmInputsLead), h.PrewarmInputs},
		{"execute", sess.Instant, h.Execute},
		{"reconcile", sess.Instant.Add(ReconcileLag), h.Reconcile},
	}

	now := time.Now().UTC()
	for _, d := range deadlines {
		if !d.at.After(now) {
			s.log.Warn().Str("deadline", d.name).Time("at", d.at).Msg("deadline already past, skipping")
			continue
		}
		delay := d.at.Sub(now)
		name := d.name
		handler := d.run
		timer := time.AfterFunc(delay, func() {
			s.runGuarded(name, func() {
				handler(s.ctx, sess)
			})
		})
		s.timers = append(s.timers, timer)
	}
}

// runGuarded recovers a panicking handler so the scheduler loop survives.
func (s *Scheduler) runGuarded(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("handler", name).Interface("panic", r).Msg("handler panicked; scheduler continues")
		}
	}()
	fn()
}
