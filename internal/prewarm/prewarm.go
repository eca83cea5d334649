// FILE: internal/prewarm/prewarm.go
// Package prewarm – C3 Pre-warm Pipeline.
//
// Two independent, single-writer caches keyed by instrument:
//
//   - Bar pre-warm (T-120s): unbounded concurrent fetch of the last 7 days
//     of 15-minute bars per instrument (pure I/O, upstream enforces its own
//     rate limit). Failures are logged and dropped — a missing instrument
//     degrades to a skipped prediction rather than a failed cycle.
//
//   - Input pre-warm (T-60s): renders a chart/analysis artifact per
//     instrument with bounded concurrency (width 4, CPU-bound).
//
// Both caches are cleared at the end of the execute handler by the
// orchestrator; this package only owns population and clearing.
package prewarm

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/forexsim/session-engine/internal/barfeed"
	"github.com/forexsim/session-engine/internal/imaging"
	"github.com/forexsim/session-engine/internal/logging"
)

// RenderWidth is the fixed worker-pool width for input rendering (W=4 in
// spec.md §4.3); rendering is CPU-bound and not safely concurrent beyond a
// moderate width.
const RenderWidth = 4

// BarCache is a single-writer, per-instrument cache of recent bars.
type BarCache struct {
	mu   sync.RWMutex
	bars map[string][]barfeed.Bar
}

func NewBarCache() *BarCache {
	return &BarCache{bars: make(map[string][]barfeed.Bar)}
}

func (c *BarCache) set(instrument string, bars []barfeed.Bar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bars[instrument] = bars
}

// Get returns the cached bars for instrument and whether an entry exists.
func (c *BarCache) Get(instrument string) ([]barfeed.Bar, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bars[instrument]
	return b, ok
}

// Instruments returns the set of instruments currently cached.
func (c *BarCache) Instruments() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.bars))
	for k := range c.bars {
		out = append(out, k)
	}
	return out
}

// Clear empties the cache; called at the end of execute per spec.md §4.3.
func (c *BarCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bars = make(map[string][]barfeed.Bar)
}

// InputCache is a single-writer, per-instrument cache of rendered artifact
// paths.
type InputCache struct {
	mu    sync.RWMutex
	paths map[string]string
}

func NewInputCache() *InputCache {
	return &InputCache{paths: make(map[string]string)}
}

func (c *InputCache) set(instrument, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths[instrument] = path
}

// Get returns the cached artifact path for instrument and whether it exists.
func (c *InputCache) Get(instrument string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.paths[instrument]
	return p, ok
}

// Clear empties the cache.
func (c *InputCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = make(map[string]string)
}

// Pipeline wires the bar feed and image generator collaborators to the two
// caches.
type Pipeline struct {
	bars    barfeed.Client
	images  imaging.Generator
	BarC    *BarCache
	InputC  *InputCache
}

func NewPipeline(bars barfeed.Client, images imaging.Generator) *Pipeline {
	return &Pipeline{
		bars:   bars,
		images: images,
		BarC:   NewBarCache(),
		InputC: NewInputCache(),
	}
}

// PrewarmBars fetches the last 7 days of 15-minute bars ending at
// sessionInstant for every instrument, concurrently and without a bound —
// this is pure I/O and the upstream bar feed enforces its own rate limit.
func (p *Pipeline) PrewarmBars(ctx context.Context, instruments []string, sessionInstant time.Time) {
	log := logging.For("prewarm")
	p.BarC.Clear()
	start := sessionInstant.Add(-7 * 24 * time.Hour)

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	ok := 0
	for _, instrument := range instruments {
		instrument := instrument
		g.Go(func() error {
			bars, err := p.bars.FetchBars(gctx, instrument, start, sessionInstant, barfeed.Timeframe15m)
			if err != nil {
				log.Warn().Err(err).Str("instrument", instrument).Msg("bar prewarm failed, skipping instrument")
				return nil // per-instrument failure must not fail the batch
			}
			p.BarC.set(instrument, bars)
			mu.Lock()
			ok++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // handlers above never return non-nil; errgroup only used for cancellation plumbing
	log.Info().Int("ok", ok).Int("total", len(instruments)).Msg("bar prewarm complete")
}

// PrewarmInputs renders an analysis artifact for every instrument that has
// a bar cache entry, with bounded concurrency of RenderWidth.
func (p *Pipeline) PrewarmInputs(ctx context.Context, sessionID string, sessionInstant time.Time) {
	log := logging.For("prewarm")
	p.InputC.Clear()

	instruments := p.BarC.Instruments()
	sem := semaphore.NewWeighted(RenderWidth)
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0

	for _, instrument := range instruments {
		instrument := instrument
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Warn().Err(err).Msg("input prewarm cancelled before completion")
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			bars, _ := p.BarC.Get(instrument)
			path, err := p.images.Render(ctx, bars, instrument, sessionID, sessionInstant)
			if err != nil {
				log.Warn().Err(err).Str("instrument", instrument).Msg("input render failed, skipping instrument")
				return
			}
			p.InputC.set(instrument, path)
			mu.Lock()
			ok++
			mu.Unlock()
		}()
	}
	wg.Wait()
	log.Info().Int("ok", ok).Int("total", len(instruments)).Msg("input prewarm complete")
}

// ClearAll empties both caches; called by the orchestrator at the end of
// execute.
func (p *Pipeline) ClearAll() {
	p.BarC.Clear()
	p.InputC.Clear()
}
