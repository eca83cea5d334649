// FILE: internal/imaging/imaging.go
// Package imaging – chart/analysis image generator (external collaborator, §6).
//
// Out of scope per spec.md §1; defines only the interface the pre-warm
// pipeline depends on when rendering per-instrument analysis inputs.
package imaging

import (
	"context"
	"fmt"
	"time"

	"github.com/forexsim/session-engine/internal/barfeed"
)

// Generator renders the analysis artifact (an image) consumed by the
// predictor. Render must be safe to call concurrently up to
// prewarm.RenderWidth at a time.
type Generator interface {
	Render(ctx context.Context, bars []barfeed.Bar, instrument, sessionID string, sessionInstant time.Time) (artifactPath string, err error)
}

// NoopGenerator satisfies Generator without rendering anything, so
// cmd/engine can wire a real collaborator without committing to a chart
// renderer. Every call fails; the pre-warm pipeline already treats a
// failed render as "skip this instrument", per internal/prewarm.
type NoopGenerator struct{}

func (NoopGenerator) Render(_ context.Context, _ []barfeed.Bar, instrument, _ string, _ time.Time) (string, error) {
	return "", fmt.Errorf("imaging: no generator configured, cannot render %s", instrument)
}

var _ Generator = NoopGenerator{}
