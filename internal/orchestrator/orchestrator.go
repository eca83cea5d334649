// FILE: internal/orchestrator/orchestrator.go
// Package orchestrator – C8 Session Orchestrator.
//
// Sequences one session's full lifecycle: at T+0 it runs predict -> risk ->
// open -> alert-register for every pre-warmed instrument, sequentially (the
// prediction API enforces its own rate limit); a background loop drains the
// price stream's fired alerts and closes positions the moment TP/SL trips;
// at T+4h it reconciles whatever is left — both the trades already closed
// in real time and whatever is still open, which times out at the session
// close price — into the rolling window, then refreshes its percentiles.
//
// Grounded on original_source/app/services/scheduler.py's
// TradingScheduler._execute_session / _on_price_alert / _verify_session.
package orchestrator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/forexsim/session-engine/internal/barfeed"
	"github.com/forexsim/session-engine/internal/config"
	"github.com/forexsim/session-engine/internal/instrument"
	"github.com/forexsim/session-engine/internal/logging"
	"github.com/forexsim/session-engine/internal/metrics"
	"github.com/forexsim/session-engine/internal/objectstore"
	"github.com/forexsim/session-engine/internal/predictor"
	"github.com/forexsim/session-engine/internal/prewarm"
	"github.com/forexsim/session-engine/internal/risk"
	"github.com/forexsim/session-engine/internal/store"
	"github.com/forexsim/session-engine/internal/stream"
	"github.com/forexsim/session-engine/internal/window"
)

// activePosition is an open trade the orchestrator is tracking between T+0
// and either a real-time alert or the T+4h reconcile.
type activePosition struct {
	Instrument     string
	SessionID      string
	SessionInstant time.Time
	Direction      stream.Direction
	EntryPrice     float64
	Model          string
}

// pendingVerification is a position the price stream already closed, still
// waiting for its MFE/MAE excursion to be folded into the rolling window at
// the session's T+4h reconcile.
type pendingVerification struct {
	Instrument     string
	SessionID      string
	SessionInstant time.Time
	Direction      stream.Direction
	EntryPrice     float64
	Outcome        store.Outcome
	Model          string
}

// Orchestrator wires every collaborator C8 coordinates. priceStream may be
// nil — the engine still trades and reconciles via OHLC-only timeouts, just
// without real-time TP/SL monitoring.
type Orchestrator struct {
	predictor   predictor.Client
	prewarm     *prewarm.Pipeline
	risk        *risk.Engine
	positions   *store.Store
	window      *window.Store
	bars        barfeed.Client
	priceStream *stream.Client
	artifacts   objectstore.Uploader
	cfg         config.Config

	mu      sync.Mutex
	active  map[string]activePosition
	pending map[string]pendingVerification
}

func New(predictorClient predictor.Client, pipeline *prewarm.Pipeline, riskEngine *risk.Engine, positions *store.Store, windowStore *window.Store, bars barfeed.Client, priceStream *stream.Client, artifacts objectstore.Uploader, cfg config.Config) *Orchestrator {
	return &Orchestrator{
		predictor:   predictorClient,
		prewarm:     pipeline,
		risk:        riskEngine,
		positions:   positions,
		window:      windowStore,
		bars:        bars,
		priceStream: priceStream,
		artifacts:   artifacts,
		cfg:         cfg,
		active:      make(map[string]activePosition),
		pending:     make(map[string]pendingVerification),
	}
}

// ActivePositionCount reports how many positions are currently open, for
// dashboard display.
func (o *Orchestrator) ActivePositionCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// OpenPosition summarizes one currently-tracked position for dashboard
// consumers; it is a read-only snapshot, not the internal activePosition.
type OpenPosition struct {
	Instrument string    `json:"instrument"`
	SessionID  string    `json:"session_id"`
	OpenedAt   time.Time `json:"opened_at"`
	Direction  string    `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	Model      string    `json:"model"`
}

// Status is the read-only snapshot internal/adminapi polls for its
// dashboard surface, per spec.md §6.
type Status struct {
	ActivePositions []OpenPosition `json:"active_positions"`
	StreamState     string         `json:"stream_state"`
}

// Status reports the positions currently open and the price stream's
// connection state, for the dashboard surface.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	positions := make([]OpenPosition, 0, len(o.active))
	for _, p := range o.active {
		positions = append(positions, OpenPosition{
			Instrument: p.Instrument,
			SessionID:  p.SessionID,
			OpenedAt:   p.SessionInstant,
			Direction:  string(p.Direction),
			EntryPrice: p.EntryPrice,
			Model:      p.Model,
		})
	}
	o.mu.Unlock()

	state := "disconnected"
	if o.priceStream != nil {
		state = o.priceStream.State().String()
	}
	return Status{ActivePositions: positions, StreamState: state}
}

// ConsumeAlerts drains the price stream's Fired channel until ctx is
// cancelled, closing each alerted position immediately instead of waiting
// for the T+4h reconcile. A no-op if no price stream is wired. Callers run
// this in its own goroutine.
func (o *Orchestrator) ConsumeAlerts(ctx context.Context) {
	if o.priceStream == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case fired, ok := <-o.priceStream.Fired():
			if !ok {
				return
			}
			o.handleFired(ctx, fired)
		}
	}
}

func (o *Orchestrator) handleFired(ctx context.Context, f stream.Fired) {
	log := logging.For("orchestrator")

	o.mu.Lock()
	pos, ok := o.active[f.PositionID]
	if ok {
		delete(o.active, f.PositionID)
	}
	o.mu.Unlock()
	if !ok {
		log.Warn().Str("position", f.PositionID).Msg("alert for unknown position")
		return
	}

	outcome := store.OutcomeWin
	if f.TriggerType == stream.TriggerSL {
		outcome = store.OutcomeLoss
	}

	result, err := o.positions.Close(ctx, f.PositionID, f.Price, f.TriggerType == stream.TriggerSL)
	if err != nil {
		log.Error().Err(err).Str("position", f.PositionID).Msg("failed to close position on alert")
		return
	}
	log.Info().
		Str("instrument", pos.Instrument).
		Str("trigger", string(f.TriggerType)).
		Float64("pnl_dollars", result.PnLDollars).
		Msg("position closed in real time")
	metrics.IncTradeClosed(string(result.Outcome))
	metrics.SetActivePositions(o.ActivePositionCount())

	o.priceStream.RemoveAlert(f.PositionID)

	o.mu.Lock()
	o.pending[f.PositionID] = pendingVerification{
		Instrument:     pos.Instrument,
		SessionID:      pos.SessionID,
		SessionInstant: pos.SessionInstant,
		Direction:      pos.Direction,
		EntryPrice:     pos.EntryPrice,
		Outcome:        outcome,
		Model:          pos.Model,
	}
	o.mu.Unlock()
}

// Execute runs the T+0 session cycle: for every instrument with a
// pre-warmed chart, predict a directional bias, skip NEUTRAL calls, resolve
// an entry price, derive risk parameters, open the position, and register a
// real-time TP/SL alert if the price stream is connected. Predictions run
// sequentially, per _execute_session's rate-limit discipline.
func (o *Orchestrator) Execute(ctx context.Context, sessionID string, sessionInstant time.Time) {
	log := logging.For("orchestrator")

	snapshot, err := o.positions.AccountSnapshot(ctx)
	if err != nil {
		log.Error().Err(err).Msg("execute: failed to read account snapshot")
		return
	}
	balance := decimal.NewFromFloat(snapshot.Balance)

	predictions, opened := 0, 0
	for _, inst := range instrument.TradingPairs {
		chartPath, ok := o.prewarm.InputC.Get(inst)
		if !ok {
			continue
		}

		pred, err := o.predictor.Predict(ctx, chartPath, inst, sessionID)
		predictions++
		if err != nil {
			log.Warn().Err(err).Str("instrument", inst).Msg("prediction failed, skipping")
			continue
		}
		log.Info().Str("instrument", inst).Str("bias", string(pred.Bias)).Int("conviction", pred.Conviction).Msg("prediction")
		metrics.IncPrediction(inst, string(pred.Bias))

		if pred.Bias == predictor.Neutral {
			continue
		}
		direction := stream.Direction(pred.Bias)

		entryPrice, ok := o.resolveEntryPrice(inst, direction)
		if !ok {
			continue
		}

		params, err := o.risk.Compute(ctx, inst, sessionID, pred.ModelVersion, direction, entryPrice, balance)
		if err != nil {
			log.Warn().Err(err).Str("instrument", inst).Msg("no risk parameters, skipping")
			continue
		}

		pos, err := o.positions.Open(ctx, params, pred.Conviction, pred.FullAnalysis, o.cfg.RiskPercent, sessionInstant)
		if err != nil {
			log.Error().Err(err).Str("instrument", inst).Msg("failed to open position")
			continue
		}
		opened++
		metrics.IncTradeOpened(inst, string(direction))

		if o.artifacts != nil {
			if url, err := o.artifacts.Upload(ctx, chartPath); err != nil {
				log.Warn().Err(err).Str("position", pos.ID).Msg("artifact upload failed, dashboard link stays empty")
			} else if err := o.positions.SetArtifactURL(ctx, pos.ID, url); err != nil {
				log.Warn().Err(err).Str("position", pos.ID).Msg("failed to record artifact url")
			}
		}

		o.mu.Lock()
		o.active[pos.ID] = activePosition{
			Instrument:     inst,
			SessionID:      sessionID,
			SessionInstant: sessionInstant,
			Direction:      direction,
			EntryPrice:     pos.EntryPrice,
			Model:          pred.ModelVersion,
		}
		o.mu.Unlock()

		if o.priceStream != nil && o.priceStream.State() == stream.Ready {
			o.priceStream.AddAlert(stream.Alert{
				PositionID: pos.ID,
				Instrument: inst,
				Direction:  direction,
				TakeProfit: params.TakeProfit,
				StopLoss:   params.StopLoss,
			})
			log.Info().Str("instrument", inst).Str("position", pos.ID).Msg("position opened, live monitoring")
		} else {
			log.Info().Str("instrument", inst).Str("position", pos.ID).Msg("position opened")
		}
	}

	log.Info().Int("predictions", predictions).Int("opened", opened).Msg("session execute complete")
	o.prewarm.ClearAll()
	metrics.SetActivePositions(o.ActivePositionCount())
}

// resolveEntryPrice prefers a live stream quote — the ask for a long entry,
// the bid for a short one — and falls back to the most recent pre-warmed
// bar's close when the stream has no quote yet, per _execute_session's
// "real-time WebSocket, fallback to OHLC" order.
func (o *Orchestrator) resolveEntryPrice(inst string, direction stream.Direction) (float64, bool) {
	if o.priceStream != nil && o.priceStream.State() == stream.Ready {
		if q, ok := o.priceStream.LatestQuote(inst); ok {
			if direction == stream.Long {
				return q.Ask, true
			}
			return q.Bid, true
		}
	}

	bars, ok := o.prewarm.BarC.Get(inst)
	if !ok || len(bars) == 0 {
		return 0, false
	}
	return bars[len(bars)-1].Close, true
}

// Reconcile runs the T+4h deadline: every position the price stream already
// closed in real time is verified against the session's OHLC to compute its
// MFE/MAE excursion, and every position still open is closed as a TIMEOUT
// at the session's closing price before being verified the same way. Both
// groups feed window.Store.Append; the rolling window's percentiles are
// refreshed once, afterward, if anything was verified.
func (o *Orchestrator) Reconcile(ctx context.Context, sessionID string, sessionInstant time.Time) {
	log := logging.For("orchestrator")
	sessionEnd := sessionInstant.Add(4 * time.Hour)

	realtimeClosed := o.takePendingForSession(sessionID, sessionInstant)
	for positionID, pv := range realtimeClosed {
		bars, err := o.bars.FetchBars(ctx, pv.Instrument, sessionInstant, sessionEnd, barfeed.Timeframe15m)
		if err != nil || len(bars) == 0 {
			log.Warn().Err(err).Str("instrument", pv.Instrument).Msg("reconcile: no verification data for real-time trade")
			continue
		}
		mfePips, maePips := excursionPips(bars, pv.EntryPrice, pv.Instrument, pv.Direction)

		if err := o.window.Append(ctx, window.ExcursionRecord{
			Instrument:     pv.Instrument,
			SessionID:      pv.SessionID,
			SessionInstant: pv.SessionInstant,
			Model:          pv.Model,
			Prediction:     string(pv.Direction),
			Correct:        pv.Outcome == store.OutcomeWin,
			MFEPips:        round1(mfePips),
			MAEPips:        round1(maePips),
		}); err != nil {
			log.Error().Err(err).Str("position", positionID).Msg("reconcile: failed to append excursion")
		}
	}

	toVerify := o.takeActiveForSession(sessionID, sessionInstant)
	timedOut := 0
	for positionID, pos := range toVerify {
		bars, err := o.bars.FetchBars(ctx, pos.Instrument, sessionInstant, sessionEnd, barfeed.Timeframe15m)
		if err != nil || len(bars) == 0 {
			log.Warn().Err(err).Str("instrument", pos.Instrument).Msg("reconcile: no verification data")
			continue
		}
		sessionClose := bars[len(bars)-1].Close
		mfePips, maePips := excursionPips(bars, pos.EntryPrice, pos.Instrument, pos.Direction)

		result, err := o.positions.Close(ctx, positionID, sessionClose, false)
		if err != nil {
			log.Error().Err(err).Str("position", positionID).Msg("reconcile: failed to close timed-out position")
			continue
		}
		if err := o.positions.MarkTimeout(ctx, positionID); err != nil {
			log.Error().Err(err).Str("position", positionID).Msg("reconcile: failed to mark position as timed out")
		}
		if o.priceStream != nil {
			o.priceStream.RemoveAlert(positionID)
		}
		timedOut++
		metrics.IncTradeClosed(string(store.OutcomeTimeout))

		if err := o.window.Append(ctx, window.ExcursionRecord{
			Instrument:     pos.Instrument,
			SessionID:      pos.SessionID,
			SessionInstant: pos.SessionInstant,
			Model:          pos.Model,
			Prediction:     string(pos.Direction),
			Correct:        result.PnLDollars > 0,
			MFEPips:        round1(mfePips),
			MAEPips:        round1(maePips),
		}); err != nil {
			log.Error().Err(err).Str("position", positionID).Msg("reconcile: failed to append excursion")
		}
	}

	totalVerified := len(realtimeClosed) + timedOut
	if totalVerified > 0 {
		if err := o.window.RefreshStats(ctx); err != nil {
			log.Error().Err(err).Msg("reconcile: failed to refresh percentile stats")
		} else {
			metrics.IncPercentileRefresh()
		}
	}
	log.Info().Int("realtime", len(realtimeClosed)).Int("timeout", timedOut).Msg("reconcile complete")
	metrics.SetActivePositions(o.ActivePositionCount())

	if o.priceStream != nil && o.ActivePositionCount() == 0 {
		o.priceStream.Stop()
	}
}

func (o *Orchestrator) takePendingForSession(sessionID string, sessionInstant time.Time) map[string]pendingVerification {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]pendingVerification)
	for id, pv := range o.pending {
		if pv.SessionID == sessionID && pv.SessionInstant.Equal(sessionInstant) {
			out[id] = pv
			delete(o.pending, id)
		}
	}
	return out
}

func (o *Orchestrator) takeActiveForSession(sessionID string, sessionInstant time.Time) map[string]activePosition {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]activePosition)
	for id, pos := range o.active {
		if pos.SessionID == sessionID && pos.SessionInstant.Equal(sessionInstant) {
			out[id] = pos
			delete(o.active, id)
		}
	}
	return out
}

// excursionPips computes the maximum-favorable/maximum-adverse excursion,
// in pips, of a session's OHLC range relative to entryPrice, oriented by
// direction — mirrors _verify_session's mfe_pips/mae_pips derivation.
func excursionPips(bars []barfeed.Bar, entryPrice float64, inst string, direction stream.Direction) (mfePips, maePips float64) {
	high, low := bars[0].High, bars[0].Low
	for _, b := range bars[1:] {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	pip := instrument.TickSize(inst)

	if direction == stream.Long {
		mfePips = (high - entryPrice) / pip
		maePips = math.Abs(entryPrice - low) / pip
	} else {
		mfePips = math.Abs(entryPrice - low) / pip
		maePips = (high - entryPrice) / pip
	}
	return mfePips, maePips
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
