// FILE: internal/risk/risk.go
// Package risk – C5 Risk Engine.
//
// Derives take-profit/stop-loss prices from rolling-window MFE/MAE
// percentiles and sizes the position from the account's risk percent.
// Grounded on original_source/app/services/risk_engine.py.
package risk

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/forexsim/session-engine/internal/config"
	"github.com/forexsim/session-engine/internal/instrument"
	"github.com/forexsim/session-engine/internal/stream"
)

// ErrInsufficientData is returned when the rolling window has no percentile
// snapshot, or one built from fewer than minSampleCount excursion records,
// for an instrument/session/model triple, per original_source's
// sample_count < 30 guard.
var ErrInsufficientData = errors.New("risk: insufficient rolling-window samples")

const minSampleCount = 30

// minPipFloor is the minimum TP/SL distance in pips; percentile values
// near zero (thin sample, flat market) would otherwise produce a
// degenerate stop.
const minPipFloor = 5.0

// PercentileTargets is the rolling-window percentile snapshot for one
// instrument/session/model triple, as maintained by internal/window.
type PercentileTargets struct {
	Instrument  string
	SessionID   string
	Model       string
	SampleCount int
	AccuracyPct float64
	MFEP25      float64
	MFEP50      float64
	MFEP75      float64
	MAEP25      float64
	MAEP50      float64
	MAEP75      float64
}

func (t PercentileTargets) mfe(p config.Percentile) float64 {
	switch p {
	case config.P25:
		return t.MFEP25
	case config.P75:
		return t.MFEP75
	default:
		return t.MFEP50
	}
}

func (t PercentileTargets) mae(p config.Percentile) float64 {
	switch p {
	case config.P25:
		return t.MAEP25
	case config.P75:
		return t.MAEP75
	default:
		return t.MAEP50
	}
}

// PercentileSource supplies the current rolling-window percentiles for an
// instrument/session/model triple — each predictor gets its own targets
// since accuracy and excursion behavior differ by model; internal/window
// implements this against Postgres.
type PercentileSource interface {
	GetPercentiles(ctx context.Context, instrument, sessionID, model string) (PercentileTargets, bool, error)
}

// Parameters is the complete risk calculation result for one trade.
type Parameters struct {
	Instrument       string
	SessionID        string
	Direction        stream.Direction
	EntryPrice       float64
	TakeProfit       float64
	StopLoss         float64
	TPPips           float64
	SLPips           float64
	LotSize          float64
	RiskDollars      decimal.Decimal
	SpreadPips       float64
	PercentileSource string // e.g. "P75/P50"
}

// Engine computes Parameters from configured risk settings and a
// percentile source.
type Engine struct {
	percentiles PercentileSource
	cfg         config.Config
}

func NewEngine(percentiles PercentileSource, cfg config.Config) *Engine {
	return &Engine{percentiles: percentiles, cfg: cfg}
}

// Compute derives the full set of risk parameters for opening a position
// in instrument at entryPrice with the given balance, using the
// percentiles accumulated for this specific predictor model. Returns
// ErrInsufficientData if the rolling window does not yet have enough
// samples for this instrument/session/model triple.
func (e *Engine) Compute(ctx context.Context, inst, sessionID, model string, direction stream.Direction, entryPrice float64, balance decimal.Decimal) (Parameters, error) {
	targets, ok, err := e.percentiles.GetPercentiles(ctx, inst, sessionID, model)
	if err != nil {
		return Parameters{}, fmt.Errorf("risk: fetch percentiles: %w", err)
	}
	if !ok {
		return Parameters{}, ErrInsufficientData
	}
	if targets.SampleCount < minSampleCount {
		return Parameters{}, ErrInsufficientData
	}

	takeProfit, stopLoss, tpPips, slPips := calculateTPSL(entryPrice, direction, inst, targets, e.cfg.TPPercentile, e.cfg.SLPercentile)
	lotSize, riskDollars := calculatePositionSize(balance, slPips, inst, e.cfg.RiskPercent, e.cfg.MinLotSize, e.cfg.MaxLotSize)
	spreadPips := instrument.SpreadPips(inst, e.cfg.DefaultSpreadPips)

	return Parameters{
		Instrument:       inst,
		SessionID:        sessionID,
		Direction:        direction,
		EntryPrice:       entryPrice,
		TakeProfit:       takeProfit,
		StopLoss:         stopLoss,
		TPPips:           tpPips,
		SLPips:           slPips,
		LotSize:          lotSize,
		RiskDollars:      riskDollars,
		SpreadPips:       spreadPips,
		PercentileSource: fmt.Sprintf("%s/%s", e.cfg.TPPercentile, e.cfg.SLPercentile),
	}, nil
}

// calculateTPSL mirrors risk_engine.py::calculate_tp_sl: direction-aware TP
// above/below entry for long/short, each floored at minPipFloor pips.
func calculateTPSL(entryPrice float64, direction stream.Direction, inst string, targets PercentileTargets, tpPercentile, slPercentile config.Percentile) (takeProfit, stopLoss, tpPips, slPips float64) {
	pipValue := instrument.TickSize(inst)

	tpPips = math.Max(targets.mfe(tpPercentile), minPipFloor)
	slPips = math.Max(targets.mae(slPercentile), minPipFloor)

	if direction == stream.Long {
		takeProfit = entryPrice + tpPips*pipValue
		stopLoss = entryPrice - slPips*pipValue
	} else {
		takeProfit = entryPrice - tpPips*pipValue
		stopLoss = entryPrice + slPips*pipValue
	}
	return takeProfit, stopLoss, tpPips, slPips
}

// calculatePositionSize mirrors risk_engine.py::calculate_position_size:
// lot_size = (balance * risk%) / (sl_pips * pip_cash_per_lot), clamped to
// [minLot, maxLot] and rounded to 0.01 lots.
func calculatePositionSize(balance decimal.Decimal, slPips float64, inst string, riskPercent, minLot, maxLot float64) (lotSize float64, riskDollars decimal.Decimal) {
	riskDollars = balance.Mul(decimal.NewFromFloat(riskPercent / 100))

	if slPips <= 0 {
		slPips = 10.0
	}
	pipCashPerLot := instrument.PipCashPerLot(inst)

	raw := riskDollars.Div(decimal.NewFromFloat(slPips * pipCashPerLot))
	lots, _ := raw.Float64()

	lots = math.Max(minLot, lots)
	lots = math.Min(maxLot, lots)
	lots = math.Round(lots*100) / 100

	return lots, riskDollars
}
