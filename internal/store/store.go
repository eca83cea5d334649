// FILE: internal/store/store.go
// Package store – C6 Position Store.
//
// Owns the Position and Account gorm models and the transactional open/
// close lifecycle, including ECN-style cost simulation (spread on entry,
// slippage on exit, roundtrip commission) and the running account
// statistics (peak balance, max drawdown, win rate).
//
// Grounded on original_source/app/services/trade_executor.py's
// open_trade / close_trade / update_account_balance.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/forexsim/session-engine/internal/instrument"
	"github.com/forexsim/session-engine/internal/risk"
	"github.com/forexsim/session-engine/internal/stream"
)

// Slippage, in pips, by order type. Named per
// original_source/app/config.py's SLIPPAGE table.
const (
	EntrySlippagePips  = 0.2
	ExitTPSlippagePips = 0.1
	ExitSLSlippagePips = 0.5
)

// Outcome is the terminal classification of a closed position.
type Outcome string

const (
	OutcomeWin       Outcome = "WIN"
	OutcomeLoss      Outcome = "LOSS"
	OutcomeBreakeven Outcome = "BREAKEVEN"
	OutcomeTimeout   Outcome = "TIMEOUT"
)

// ErrAlreadyClosed is returned by Close when the position has already been
// settled; Close is idempotent and safe to call more than once for the
// same position.
var ErrAlreadyClosed = errors.New("store: position already closed")

// ErrNotFound is returned when a position ID has no matching row.
var ErrNotFound = errors.New("store: position not found")

// Position is one simulated trade, open or closed.
type Position struct {
	ID               string `gorm:"primaryKey;type:uuid"`
	Instrument       string  `gorm:"index;not null"`
	SessionID        string  `gorm:"not null"`
	SessionInstant   time.Time `gorm:"not null"`
	Direction        string  `gorm:"not null"` // BULLISH or BEARISH
	Conviction       int     `gorm:"not null"`
	FullAnalysis     string
	EntryPrice       float64 `gorm:"not null"`
	SpreadPips       float64 `gorm:"not null"`
	TakeProfit       float64 `gorm:"not null"`
	StopLoss         float64 `gorm:"not null"`
	TPPips           float64 `gorm:"not null"`
	SLPips           float64 `gorm:"not null"`
	LotSize          float64 `gorm:"not null"`
	RiskPercent      float64 `gorm:"not null"`
	PercentileSource string  `gorm:"not null"`

	ExitPrice      *float64
	Outcome        *string
	PnLPips        *float64 `gorm:"column:pnl_pips"`
	PnLDollars     *float64 `gorm:"column:pnl_dollars"`
	Commission     *float64
	SlippagePips   *float64
	ClosedAt       *time.Time
	ArtifactURL    *string `gorm:"column:artifact_url"`

	CreatedAt time.Time
}

func (Position) TableName() string { return "trades" }

// IsClosed reports whether the position has already been settled.
func (p Position) IsClosed() bool { return p.ClosedAt != nil }

// Account is the single running balance/statistics row.
type Account struct {
	ID              uint `gorm:"primaryKey;autoIncrement"`
	Balance         float64 `gorm:"not null"`
	InitialBalance  float64 `gorm:"not null"`
	TotalTrades     int     `gorm:"not null"`
	WinningTrades   int     `gorm:"not null"`
	LosingTrades    int     `gorm:"not null"`
	PeakBalance     float64 `gorm:"not null"`
	MaxDrawdownPct  float64 `gorm:"not null"`
	LastUpdated     time.Time
}

func (Account) TableName() string { return "account" }

// WinRate is total winning trades over decided (win+loss) trades; ties and
// breakevens are excluded from the denominator per spec.md §6.
func (a Account) WinRate() float64 {
	decided := a.WinningTrades + a.LosingTrades
	if decided == 0 {
		return 0
	}
	return 100 * float64(a.WinningTrades) / float64(decided)
}

// PnLPct is cumulative return since the account's starting balance.
func (a Account) PnLPct() float64 {
	if a.InitialBalance == 0 {
		return 0
	}
	return 100 * (a.Balance - a.InitialBalance) / a.InitialBalance
}

// Store owns position and account persistence.
type Store struct {
	db               *gorm.DB
	startingBalance  float64
	commissionPerLot float64
}

func NewStore(db *gorm.DB, startingBalance, commissionPerLot float64) *Store {
	return &Store{db: db, startingBalance: startingBalance, commissionPerLot: commissionPerLot}
}

// Migrate creates/updates the backing tables.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Position{}, &Account{})
}

// Open records a new position. The entry price is adjusted for spread —
// buying pays the ask (higher), selling pays the bid (lower) — before
// being persisted, per open_trade's spread_adjustment.
func (s *Store) Open(ctx context.Context, params risk.Parameters, conviction int, fullAnalysis string, riskPercent float64, sessionInstant time.Time) (Position, error) {
	adjustedEntry := adjustEntryForSpread(params.EntryPrice, params.SpreadPips, params.Instrument, params.Direction)

	pos := Position{
		ID:               uuid.NewString(),
		Instrument:       params.Instrument,
		SessionID:        params.SessionID,
		SessionInstant:   sessionInstant,
		Direction:        string(params.Direction),
		Conviction:       conviction,
		FullAnalysis:     fullAnalysis,
		EntryPrice:       adjustedEntry,
		SpreadPips:       params.SpreadPips,
		TakeProfit:       params.TakeProfit,
		StopLoss:         params.StopLoss,
		TPPips:           params.TPPips,
		SLPips:           params.SLPips,
		LotSize:          params.LotSize,
		RiskPercent:      riskPercent,
		PercentileSource: params.PercentileSource,
		CreatedAt:        time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&pos).Error; err != nil {
		return Position{}, fmt.Errorf("store: open position: %w", err)
	}
	return pos, nil
}

// adjustEntryForSpread applies the ECN spread to the raw entry price:
// buying pays the ask (higher), selling pays the bid (lower).
func adjustEntryForSpread(entryPrice, spreadPips float64, inst string, direction stream.Direction) float64 {
	adj := spreadPips * instrument.TickSize(inst)
	if direction == stream.Long {
		return entryPrice + adj
	}
	return entryPrice - adj
}

// CloseResult is the settled P/L summary for one position.
type CloseResult struct {
	PositionID   string
	ExitPrice    float64
	Outcome      Outcome
	PnLPips      float64
	PnLDollars   float64
	Commission   float64
	SlippagePips float64
}

// Close settles a position: computes pip/dollar P/L net of roundtrip
// commission and exit slippage (stop exits slip more than limit exits),
// persists the result, and folds it into the account snapshot — all
// inside one transaction. Calling Close twice for the same position is a
// no-op returning ErrAlreadyClosed, so a duplicate reconcile pass or a
// race between the stream alert and the T+4h timeout never double-books
// P/L.
func (s *Store) Close(ctx context.Context, positionID string, exitPrice float64, isStopExit bool) (CloseResult, error) {
	var result CloseResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pos Position
		if err := tx.Where("id = ?", positionID).First(&pos).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load position: %w", err)
		}
		if pos.IsClosed() {
			return ErrAlreadyClosed
		}

		slippagePips := ExitTPSlippagePips
		if isStopExit {
			slippagePips = ExitSLSlippagePips
		}

		pip := instrument.TickSize(pos.Instrument)
		var rawPips float64
		if pos.Direction == string(stream.Long) {
			rawPips = (exitPrice - pos.EntryPrice) / pip
		} else {
			rawPips = (pos.EntryPrice - exitPrice) / pip
		}
		pnlPips := rawPips - slippagePips

		pipValueUSD := instrument.PipCashPerLot(pos.Instrument)
		pnlDollars := pnlPips * pipValueUSD * pos.LotSize

		commission := calculateCommission(pos.LotSize, s.commissionPerLot)
		netPnL := pnlDollars - commission

		outcome := classifyOutcome(netPnL)

		now := time.Now().UTC()
		pnlPipsRounded := round1(pnlPips)
		netPnLRounded := round2(netPnL)
		commissionRounded := round2(commission)
		outcomeStr := string(outcome)

		updates := map[string]interface{}{
			"exit_price":    exitPrice,
			"outcome":       outcomeStr,
			"pnl_pips":      pnlPipsRounded,
			"pnl_dollars":   netPnLRounded,
			"commission":    commissionRounded,
			"slippage_pips": slippagePips,
			"closed_at":     now,
		}
		if err := tx.Model(&Position{}).Where("id = ?", positionID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update position: %w", err)
		}

		if err := applyAccountUpdate(tx, decimal.NewFromFloat(netPnLRounded), outcome, s.startingBalance); err != nil {
			return err
		}

		result = CloseResult{
			PositionID:   positionID,
			ExitPrice:    exitPrice,
			Outcome:      outcome,
			PnLPips:      pnlPipsRounded,
			PnLDollars:   netPnLRounded,
			Commission:   commissionRounded,
			SlippagePips: slippagePips,
		}
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}
	return result, nil
}

// MarkTimeout overwrites a just-closed position's stored outcome label to
// TIMEOUT. Close always classifies by the sign of net P/L (WIN/LOSS/
// BREAKEVEN) since that's what the account statistics need; TIMEOUT only
// replaces the label for a position the reconcile deadline closed rather
// than a TP/SL hit, per _verify_session's close_trade(outcome="TIMEOUT").
func (s *Store) MarkTimeout(ctx context.Context, positionID string) error {
	err := s.db.WithContext(ctx).Model(&Position{}).Where("id = ?", positionID).Update("outcome", string(OutcomeTimeout)).Error
	if err != nil {
		return fmt.Errorf("store: mark timeout: %w", err)
	}
	return nil
}

// SetArtifactURL records the shareable link an objectstore.Uploader
// returned for the chart rendered ahead of this position, for the admin
// dashboard to link to. A failed upload simply leaves this column null;
// it never blocks opening or closing a position.
func (s *Store) SetArtifactURL(ctx context.Context, positionID, url string) error {
	err := s.db.WithContext(ctx).Model(&Position{}).Where("id = ?", positionID).Update("artifact_url", url).Error
	if err != nil {
		return fmt.Errorf("store: set artifact url: %w", err)
	}
	return nil
}

// classifyOutcome buckets net P/L into WIN/LOSS/BREAKEVEN. TIMEOUT is
// assigned by the caller (orchestrator's T+4h reconcile) rather than here,
// since timeout is about *why* the position closed, not the sign of its
// P/L.
func classifyOutcome(netPnL float64) Outcome {
	switch {
	case netPnL > 0:
		return OutcomeWin
	case netPnL < 0:
		return OutcomeLoss
	default:
		return OutcomeBreakeven
	}
}

// calculateCommission is lot_size * commission_per_lot * 2 (roundtrip),
// per calculate_commission.
func calculateCommission(lotSize, commissionPerLot float64) float64 {
	return lotSize * commissionPerLot * 2
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

// applyAccountUpdate folds one trade's net P/L into the single Account
// row, creating it with startingBalance if this is the first trade ever,
// and maintains peak_balance/max_drawdown_pct as running maxima — both are
// monotonic and must never decrease, per update_account_balance.
func applyAccountUpdate(tx *gorm.DB, pnl decimal.Decimal, outcome Outcome, startingBalance float64) error {
	var acct Account
	err := tx.Order("id").First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		acct = Account{
			Balance:        startingBalance,
			InitialBalance: startingBalance,
			PeakBalance:    startingBalance,
		}
		if err := tx.Create(&acct).Error; err != nil {
			return fmt.Errorf("create account: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("load account: %w", err)
	}

	currentBalance := decimal.NewFromFloat(acct.Balance)
	newBalance := currentBalance.Add(pnl)

	acct.TotalTrades++
	if outcome == OutcomeWin {
		acct.WinningTrades++
	} else if outcome == OutcomeLoss {
		acct.LosingTrades++
	}

	peakBalance := decimal.NewFromFloat(acct.PeakBalance)
	if newBalance.GreaterThan(peakBalance) {
		peakBalance = newBalance
	}

	drawdownPct := decimal.Zero
	if peakBalance.IsPositive() {
		drawdownPct = peakBalance.Sub(newBalance).Div(peakBalance).Mul(decimal.NewFromInt(100))
	}
	maxDrawdown := decimal.NewFromFloat(acct.MaxDrawdownPct)
	if drawdownPct.GreaterThan(maxDrawdown) {
		maxDrawdown = drawdownPct
	}

	newBalanceF, _ := newBalance.Float64()
	peakBalanceF, _ := peakBalance.Float64()
	maxDrawdownF, _ := maxDrawdown.Float64()

	return tx.Model(&Account{}).Where("id = ?", acct.ID).Updates(map[string]interface{}{
		"balance":          newBalanceF,
		"total_trades":     acct.TotalTrades,
		"winning_trades":   acct.WinningTrades,
		"losing_trades":    acct.LosingTrades,
		"peak_balance":     peakBalanceF,
		"max_drawdown_pct": maxDrawdownF,
		"last_updated":     time.Now().UTC(),
	}).Error
}

// Snapshot is the read-only view of account state, consumed by
// internal/adminapi.
type Snapshot struct {
	Balance        float64
	InitialBalance float64
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	WinRate        float64
	PnLPct         float64
	PeakBalance    float64
	MaxDrawdownPct float64
}

// AccountSnapshot returns the current account state for dashboard display.
func (s *Store) AccountSnapshot(ctx context.Context) (Snapshot, error) {
	var acct Account
	err := s.db.WithContext(ctx).Order("id").First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{
			Balance:        s.startingBalance,
			InitialBalance: s.startingBalance,
			PeakBalance:    s.startingBalance,
		}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("store: account snapshot: %w", err)
	}
	return Snapshot{
		Balance:        acct.Balance,
		InitialBalance: acct.InitialBalance,
		TotalTrades:    acct.TotalTrades,
		WinningTrades:  acct.WinningTrades,
		LosingTrades:   acct.LosingTrades,
		WinRate:        acct.WinRate(),
		PnLPct:         acct.PnLPct(),
		PeakBalance:    acct.PeakBalance,
		MaxDrawdownPct: acct.MaxDrawdownPct,
	}, nil
}
