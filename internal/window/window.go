// FILE: internal/window/window.go
// Package window – C7 Rolling Window & Stats Refresh.
//
// Maintains the rolling (default 6-month) history of verified predictions
// per instrument/session and recomputes the MFE/MAE percentiles the risk
// engine consumes. History is never hard-deleted; rows aging out of the
// window are marked in_window = false so they remain available for audit
// while being excluded from percentile recomputation.
//
// Grounded on original_source/app/services/trade_executor.py's
// add_to_rolling_window / cleanup_old_rolling_data / refresh_percentiles.
package window

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/forexsim/session-engine/internal/logging"
	"github.com/forexsim/session-engine/internal/risk"
)

// ExcursionRecord is one verified prediction outcome: how far price moved
// in the predicted trader's favor (MFE) and against it (MAE) before the
// session's reconcile deadline.
type ExcursionRecord struct {
	ID                 uint `gorm:"primaryKey;autoIncrement"`
	Instrument         string    `gorm:"index:idx_excursion_natural,unique;not null"`
	SessionID          string    `gorm:"index:idx_excursion_natural,unique;not null"`
	SessionInstant     time.Time `gorm:"index:idx_excursion_natural,unique;not null"`
	Model              string    `gorm:"index:idx_excursion_natural,unique;not null"`
	Prediction         string    `gorm:"not null"` // BULLISH or BEARISH
	Correct            bool      `gorm:"not null"`
	MFEPips            float64   `gorm:"not null"`
	MAEPips            float64   `gorm:"not null"`
	MFEFirst           *bool
	TimeToMFEMinutes   *int
	TimeToMAEMinutes   *int
	InWindow           bool `gorm:"not null;default:true;index"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (ExcursionRecord) TableName() string { return "rolling_window" }

// PercentileStat is the materialized per-instrument/session/model percentile
// snapshot risk.PercentileSource serves to the risk engine — each predictor
// gets its own percentile targets since accuracy and excursion behavior
// differ by model. Recomputed entirely on every RefreshStats call rather
// than incrementally, since the rolling window is bounded (6 months) and
// recomputation is cheap relative to the session cadence that triggers it.
type PercentileStat struct {
	ID          uint `gorm:"primaryKey;autoIncrement"`
	Instrument  string `gorm:"uniqueIndex:idx_percentile_natural;not null"`
	SessionID   string `gorm:"uniqueIndex:idx_percentile_natural;not null"`
	Model       string `gorm:"uniqueIndex:idx_percentile_natural;not null"`
	SampleCount int     `gorm:"not null"`
	AccuracyPct float64 `gorm:"not null"`
	MFEP25      float64 `gorm:"column:mfe_p25;not null"`
	MFEP50      float64 `gorm:"column:mfe_p50;not null"`
	MFEP75      float64 `gorm:"column:mfe_p75;not null"`
	MAEP25      float64 `gorm:"column:mae_p25;not null"`
	MAEP50      float64 `gorm:"column:mae_p50;not null"`
	MAEP75      float64 `gorm:"column:mae_p75;not null"`
	UpdatedAt   time.Time
}

func (PercentileStat) TableName() string { return "percentile_targets" }

// Store owns the rolling window and its derived percentile snapshot.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates/updates the backing tables.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&ExcursionRecord{}, &PercentileStat{})
}

// Append upserts one excursion outcome keyed by its natural key
// (instrument, session, session instant, model) — re-verifying the same
// session never creates a duplicate row, per add_to_rolling_window's
// ON CONFLICT DO UPDATE.
func (s *Store) Append(ctx context.Context, rec ExcursionRecord) error {
	rec.InWindow = true
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "instrument"}, {Name: "session_id"}, {Name: "session_instant"}, {Name: "model"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"correct", "mfe_pips", "mae_pips", "mfe_first",
			"time_to_mfe_minutes", "time_to_mae_minutes", "in_window", "updated_at",
		}),
	}).Create(&rec)
	if result.Error != nil {
		return fmt.Errorf("window: append excursion: %w", result.Error)
	}
	return nil
}

// ExpireOld marks rows older than windowMonths as out of window. Rows are
// never deleted so historical audit queries keep working.
func (s *Store) ExpireOld(ctx context.Context, windowMonths int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, -windowMonths, 0)
	result := s.db.WithContext(ctx).
		Model(&ExcursionRecord{}).
		Where("in_window = ? AND session_instant < ?", true, cutoff).
		Update("in_window", false)
	if result.Error != nil {
		return 0, fmt.Errorf("window: expire old excursions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RefreshStats recomputes PercentileStat for every instrument/session/model
// triple with at least one in-window row, replacing the prior snapshot
// inside a single transaction. Percentiles are computed in memory (see
// percentile) — the rolling window is small enough per pair/session/model
// that a materialized SQL view (the original's approach) buys nothing here
// and would add a second schema object to keep in sync with InWindow.
func (s *Store) RefreshStats(ctx context.Context) error {
	log := logging.For("window")
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []ExcursionRecord
		if err := tx.Where("in_window = ?", true).Find(&rows).Error; err != nil {
			return fmt.Errorf("window: load in-window rows: %w", err)
		}

		groups := make(map[string][]ExcursionRecord)
		for _, r := range rows {
			key := r.Instrument + "/" + r.SessionID + "/" + r.Model
			groups[key] = append(groups[key], r)
		}

		if err := tx.Where("1 = 1").Delete(&PercentileStat{}).Error; err != nil {
			return fmt.Errorf("window: clear percentile stats: %w", err)
		}

		for key, group := range groups {
			stat := computeStat(group)
			result := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "instrument"}, {Name: "session_id"}, {Name: "model"}},
				DoUpdates: clause.AssignmentColumns([]string{"sample_count", "accuracy_pct", "mfe_p25", "mfe_p50", "mfe_p75", "mae_p25", "mae_p50", "mae_p75", "updated_at"}),
			}).Create(&stat)
			if result.Error != nil {
				return fmt.Errorf("window: upsert percentile stat %s: %w", key, result.Error)
			}
		}
		log.Info().Int("groups", len(groups)).Msg("rolling window stats refreshed")
		return nil
	})
}

func computeStat(group []ExcursionRecord) PercentileStat {
	inst, sessionID, model := group[0].Instrument, group[0].SessionID, group[0].Model
	mfe := make([]float64, 0, len(group))
	mae := make([]float64, 0, len(group))
	correct := 0
	for _, r := range group {
		mfe = append(mfe, r.MFEPips)
		mae = append(mae, r.MAEPips)
		if r.Correct {
			correct++
		}
	}
	sort.Float64s(mfe)
	sort.Float64s(mae)

	return PercentileStat{
		Instrument:  inst,
		SessionID:   sessionID,
		Model:       model,
		SampleCount: len(group),
		AccuracyPct: 100 * float64(correct) / float64(len(group)),
		MFEP25:      percentile(mfe, 25),
		MFEP50:      percentile(mfe, 50),
		MFEP75:      percentile(mfe, 75),
		MAEP25:      percentile(mae, 25),
		MAEP50:      percentile(mae, 50),
		MAEP75:      percentile(mae, 75),
	}
}

// percentile returns the element of a pre-sorted slice at index p*n/100
// (integer division), clamped to the last element. When p*n/100 is not a
// whole number this is the nearest-rank value; when it is, it is the
// element one above (p=50 of 1..10 gives 6).
func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p * len(sorted)) / 100
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// GetPercentiles implements risk.PercentileSource.
func (s *Store) GetPercentiles(ctx context.Context, inst, sessionID, model string) (risk.PercentileTargets, bool, error) {
	var stat PercentileStat
	err := s.db.WithContext(ctx).
		Where("instrument = ? AND session_id = ? AND model = ?", inst, sessionID, model).
		First(&stat).Error
	if err == gorm.ErrRecordNotFound {
		return risk.PercentileTargets{}, false, nil
	}
	if err != nil {
		return risk.PercentileTargets{}, false, fmt.Errorf("window: get percentiles: %w", err)
	}
	return risk.PercentileTargets{
		Instrument:  stat.Instrument,
		SessionID:   stat.SessionID,
		Model:       stat.Model,
		SampleCount: stat.SampleCount,
		AccuracyPct: stat.AccuracyPct,
		MFEP25:      stat.MFEP25,
		MFEP50:      stat.MFEP50,
		MFEP75:      stat.MFEP75,
		MAEP25:      stat.MAEP25,
		MAEP50:      stat.MAEP50,
		MAEP75:      stat.MAEP75,
	}, true, nil
}
