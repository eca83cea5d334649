// FILE: cmd/importbaseline/main.go
// Package main – one-shot baseline importer.
//
// Seeds internal/window's rolling history from a CSV of historical
// verified predictions, then refreshes the percentile targets the risk
// engine reads. Explicitly allowed by spec.md's Non-goals ("no historical
// backtesting beyond the one-shot baseline importer").
//
// Grounded on original_source/scripts/import_baseline.py, with the CSV
// header-driven row reader following backtest.go's loadCSV idiom (headers
// case-insensitive, columns addressed by name rather than position).
//
// CSV headers: instrument, session_id, session_instant, model, prediction,
// correct, mfe_pips, mae_pips, and the optional mfe_first,
// time_to_mfe_minutes, time_to_mae_minutes.
//
// Usage:
//
//	go run ./cmd/importbaseline data/baseline.csv
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/forexsim/session-engine/internal/config"
	"github.com/forexsim/session-engine/internal/logging"
	"github.com/forexsim/session-engine/internal/window"
)

func main() {
	flag.Parse()
	args := flag.Args()
	log := logging.For("importbaseline")

	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: importbaseline <csv-path>")
		os.Exit(1)
	}
	csvPath := args[0]

	config.LoadDotEnv()
	cfg := config.Load()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("connect to database")
	}
	windowStore := window.NewStore(db)
	if err := windowStore.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("migrate rolling_window schema")
	}

	records, err := loadExcursionCSV(csvPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load baseline csv")
	}
	log.Info().Int("rows", len(records)).Str("file", csvPath).Msg("importing baseline")

	ctx := context.Background()
	imported := 0
	for _, rec := range records {
		if err := windowStore.Append(ctx, rec); err != nil {
			log.Error().Err(err).Str("instrument", rec.Instrument).Str("session", rec.SessionID).Msg("append failed, skipping row")
			continue
		}
		imported++
	}

	if err := windowStore.RefreshStats(ctx); err != nil {
		log.Fatal().Err(err).Msg("refresh percentile stats")
	}

	log.Info().Int("imported", imported).Int("skipped", len(records)-imported).Msg("baseline import complete")
}

// loadExcursionCSV reads a generic rolling-window seed CSV with headers:
// instrument, session_id, session_instant, model, prediction, correct,
// mfe_pips, mae_pips, and the optional mfe_first, time_to_mfe_minutes,
// time_to_mae_minutes. Unknown columns are ignored; headers are
// case-insensitive.
func loadExcursionCSV(path string) ([]window.ExcursionRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []window.ExcursionRecord
	var headers []string
	rowIdx := 0

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", rowIdx, err)
		}
		if rowIdx == 0 {
			headers = row
			rowIdx++
			continue
		}
		rowIdx++

		fields := map[string]string{}
		for j, h := range headers {
			k := strings.ToLower(strings.TrimSpace(h))
			if j < len(row) {
				fields[k] = strings.TrimSpace(row[j])
			}
		}

		rec, err := parseExcursionRow(fields)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowIdx, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseExcursionRow(fields map[string]string) (window.ExcursionRecord, error) {
	instant, err := time.Parse(time.RFC3339, fields["session_instant"])
	if err != nil {
		return window.ExcursionRecord{}, fmt.Errorf("parse session_instant: %w", err)
	}
	correct, err := strconv.ParseBool(fields["correct"])
	if err != nil {
		return window.ExcursionRecord{}, fmt.Errorf("parse correct: %w", err)
	}
	mfe, err := strconv.ParseFloat(fields["mfe_pips"], 64)
	if err != nil {
		return window.ExcursionRecord{}, fmt.Errorf("parse mfe_pips: %w", err)
	}
	mae, err := strconv.ParseFloat(fields["mae_pips"], 64)
	if err != nil {
		return window.ExcursionRecord{}, fmt.Errorf("parse mae_pips: %w", err)
	}

	rec := window.ExcursionRecord{
		Instrument:     fields["instrument"],
		SessionID:      fields["session_id"],
		SessionInstant: instant,
		Model:          fields["model"],
		Prediction:     fields["prediction"],
		Correct:        correct,
		MFEPips:        mfe,
		MAEPips:        mae,
	}
	if v := fields["mfe_first"]; v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return window.ExcursionRecord{}, fmt.Errorf("parse mfe_first: %w", err)
		}
		rec.MFEFirst = &b
	}
	if v := fields["time_to_mfe_minutes"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return window.ExcursionRecord{}, fmt.Errorf("parse time_to_mfe_minutes: %w", err)
		}
		rec.TimeToMFEMinutes = &n
	}
	if v := fields["time_to_mae_minutes"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return window.ExcursionRecord{}, fmt.Errorf("parse time_to_mae_minutes: %w", err)
		}
		rec.TimeToMAEMinutes = &n
	}
	return rec, nil
}
