// FILE: cmd/engine/main.go
// Package main – process entrypoint: wiring, flags, graceful shutdown.
//
// Boot sequence:
//   1) config.LoadDotEnv()        – read .env (no shell exports required)
//   2) cfg := config.Load()       – build runtime Config
//   3) wire every collaborator (db, predictor, bar feed, price stream,
//      risk engine, position/window stores, object-store uploader)
//   4) start the orchestrator's alert consumer and the scheduler
//   5) start the admin HTTP+WS server on cfg.Port
//   6) block until SIGINT/SIGTERM, then drain
//
// Flags:
//   -migrate   Run store/window AutoMigrate and exit
//   -log-level Minimum log level (debug, info, warn, error; default info)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/forexsim/session-engine/internal/adminapi"
	"github.com/forexsim/session-engine/internal/barfeed"
	"github.com/forexsim/session-engine/internal/config"
	"github.com/forexsim/session-engine/internal/imaging"
	"github.com/forexsim/session-engine/internal/instrument"
	"github.com/forexsim/session-engine/internal/logging"
	"github.com/forexsim/session-engine/internal/objectstore"
	"github.com/forexsim/session-engine/internal/orchestrator"
	"github.com/forexsim/session-engine/internal/predictor"
	"github.com/forexsim/session-engine/internal/prewarm"
	"github.com/forexsim/session-engine/internal/risk"
	"github.com/forexsim/session-engine/internal/schedule"
	"github.com/forexsim/session-engine/internal/session"
	"github.com/forexsim/session-engine/internal/store"
	"github.com/forexsim/session-engine/internal/stream"
	"github.com/forexsim/session-engine/internal/window"
)

func main() {
	var migrateOnly bool
	var logLevel string
	flag.BoolVar(&migrateOnly, "migrate", false, "run AutoMigrate for trades/account/rolling_window and exit")
	flag.StringVar(&logLevel, "log-level", "info", "minimum log level: debug, info, warn, error")
	flag.Parse()

	if lvl, err := zerolog.ParseLevel(logLevel); err == nil {
		logging.SetLevel(lvl)
	}
	log := logging.For("main")

	config.LoadDotEnv()
	cfg := config.Load()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("connect to database")
	}

	positions := store.NewStore(db, cfg.StartingBalance, cfg.CommissionPerLot)
	windowStore := window.NewStore(db)
	if err := positions.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("migrate trades/account schema")
	}
	if err := windowStore.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("migrate rolling_window schema")
	}
	if migrateOnly {
		log.Info().Msg("migration complete")
		return
	}

	predictorClient := predictor.NewAnthropicClient(cfg.AnthropicAPIKey)

	var bars barfeed.Client
	if cfg.BarFeedBaseURL != "" {
		bars = barfeed.NewHTTPClient(cfg.BarFeedBaseURL, cfg.BarFeedAPIKey, decodeBars)
	} else {
		log.Warn().Msg("no BARFEED_BASE_URL configured; pre-warm and reconcile will find no bars")
		bars = barfeed.NewHTTPClient("", "", decodeBars)
	}

	images := imaging.NoopGenerator{}
	pipeline := prewarm.NewPipeline(bars, images)

	riskEngine := risk.NewEngine(windowStore, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var priceStream *stream.Client
	if cfg.PolygonAPIKey != "" {
		priceStream = stream.New(cfg.PolygonAPIKey)
		go priceStream.Run(ctx)
		go func() {
			readyCtx, readyCancel := context.WithTimeout(ctx, 15*time.Second)
			defer readyCancel()
			if err := priceStream.WaitReady(readyCtx); err != nil {
				log.Warn().Err(err).Msg("stream not ready within startup window; next session's pre-warm will subscribe")
				return
			}
			if err := priceStream.Subscribe(instrument.TradingPairs); err != nil {
				log.Warn().Err(err).Msg("initial subscribe failed; next session's pre-warm will retry")
			}
		}()
	} else {
		log.Warn().Msg("no POLYGON_API_KEY configured; running without real-time TP/SL monitoring")
	}

	var artifacts objectstore.Uploader = objectstore.NoopUploader{}
	if cfg.ArtifactBucket != "" {
		s3up, err := objectstore.NewS3Uploader(ctx, cfg.ArtifactBucket, cfg.ArtifactPrefix)
		if err != nil {
			log.Warn().Err(err).Msg("object-store init failed; charts stay local")
		} else {
			artifacts = s3up
		}
	}

	orch := orchestrator.New(predictorClient, pipeline, riskEngine, positions, windowStore, bars, priceStream, artifacts, cfg)

	sched := schedule.New()
	sched.Start(ctx)
	if err := sched.ScheduleDailyCleanup(schedule.Handlers{
		DailyCleanup: func(ctx context.Context) {
			n, err := windowStore.ExpireOld(ctx, cfg.RollingWindowMonths)
			if err != nil {
				log.Error().Err(err).Msg("daily cleanup: expire old rolling-window rows")
				return
			}
			log.Info().Int64("expired", n).Msg("daily cleanup complete")
		},
	}); err != nil {
		log.Error().Err(err).Msg("register daily cleanup")
	}

	var scheduleNext func(s session.Session)
	scheduleNext = func(s session.Session) {
		sched.Schedule(s, schedule.Handlers{
			PrewarmBars: func(ctx context.Context, s session.Session) {
				pipeline.PrewarmBars(ctx, instrument.TradingPairs, s.Instant)
			},
			PrewarmInputs: func(ctx context.Context, s session.Session) {
				// Self-heals a failed/late startup subscribe: Subscribe only
				// adds instruments missing from the live set (stream.go's
				// own idempotence), so a stream that's already subscribed
				// pays nothing here.
				if priceStream != nil {
					if err := priceStream.Subscribe(instrument.TradingPairs); err != nil {
						log.Warn().Err(err).Str("session", string(s.ID)).Msg("subscribe retry failed, real-time TP/SL alerts may miss this session")
					}
				}
				pipeline.PrewarmInputs(ctx, string(s.ID), s.Instant)
			},
			Execute: func(ctx context.Context, s session.Session) {
				orch.Execute(ctx, string(s.ID), s.Instant)
				// Reschedule the next session right away rather than waiting
				// for this one's T+4h reconcile, matching
				// _execute_session's own schedule_next_session() call.
				scheduleNext(session.NextSession(time.Now()))
			},
			Reconcile: func(ctx context.Context, s session.Session) {
				orch.Reconcile(ctx, string(s.ID), s.Instant)
			},
		})
	}
	scheduleNext(session.NextSession(time.Now()))

	go orch.ConsumeAlerts(ctx)

	admin := adminapi.New(positions, orch)
	go admin.Broadcast(ctx, 5*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/", admin.Routes())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
	go func() {
		log.Info().Int("port", cfg.Port).Msg("serving admin api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("admin api server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	sched.Stop()
	if priceStream != nil {
		priceStream.Stop()
	}
}

// decodeBars parses the upstream bar-feed response as a JSON array shaped
// exactly like barfeed.Bar; the real provider's wire format is out of
// scope per spec.md §1, so this is the simplest decode that satisfies the
// Client interface's contract.
func decodeBars(body []byte) ([]barfeed.Bar, error) {
	var bars []barfeed.Bar
	if err := json.Unmarshal(body, &bars); err != nil {
		return nil, fmt.Errorf("decode bars: %w", err)
	}
	return bars, nil
}
