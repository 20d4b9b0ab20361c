package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/supplementiq/backend/internal/config"
	"github.com/supplementiq/backend/internal/db"
	httpapi "github.com/supplementiq/backend/internal/http"
	"github.com/supplementiq/backend/internal/scoring"
	"github.com/supplementiq/backend/internal/service"
	"github.com/supplementiq/backend/internal/vin"
)

// backend is what both the Postgres and in-memory stores provide.
type backend interface {
	service.PatternRepository
	service.RunRecorder
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "supplement-backend").Logger()

	scoringCfg, err := scoring.Load(cfg.ScoringConfigPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load scoring config")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var store backend
	if cfg.MemoryStore() {
		store = db.NewMemoryStore(scoringCfg.Pattern)
		logger.Warn().Msg("DATABASE_URL not set, using in-memory store")
	} else {
		pg, err := db.New(ctx, cfg.DatabaseURL, scoringCfg.Pattern)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect db")
		}
		defer pg.Close()
		store = pg
	}

	var decoder vin.Decoder
	if cfg.VINDecoderURL != "" {
		decoder = vin.NewVPICDecoder(cfg.VINDecoderURL, cfg.VINDecoderRPS)
	}

	recommender := service.NewRecommendationService(store, scoringCfg, decoder, cfg.MatcherParallel, logger)
	miner := service.NewMiningService(store, store, logger)

	schedulerDone, err := service.StartMinerScheduler(ctx, cfg.MinerSchedule, miner, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start miner scheduler")
	}

	router := httpapi.Router(cfg, store, recommender, miner, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stop()
	<-schedulerDone

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
