package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fraudshield/scoring-engine/configs"
	"github.com/fraudshield/scoring-engine/internal/cache"
	"github.com/fraudshield/scoring-engine/internal/pipeline"
	"github.com/fraudshield/scoring-engine/internal/queue"
	"github.com/fraudshield/scoring-engine/internal/repositories"
	"github.com/fraudshield/scoring-engine/internal/webhook"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := configs.Load()
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Int("concurrency", cfg.Worker.Concurrency).
		Msg("Starting persistence worker")

	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	cacheClient, err := cache.NewClient(cfg.Redis.URL, cfg.Redis.OpTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer cacheClient.Close()

	streamClient, err := queue.NewRedisStreamClient(cacheClient.Raw(), cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize stream client")
	}

	txRepo := repositories.NewTransactionRepository(db)
	consortiumRepo := repositories.NewConsortiumRepository(db)
	clientRepo := repositories.NewClientRepository(db)
	dispatcher := webhook.NewDispatcher(cfg.Webhook.Timeout, cfg.Webhook.MaxAttempts, cfg.Webhook.BaseBackoff)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ageOut := pipeline.NewAgeOutRunner(consortiumRepo, cfg.Consortium)
	ageOut.Start(ctx)
	defer ageOut.Stop()

	worker := pipeline.NewWorker(
		pipeline.WorkerID("persistence"),
		streamClient,
		txRepo,
		consortiumRepo,
		clientRepo,
		dispatcher,
		cfg.Worker,
	)

	// Blocks until SIGINT/SIGTERM
	if err := worker.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Worker failed")
	}
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
