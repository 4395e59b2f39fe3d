package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"taskflow/internal/pkg/logger"
	"taskflow/internal/platform/config"
	"taskflow/internal/platform/database"
	"taskflow/internal/workers"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	_ = godotenv.Load()

	path := *configPath
	if _, err := os.Stat(path); err != nil {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger.Init(cfg.Logging)
	log.Info().Msg("Starting TaskFlow background workers")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	purger := workers.NewTokenPurger(db, cfg.Workers.TokenPurgeRetention)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(cfg.Workers.TokenPurgeSchedule, func() {
		if _, err := purger.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Token purge failed")
		}
	}); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Workers.TokenPurgeSchedule).Msg("Invalid token purge schedule")
	}

	c.Start()
	log.Info().Str("schedule", cfg.Workers.TokenPurgeSchedule).Msg("Token purge scheduled")

	<-ctx.Done()
	log.Info().Msg("Stopping workers")
	<-c.Stop().Done()
}
