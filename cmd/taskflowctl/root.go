package main

import (
	"context"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"taskflow/internal/pkg/logger"
	"taskflow/internal/platform/config"
	"taskflow/internal/platform/database"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "taskflowctl",
	Short:         "Operator tooling for the TaskFlow backend",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil {
			log.Debug().Msg("No .env file, skipping")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to config file")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

// connect loads the config and opens the database with migrations applied.
func connect(ctx context.Context) (*config.Config, *sqlx.DB, error) {
	path := configPath
	if _, err := os.Stat(path); err != nil {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger.Init(cfg.Logging)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	applied, err := database.Migrate(ctx, db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	for _, v := range applied {
		log.Info().Str("version", v).Msg("Applied migration")
	}
	return cfg, db, nil
}
