package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/craftcurio/marketplace/internal/config"
	"github.com/craftcurio/marketplace/internal/database"
	"github.com/craftcurio/marketplace/internal/logger"
	"github.com/craftcurio/marketplace/internal/migrations"
)

func main() {
	if len(os.Args) < 2 {
		slog.Error("usage: migrate [up|down]")
		os.Exit(2)
	}

	direction, err := migrations.ParseDirection(os.Args[1])
	if err != nil {
		slog.Error("invalid direction", slog.Any("err", err))
		os.Exit(2)
	}

	if err := run(direction); err != nil {
		slog.Error("migration failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(direction migrations.Direction) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(logger.Options{Service: "craftcurio-migrate", Env: cfg.AppEnv, Level: cfg.Log.Level, Format: cfg.Log.Format})
	ctx := context.Background()

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := migrations.Apply(ctx, db, direction)
	if err != nil {
		return err
	}

	log.Info("migrations applied", slog.Int("count", n), slog.String("direction", string(direction)))
	return nil
}
