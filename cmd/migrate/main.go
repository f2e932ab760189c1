package main

import (
	"context"

	"coursecart/internal/config"
	"coursecart/internal/db"
	"coursecart/internal/logging"
	"coursecart/internal/migrate"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger := logging.Must("coursecart-migrate", cfg.Env, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		logger.Fatal("connect db", zap.Error(err))
	}
	defer pool.Close()

	if err := migrate.Apply(ctx, pool); err != nil {
		logger.Fatal("apply migrations", zap.Error(err))
	}

	logger.Info("migrations applied")
}
