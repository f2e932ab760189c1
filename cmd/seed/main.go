package main

import (
	"context"

	"coursecart/internal/config"
	"coursecart/internal/db"
	"coursecart/internal/logging"
	"coursecart/internal/repository/course"
	"coursecart/internal/repository/token"
	"coursecart/internal/seed"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger := logging.Must("coursecart-seed", cfg.Env, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		logger.Fatal("connect db", zap.Error(err))
	}
	defer pool.Close()

	// Writes go through the cache wrapper so the API never serves an old price.
	writer, closeCache, err := course.WithCache(course.NewPostgres(pool, logger), cfg.RedisURL, cfg.CatalogCacheTTL, logger)
	if err != nil {
		logger.Fatal("catalog cache", zap.Error(err))
	}
	defer closeCache()

	courses, err := seed.Apply(ctx, writer, token.NewPostgres(pool))
	if err != nil {
		logger.Fatal("seed apply", zap.Error(err))
	}
	for _, c := range courses {
		logger.Info("course ready", zap.String("id", c.ID), zap.String("key", c.Key), zap.Int64("price_cents", c.PriceCents))
	}
	logger.Info("seed applied", zap.String("demo_token", seed.DemoToken), zap.String("demo_user", seed.DemoUserID))
}
