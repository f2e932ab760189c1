package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"coursecart/internal/config"
	"coursecart/internal/db"
	"coursecart/internal/importer"
	"coursecart/internal/logging"
	"coursecart/internal/repository/course"
)

func main() {
	var filePath string
	flag.StringVar(&filePath, "file", "", "Path to a course CSV (key,title,price_cents,currency)")
	flag.Parse()

	if filePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	ctx := context.Background()

	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	f, err := os.Open(filePath)
	if err != nil {
		log.Fatalf("open file: %v", err)
	}
	defer f.Close()

	logger := logging.Must("coursecart-importer", cfg.Env, cfg.LogLevel)
	writer, closeCache, err := course.WithCache(course.NewPostgres(pool, logger), cfg.RedisURL, cfg.CatalogCacheTTL, logger)
	if err != nil {
		log.Fatalf("catalog cache: %v", err)
	}
	defer closeCache()
	imp := importer.NewCSVImporter(f, writer, cfg.Currency)

	start := time.Now()
	count, err := imp.Run(ctx)
	if err != nil {
		log.Fatalf("import failed after %d courses: %v", count, err)
	}

	fmt.Printf("Imported %d courses in %s\n", count, time.Since(start).Truncate(time.Millisecond))
}
