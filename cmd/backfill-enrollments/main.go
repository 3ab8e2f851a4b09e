package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/classroom-api/internal/repository"
	"github.com/noah-isme/classroom-api/internal/service"
	"github.com/noah-isme/classroom-api/pkg/cache"
	"github.com/noah-isme/classroom-api/pkg/config"
	"github.com/noah-isme/classroom-api/pkg/database"
	"github.com/noah-isme/classroom-api/pkg/logger"
)

func main() {
	var dryRun bool
	flag.BoolVar(&dryRun, "dry-run", false, "Report what would change without writing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, db, err := database.NewMongo(ctx, cfg.Mongo)
	if err != nil {
		logr.Fatal("failed to connect document store", zap.Error(err))
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}()

	var cacheSvc *service.CacheService
	if redisClient, err := cache.NewRedis(ctx, cfg.Redis); err != nil {
		logr.Warn("cache unavailable, stale student course lists expire by TTL", zap.Error(err))
	} else if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
		cacheSvc = service.NewCacheService(repository.NewCacheRepository(redisClient, "classroom:", logr), nil, cfg.Redis.CacheTTL, logr, true)
	}

	report, err := service.NewEnrollmentMigrator(repository.NewCourseRepository(db), cacheSvc, logr).Run(ctx, dryRun)
	if err != nil {
		logr.Fatal("enrollment backfill failed", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logr.Fatal("failed to print report", zap.Error(err))
	}
}
