package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	_ "github.com/noah-isme/classroom-api/api/swagger"
	"github.com/noah-isme/classroom-api/internal/handler"
	"github.com/noah-isme/classroom-api/internal/repository"
	"github.com/noah-isme/classroom-api/internal/router"
	"github.com/noah-isme/classroom-api/internal/service"
	"github.com/noah-isme/classroom-api/pkg/cache"
	"github.com/noah-isme/classroom-api/pkg/config"
	"github.com/noah-isme/classroom-api/pkg/database"
	"github.com/noah-isme/classroom-api/pkg/jobs"
	"github.com/noah-isme/classroom-api/pkg/logger"
	"github.com/noah-isme/classroom-api/pkg/storage"
	"github.com/noah-isme/classroom-api/pkg/validation"
)

// @title Classroom API
// @version 1.0.0
// @description Courses, enrollment workflow, assignments and notifications.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := validation.BindGin(); err != nil {
		logr.Fatal("failed to register validator", zap.Error(err))
	}

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

	users := repository.NewUserRepository(db)
	courses := repository.NewCourseRepository(db)
	assignments := repository.NewAssignmentRepository(db)
	notifications := repository.NewNotificationRepository(db)

	if err := ensureIndexes(ctx, cfg, users, courses, assignments, notifications); err != nil {
		logr.Fatal("failed to ensure indexes", zap.Error(err))
	}

	metrics := service.NewMetricsService()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("cache unavailable, continuing without it", zap.Error(err))
		redisClient = nil
	}
	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, "classroom:", logr)
		defer redisClient.Close() //nolint:errcheck
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Redis.CacheTTL, logr, cacheRepo != nil)

	auditDB, auditSvc := startAudit(cfg, metrics, logr)
	if auditDB != nil {
		defer auditDB.Close() //nolint:errcheck
	}
	defer auditSvc.Stop()

	if cfg.Mongo.MigrateOnStart {
		report, err := service.NewEnrollmentMigrator(courses, cacheSvc, logr).Run(ctx, false)
		if err != nil {
			logr.Fatal("enrollment backfill failed", zap.Error(err))
		}
		logr.Info("enrollment backfill finished", zap.Int("scanned", report.Scanned), zap.Int("rewritten", report.Rewritten))
	}

	files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare export storage", zap.Error(err))
	}
	secret := cfg.Exports.SignedURLSecret
	if secret == "" {
		secret = cfg.JWT.Secret
	}
	signer := storage.NewSignedURLSigner(secret, cfg.Exports.SignedURLTTL)

	validate := validation.New()
	authSvc := service.NewAuthService(users, validate, auditSvc, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(users, validate, auditSvc, logr)
	enrollmentSvc := service.NewEnrollmentService(courses, users, cacheSvc, metrics, auditSvc, logr, service.EnrollmentConfig{
		CapacityPolicy: service.ParseCapacityPolicy(cfg.Enrollment.CapacityPolicy),
		CacheTTL:       cfg.Redis.CacheTTL,
	})
	courseSvc := service.NewCourseService(courses, users, assignments, notifications, cacheSvc, auditSvc, validate, logr)
	assignmentSvc := service.NewAssignmentService(assignments, courses, metrics, auditSvc, validate, logr)
	notificationSvc := service.NewNotificationService(notifications, courses, enrollmentSvc, validate, logr)
	exportSvc := service.NewExportService(courses, users, assignments, files, signer, metrics, auditSvc, logr, service.ExportConfig{
		APIPrefix:       cfg.APIPrefix,
		Retention:       cfg.Exports.Retention,
		CleanupInterval: cfg.Exports.CleanupInterval,
	})
	exportSvc.StartCleanup(ctx)

	engine := router.New(router.Options{Config: cfg, Logger: logr, Tokens: authSvc, Metrics: metrics}, router.Handlers{
		Auth:         handler.NewAuthHandler(authSvc),
		Users:        handler.NewUserHandler(userSvc),
		Courses:      handler.NewCourseHandler(courseSvc),
		Enrollment:   handler.NewEnrollmentHandler(enrollmentSvc),
		Assignments:  handler.NewAssignmentHandler(assignmentSvc),
		Notification: handler.NewNotificationHandler(notificationSvc),
		Exports:      handler.NewExportHandler(exportSvc),
		Audit:        handler.NewAuditHandler(auditSvc),
		System:       handler.NewMetricsHandler(metrics, readinessChecks(client, redisClient, auditDB)),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env),
			zap.String("capacity_policy", string(enrollmentSvc.Policy())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("http shutdown failed", zap.Error(err))
	}
}

func ensureIndexes(ctx context.Context, cfg *config.Config, users *repository.UserRepository, courses *repository.CourseRepository,
	assignments *repository.AssignmentRepository, notifications *repository.NotificationRepository) error {
	if err := users.EnsureIndexes(ctx); err != nil {
		return err
	}
	if err := courses.EnsureIndexes(ctx, cfg.Mongo.CourseTTLEnabled); err != nil {
		return err
	}
	if err := assignments.EnsureIndexes(ctx); err != nil {
		return err
	}
	return notifications.EnsureIndexes(ctx)
}

// startAudit connects the Postgres sink and starts the audit queue. A disabled or
// unreachable sink yields a nil service, which records nothing.
func startAudit(cfg *config.Config, metrics *service.MetricsService, logr *zap.Logger) (*sqlx.DB, *service.AuditService) {
	if !cfg.Audit.Enabled {
		return nil, nil
	}
	db, err := database.NewPostgres(cfg.Audit.Database)
	if err != nil {
		logr.Warn("audit store unavailable, audit trail disabled", zap.Error(err))
		return nil, nil
	}
	if err := database.EnsureAuditSchema(db); err != nil {
		logr.Warn("audit schema setup failed, audit trail disabled", zap.Error(err))
		_ = db.Close()
		return nil, nil
	}
	svc := service.NewAuditService(repository.NewAuditRepository(db), jobs.QueueConfig{
		Workers:    cfg.Audit.Workers,
		MaxRetries: cfg.Audit.Retries,
	}, metrics, logr)
	// The queue outlives the signal context so Stop can drain it on shutdown.
	svc.Start(context.Background())
	return db, svc
}

func readinessChecks(client *mongo.Client, redisClient *redis.Client, auditDB *sqlx.DB) map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{
		"mongo": func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) },
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	if auditDB != nil {
		checks["audit_db"] = auditDB.PingContext
	}
	return checks
}
