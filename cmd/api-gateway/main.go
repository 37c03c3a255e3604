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

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/cliniclink-api/api/swagger"
	"github.com/noah-isme/cliniclink-api/internal/handler"
	"github.com/noah-isme/cliniclink-api/internal/repository"
	"github.com/noah-isme/cliniclink-api/internal/service"
	"github.com/noah-isme/cliniclink-api/pkg/cache"
	"github.com/noah-isme/cliniclink-api/pkg/config"
	"github.com/noah-isme/cliniclink-api/pkg/database"
	"github.com/noah-isme/cliniclink-api/pkg/export"
	"github.com/noah-isme/cliniclink-api/pkg/jobs"
	"github.com/noah-isme/cliniclink-api/pkg/logger"
	"github.com/noah-isme/cliniclink-api/pkg/storage"
)

// @title ClinicLink API
// @version 0.1.0
// @description Evaluation templates, rotation evaluations and exports
// @BasePath /api/v1
// @schemes http
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect postgres", "error", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, template cache disabled", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	app, err := buildApp(ctx, cfg, db, redisClient, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to build application", "error", err)
	}
	defer app.shutdown()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, app, logr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
	logr.Info("server stopped")
}

type application struct {
	audit       *repository.AuditRepository
	auth        *service.AuthService
	metrics     *service.MetricsService
	handlers    handlers
	reportQueue *jobs.Queue
}

type handlers struct {
	auth        *handler.AuthHandler
	users       *handler.UserHandler
	templates   *handler.EvaluationTemplateHandler
	evaluations *handler.EvaluationHandler
	reports     *handler.ReportHandler
	metrics     *handler.MetricsHandler
}

func buildApp(ctx context.Context, cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, logr *zap.Logger) (*application, error) {
	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	templateRepo := repository.NewEvaluationTemplateRepository(db)
	evaluationRepo := repository.NewEvaluationRepository(db)
	slotRepo := repository.NewRotationSlotRepository(db)
	reportRepo := repository.NewReportRepository(db)

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, cfg.Redis.KeyPrefix, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Templates.CacheTTL, logr, cfg.Templates.CacheEnabled)

	authSvc := service.NewAuthService(userRepo, sessionRepo, auditRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.ServiceName,
	})
	userSvc := service.NewUserService(userRepo, sessionRepo, auditRepo, validate, logr)
	templateSvc := service.NewEvaluationTemplateService(templateRepo, cacheSvc, validate, logr, service.EvaluationTemplateServiceConfig{
		CacheTTL: cfg.Templates.CacheTTL,
	})
	evaluationSvc := service.NewEvaluationService(evaluationRepo, templateRepo, slotRepo, metricsSvc, validate, logr, service.EvaluationServiceConfig{
		MinRatedCategories: cfg.Evaluations.MinRatedCategories,
	})

	metricsHandler := handler.NewMetricsHandler(metricsSvc).
		WithReadiness("postgres", db.PingContext)
	if redisClient != nil {
		metricsHandler.WithReadiness("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	app := &application{
		audit:   auditRepo,
		auth:    authSvc,
		metrics: metricsSvc,
		handlers: handlers{
			auth:        handler.NewAuthHandler(authSvc),
			users:       handler.NewUserHandler(userSvc),
			templates:   handler.NewEvaluationTemplateHandler(templateSvc),
			evaluations: handler.NewEvaluationHandler(evaluationSvc),
			metrics:     metricsHandler,
		},
	}

	go purgeSessions(ctx, sessionRepo, cfg.JWT.RefreshExpiration, logr)

	if !cfg.Reports.Enabled {
		return app, nil
	}

	store, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("init export storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	exportSvc := service.NewExportService(evaluationRepo, templateRepo, metricsSvc, store, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Reports.SignedURLTTL,
	}, logr, export.NewCSVRenderer(true), export.NewPDFRenderer())

	worker := service.NewReportWorker(reportRepo, exportSvc, cfg.Reports.WorkerRetries, logr)
	queue := jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		MaxRetries: cfg.Reports.WorkerRetries,
		Logger:     logr,
	})
	metricsSvc.TrackQueue(queue)
	queue.Start(ctx)

	reportSvc := service.NewReportService(reportRepo, slotRepo, queue, exportSvc, logr, service.ReportServiceConfig{
		ResultTTL:       cfg.Reports.SignedURLTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
		MaxRetries:      cfg.Reports.WorkerRetries,
	})
	reportSvc.RecoverPendingJobs(ctx)
	reportSvc.StartCleanup(ctx)

	app.reportQueue = queue
	app.handlers.reports = handler.NewReportHandler(reportSvc, logr)
	return app, nil
}

// purgeSessions deletes refresh tokens that expired more than a day ago.
func purgeSessions(ctx context.Context, sessions *repository.SessionRepository, every time.Duration, logr *zap.Logger) {
	if every <= 0 || every > 24*time.Hour {
		every = 24 * time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.DeleteExpired(ctx, time.Now().Add(-24*time.Hour))
			if err != nil {
				logr.Sugar().Warnw("session purge failed", "error", err)
				continue
			}
			if n > 0 {
				logr.Sugar().Infow("expired sessions purged", "count", n)
			}
		}
	}
}

func (a *application) shutdown() {
	if a.reportQueue != nil {
		a.reportQueue.Stop()
	}
}
