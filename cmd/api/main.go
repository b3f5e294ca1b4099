package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-grading-api/api/swagger"
	"github.com/noah-isme/sma-grading-api/internal/grading"
	"github.com/noah-isme/sma-grading-api/internal/handler"
	"github.com/noah-isme/sma-grading-api/internal/repository"
	"github.com/noah-isme/sma-grading-api/internal/service"
	"github.com/noah-isme/sma-grading-api/pkg/cache"
	"github.com/noah-isme/sma-grading-api/pkg/config"
	"github.com/noah-isme/sma-grading-api/pkg/database"
	"github.com/noah-isme/sma-grading-api/pkg/logger"
)

// @title SMA Grading API
// @version 1.0.0
// @description Weighted grading, trend detection and final-grade prediction for school classes
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const tokenIssuer = "sma-grading-api"

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

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelConnect()

	db, err := database.NewPostgres(connectCtx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(context.Background(), db, logr); err != nil {
			logr.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(connectCtx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, statistics cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
		}
	}

	gradingCfg := gradingConfig(cfg.Grading)
	validate := validator.New()
	metrics := service.NewMetricsService()

	users := repository.NewUserRepository(db)
	classes := repository.NewClassRepository(db)
	students := repository.NewStudentRepository(db)
	assessments := repository.NewAssessmentTypeRepository(db)
	marks := repository.NewMarkRepository(db)
	snapshots := repository.NewGradeSnapshotRepository(db)
	alerts := repository.NewAlertRepository(db)

	var cacheRepo service.CacheRepository
	readiness := map[string]handler.Pinger{"database": db}
	if redisClient != nil {
		redisCache := repository.NewCacheRepository(redisClient, "grading", logr)
		cacheRepo = redisCache
		readiness["redis"] = handler.PingFunc(redisCache.Ping)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.CacheTTL, logr, cfg.Cache.Enabled && cacheRepo != nil)

	gradeSvc := service.NewGradeService(db, marks, assessments, snapshots, students, alerts, grading.NewCalculator(gradingCfg), cacheSvc, metrics, logr)
	gradeSvc.SetStatisticsTTL(cfg.Cache.CacheTTL)

	authSvc := service.NewAuthService(users, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             tokenIssuer,
	})
	userSvc := service.NewUserService(users, validate, logr)
	classSvc := service.NewClassService(classes, users, assessments, gradingCfg, validate, logr)
	studentSvc := service.NewStudentService(db, students, users, classes, gradeSvc, cacheSvc, users, validate, logr)
	assessmentSvc := service.NewAssessmentTypeService(db, assessments, classes, gradeSvc, users, gradingCfg, validate, logr)
	markSvc := service.NewMarkService(db, marks, assessments, students, gradeSvc, cacheSvc, users, gradingCfg, validate, logr)
	exportSvc := service.NewExportService(classes, assessments, gradeSvc, logr)
	policy := service.NewAccessPolicy(classes, students, assessments, marks)

	r := newRouter(cfg, logr, routes{
		auth:        handler.NewAuthHandler(authSvc),
		users:       handler.NewUserHandler(userSvc),
		classes:     handler.NewClassHandler(classSvc, studentSvc, policy),
		students:    handler.NewStudentHandler(studentSvc, policy),
		assessments: handler.NewAssessmentTypeHandler(assessmentSvc, policy),
		marks:       handler.NewMarkHandler(markSvc, policy),
		grades:      handler.NewGradeHandler(gradeSvc, studentSvc, policy, exportSvc),
		metrics:     handler.NewMetricsHandler(metrics, readiness),
		tokens:      authSvc,
		audit:       users,
		metricsSvc:  metrics,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}

func gradingConfig(cfg config.GradingConfig) grading.Config {
	return grading.Config{
		MaxScore:          cfg.MaxScore,
		MinScore:          cfg.MinScore,
		BandA:             cfg.BandA,
		BandB:             cfg.BandB,
		BandC:             cfg.BandC,
		BandD:             cfg.BandD,
		TrendLookback:     cfg.TrendLookback,
		DeclineThreshold:  cfg.DeclineThreshold,
		WarningThreshold:  cfg.WarningThreshold,
		CriticalThreshold: cfg.CriticalThreshold,
		ConfidenceHigh:    cfg.ConfidenceHigh,
		ConfidenceMedium:  cfg.ConfidenceMedium,
		WeightTolerance:   cfg.WeightTolerance,
	}.WithDefaults()
}
