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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/zivenyang/auth-api/api/swagger"
	"github.com/zivenyang/auth-api/internal/handler"
	"github.com/zivenyang/auth-api/internal/middleware"
	"github.com/zivenyang/auth-api/internal/models"
	"github.com/zivenyang/auth-api/internal/repository"
	"github.com/zivenyang/auth-api/internal/service"
	"github.com/zivenyang/auth-api/pkg/cache"
	"github.com/zivenyang/auth-api/pkg/config"
	"github.com/zivenyang/auth-api/pkg/database"
	"github.com/zivenyang/auth-api/pkg/logger"
	corsmiddleware "github.com/zivenyang/auth-api/pkg/middleware/cors"
	reqidmiddleware "github.com/zivenyang/auth-api/pkg/middleware/requestid"
)

const shutdownTimeout = 10 * time.Second

// @title Auth API
// @version 1.0.0
// @description JWT authentication and user management service
// @BasePath /
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

	if err := run(cfg, logr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close() //nolint:errcheck

	// Redis is optional. When it is disabled or unreachable the instance runs
	// on the in-process revocation store and serves uncached reads; logout
	// scope shrinks to this instance until Redis returns.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, falling back to in-process revocation store", zap.Error(err))
			redisClient = nil
		}
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	userRepo := repository.NewUserRepository(db)

	var revocations service.RevocationStore
	if redisClient != nil {
		revocations = repository.NewRevocationRepository(redisClient)
	} else {
		memory := repository.NewMemoryRevocationRepository()
		memory.StartJanitor(ctx, cfg.Revocation.SweepInterval, logr)
		revocations = memory
	}

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.UserTTL, logr, cfg.Cache.Enabled)
	}

	tokenSvc, err := service.NewTokenService(service.TokenConfig{
		Secret:         cfg.JWT.Secret,
		Algorithm:      cfg.JWT.Algorithm,
		AccessTokenTTL: cfg.JWT.AccessTokenTTL,
	})
	if err != nil {
		return err
	}
	passwordSvc := service.NewPasswordService(cfg.Password.BcryptCost)

	auditSvc := service.NewAuditService(userRepo, service.AuditConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
		MaxRetries: cfg.Audit.MaxRetries,
		RetryDelay: cfg.Audit.RetryDelay,
	}, logr)
	auditSvc.Start(ctx)
	defer auditSvc.Stop()

	validate := validator.New()

	authSvc := service.NewAuthService(service.AuthServiceParams{
		Users:       userRepo,
		Revocations: revocations,
		Tokens:      tokenSvc,
		Passwords:   passwordSvc,
		Audit:       auditSvc,
		Metrics:     metricsSvc,
		Validator:   validate,
		Logger:      logr,
	})

	userSvc := service.NewUserService(service.UserServiceParams{
		Repo:      userRepo,
		Cache:     cacheSvc,
		Metrics:   metricsSvc,
		Passwords: passwordSvc,
		Audit:     auditSvc,
		Validator: validate,
		Logger:    logr,
		CacheTTL:  cfg.Cache.UserTTL,
	})

	authHandler := handler.NewAuthHandler(authSvc, userSvc)
	userHandler := handler.NewUserHandler(userSvc)
	healthHandler := handler.NewHealthHandler(db, redisClient, logr)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/register", authHandler.Register)
	auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)

	users := api.Group("/users", middleware.JWT(authSvc))
	users.GET("", middleware.RequireAdmin(), userHandler.List)
	users.POST("", middleware.RequireAdmin(), userHandler.Create)
	users.GET("/export", middleware.RequireAdmin(), middleware.Audit(auditSvc, models.AuditActionExport, "users"), userHandler.Export)
	users.GET("/me", userHandler.Me)
	users.PUT("/me", userHandler.UpdateMe)
	users.GET("/me/profile", userHandler.Profile)
	users.PUT("/me/profile", userHandler.UpdateProfile)
	users.GET("/:id", middleware.AdminOrSelf(), userHandler.Get)
	users.PUT("/:id", middleware.RequireAdmin(), userHandler.Update)
	users.DELETE("/:id", middleware.RequireAdmin(), userHandler.Delete)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	serverErr := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logr.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("listen: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logr.Info("server stopped")
	return nil
}
