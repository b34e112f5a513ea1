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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/insumed-ar/ventas-api/api/swagger"
	"github.com/insumed-ar/ventas-api/internal/db"
	"github.com/insumed-ar/ventas-api/internal/handler"
	"github.com/insumed-ar/ventas-api/internal/middleware"
	"github.com/insumed-ar/ventas-api/internal/models"
	"github.com/insumed-ar/ventas-api/internal/repository"
	"github.com/insumed-ar/ventas-api/internal/service"
	"github.com/insumed-ar/ventas-api/pkg/cache"
	"github.com/insumed-ar/ventas-api/pkg/config"
	"github.com/insumed-ar/ventas-api/pkg/database"
	"github.com/insumed-ar/ventas-api/pkg/jobs"
	"github.com/insumed-ar/ventas-api/pkg/logger"
	corsmiddleware "github.com/insumed-ar/ventas-api/pkg/middleware/cors"
	reqidmiddleware "github.com/insumed-ar/ventas-api/pkg/middleware/requestid"
)

// @title Ventas API
// @version 1.0.0
// @description Opportunity lifecycle and audit trail service for the sales team
// @BasePath /api/v1
// @schemes http

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

	pg, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer pg.Close()

	if err := db.Migrate(pg); err != nil {
		logr.Sugar().Fatalw("failed to run migrations", "error", err)
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(pg)
	oppRepo := repository.NewOpportunityRepository(pg)
	clientRepo := repository.NewClientRepository(pg)
	productRepo := repository.NewProductRepository(pg)
	reportRepo := repository.NewReportRepository(pg)

	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheRepo := repository.NewCacheRepository(redisClient)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Opportunities.CacheTTL, logr, true)
	}

	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})

	guard := service.NewAuthorizationGuard(userRepo)

	// The retry queue and the opportunity service reference each other,
	// so the handler is bound through a late-assigned variable.
	var oppSvc *service.OpportunityService
	historyQueue := jobs.NewQueue("history-retry", func(ctx context.Context, job jobs.Job) error {
		return oppSvc.HandleHistoryRetry(ctx, job)
	}, jobs.QueueConfig{
		Workers:    1,
		MaxRetries: cfg.Opportunities.HistoryRetryLimit,
		RetryDelay: cfg.Opportunities.HistoryRetryDelay,
		Logger:     logr,
	})

	oppSvc = service.NewOpportunityService(oppRepo, clientRepo, productRepo, guard, logr,
		service.WithHistoryRetryQueue(historyQueue),
		service.WithOpportunityCache(cacheSvc),
		service.WithOpportunityMetrics(metricsSvc),
	)

	historyQueue.Start(ctx)
	defer historyQueue.Stop()

	reportSvc := service.NewReportService(reportRepo, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	oppHandler := handler.NewOpportunityHandler(oppSvc)
	reportHandler := handler.NewReportHandler(reportSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := pg.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))

	opps := protected.Group("/oportunidades")
	opps.POST("", oppHandler.Create)
	opps.GET("", oppHandler.List)
	opps.GET("/:id", oppHandler.Get)
	opps.PATCH("/:id", oppHandler.Edit)
	opps.DELETE("/:id", oppHandler.Delete)
	opps.POST("/:id/estado", oppHandler.ChangeState)
	opps.GET("/:id/historial", oppHandler.History)
	opps.GET("/:id/resumen", oppHandler.Summary)

	if cfg.Reports.Enabled {
		reports := protected.Group("/reportes")
		reports.Use(middleware.RequireRoles(models.RoleAdmin))
		reports.GET("/pipeline.pdf", reportHandler.PipelinePDF)
		reports.GET("/pipeline.csv", reportHandler.PipelineCSV)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
