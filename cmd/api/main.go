package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/student-records-api/api/swagger"
	"github.com/noah-isme/student-records-api/internal/handler"
	"github.com/noah-isme/student-records-api/internal/middleware"
	"github.com/noah-isme/student-records-api/internal/repository"
	"github.com/noah-isme/student-records-api/internal/service"
	"github.com/noah-isme/student-records-api/pkg/cache"
	"github.com/noah-isme/student-records-api/pkg/config"
	"github.com/noah-isme/student-records-api/pkg/database"
	"github.com/noah-isme/student-records-api/pkg/llm"
	"github.com/noah-isme/student-records-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/student-records-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/student-records-api/pkg/middleware/requestid"
)

// @title Student Records API
// @version 1.0.0
// @description CRUD, export and query assistant for a student records database
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

	db, err := database.NewSQLite(cfg.Database)
	if err != nil {
		logr.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	// The assistant runs generated statements on a read-only handle so a
	// guard bypass still cannot write.
	roDB, err := database.NewSQLiteReadOnly(cfg.Database)
	if err != nil {
		logr.Fatal("failed to open read-only database handle", zap.Error(err))
	}
	defer roDB.Close()

	redisClient := cacheClient(cfg, logr)

	validate := validator.New()

	studentRepo := repository.NewStudentRepository(db)
	userRepo := repository.NewUserRepository(db)
	queryRepo := repository.NewQueryRepository(roDB)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	studentSvc := service.NewStudentService(studentRepo, cacheRepo, metricsSvc, validate, logr, cfg.Cache.StudentListTTL)
	authSvc := service.NewAuthService(userRepo, validate, logr, cfg.JWT)
	exportSvc := service.NewExportService(studentRepo, logr)

	var assistantSvc *service.AssistantService
	if gen := assistantGenerator(cfg, logr); gen != nil {
		assistantSvc = service.NewAssistantService(gen, queryRepo, logr, cfg.Assistant.Timeout)
	} else {
		assistantSvc = service.NewAssistantService(nil, queryRepo, logr, cfg.Assistant.Timeout)
	}

	studentHandler := handler.NewStudentHandler(studentSvc)
	authHandler := handler.NewAuthHandler(authSvc)
	exportHandler := handler.NewExportHandler(exportSvc)
	assistantHandler := handler.NewAssistantHandler(assistantSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/signup", authHandler.Signup)
	api.POST("/auth/login", authHandler.Login)

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))
	protected.GET("/auth/me", authHandler.Me)
	protected.GET("/students", studentHandler.List)
	protected.POST("/students", studentHandler.Create)
	protected.GET("/students/export", exportHandler.Export)
	protected.GET("/students/roll/:rollNo", studentHandler.GetByRoll)
	protected.GET("/students/:id", studentHandler.Get)
	protected.PATCH("/students/:id", studentHandler.Update)
	protected.DELETE("/students/:id", studentHandler.Delete)
	protected.GET("/students/:id/risk", studentHandler.Risk)
	protected.POST("/assistant/query", assistantHandler.Query)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

// cacheClient connects to redis when enabled. Cache failures never block
// startup, the service degrades to uncached listings.
func cacheClient(cfg *config.Config, logr *zap.Logger) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	client, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("failed to connect to redis, listings will be uncached", zap.Error(err))
		return nil
	}
	return client
}

func assistantGenerator(cfg *config.Config, logr *zap.Logger) *llm.GeminiClient {
	if !cfg.Assistant.Enabled || cfg.Assistant.APIKey == "" {
		logr.Info("query assistant disabled, falling back to full listings")
		return nil
	}
	gen, err := llm.NewGemini(context.Background(), cfg.Assistant.APIKey, cfg.Assistant.Model)
	if err != nil {
		logr.Warn("failed to initialise query assistant", zap.Error(err))
		return nil
	}
	return gen
}
