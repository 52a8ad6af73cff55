package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"study-aggregator/config"
	"study-aggregator/models"
	"study-aggregator/providers/staged"
	"study-aggregator/services"
	"study-aggregator/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}
	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		logging.Fatal("Rules load error", zap.Error(err))
	}

	// Setup Database Connection
	db, err := storage.OpenCore(cfg)
	if err != nil {
		logging.Fatal("Failed to connect to core database", zap.Error(err))
	}
	logging.Info("Successfully connected to core database.")

	logging.Info("Running database auto-migration...")
	if err := storage.Migrate(db); err != nil {
		logging.Fatal("Migration failed", zap.Error(err))
	}

	// Seeding
	if err := storage.SeedSources(db, rules, logging); err != nil {
		logging.Fatal("Failed to seed sources", zap.Error(err))
	}

	// Setup Services
	var uploader storage.ObjectUploader
	if cfg.S3Enabled() {
		s3Client, err := storage.NewS3Client(cfg)
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
		uploader = s3Client
	} else {
		logging.Info("S3 export disabled.")
	}
	metrics := services.NewMetrics(prometheus.DefaultRegisterer)
	aggregator, err := services.NewAggregator(cfg, rules, db, staged.Opener(cfg), uploader, metrics, logging)
	if err != nil {
		logging.Fatal("Aggregator setup failed", zap.Error(err))
	}

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	setupRunRoutes(router, aggregator)
	setupStudyRoutes(router, aggregator, db)
	setupNormalizeRoutes(router, aggregator.Normalizer)

	// Setup Cron
	cronScheduler := cron.New()
	_, err = cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled aggregation...")
		if _, err := aggregator.Run(context.Background(), "cron"); err != nil {
			logging.Error("Cron job failed", zap.Error(err))
		}
	})
	if err != nil {
		logging.Fatal("Invalid cron schedule", zap.String("schedule", cfg.CronSchedule), zap.Error(err))
	}
	cronScheduler.Start()
	defer cronScheduler.Stop()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func setupRunRoutes(router *gin.Engine, aggregator *services.Aggregator) {
	rg := router.Group("/runs")
	rg.POST("", func(c *gin.Context) {
		err := aggregator.Start(context.Background(), "api", func(run *models.AggregationRun, err error) {
			if err != nil {
				aggregator.Logger.Error("Async aggregation failed", zap.Error(err))
				return
			}
			aggregator.Logger.Info("Async aggregation completed", zap.Uint("run_id", run.ID))
		})
		if errors.Is(err, services.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message": "Aggregation run triggered."})
	})
	rg.GET("", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		runs, err := aggregator.Runs(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, runs)
	})
	rg.GET("/:id", func(c *gin.Context) {
		var run models.AggregationRun
		if err := aggregator.DB.WithContext(c.Request.Context()).First(&run, c.Param("id")).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusOK, run)
	})
}

func setupStudyRoutes(router *gin.Engine, aggregator *services.Aggregator, db *gorm.DB) {
	router.GET("/sources", func(c *gin.Context) {
		sources, err := storage.LoadSources(c.Request.Context(), db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sources)
	})

	rg := router.Group("/studies/:source_id/:sd_sid")
	rg.GET("", func(c *gin.Context) {
		sourceID, err := strconv.Atoi(c.Param("source_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid source_id"})
			return
		}
		study, err := aggregator.CanonicalStudy(c.Request.Context(), sourceID, c.Param("sd_sid"))
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "study not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, study)
	})
	rg.GET("/groups", func(c *gin.Context) {
		sourceID, err := strconv.Atoi(c.Param("source_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid source_id"})
			return
		}
		groups, err := aggregator.LinkGroups(c.Request.Context(), sourceID, c.Param("sd_sid"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, groups)
	})
}

type normalizeRequest struct {
	SourceID int    `json:"source_id" binding:"required"`
	Value    string `json:"value"`
}

func setupNormalizeRoutes(router *gin.Engine, normalizer *services.IdentifierNormalizer) {
	router.POST("/normalize", func(c *gin.Context) {
		var req normalizeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		values := normalizer.Normalize(req.SourceID, req.Value)
		if values == nil {
			values = []string{}
		}
		c.JSON(http.StatusOK, gin.H{
			"source_id": req.SourceID,
			"value":     req.Value,
			"has_rule":  normalizer.HasRule(req.SourceID),
			"results":   values,
		})
	})
}
