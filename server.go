package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/bilan_backend/config"
	"github.com/mmdatafocus/bilan_backend/middlewares"
	"github.com/mmdatafocus/bilan_backend/models"
	"github.com/mmdatafocus/bilan_backend/utils"
	"github.com/mmdatafocus/bilan_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	logger *logrus.Logger
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, errorResponse{Error: string(models.ErrKindNotFound), Message: "route not found"})
}

// buildApp wires the components on top of whatever backends are configured. Missing optional
// backends (Redis, Pub/Sub, GCS, text generation) degrade to in-process or log-only behavior.
func buildApp(ctx context.Context, logger *logrus.Logger) (*app, func()) {
	var store models.Store
	closers := []func(){}
	if config.DatabaseConfigured() {
		config.ConnectDatabaseWithRetry()
		db := config.GetDB()
		if sqlDB, err := db.DB(); err == nil {
			closers = append(closers, func() { _ = sqlDB.Close() })
		}
		// AutoMigrate can block tables; SKIP_MIGRATIONS=true leaves it to cmd/migrate.
		if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
			if err := models.MigrateTable(db); err != nil {
				logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal("migration failed: " + err.Error())
			}
		} else {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
		}
		store = models.NewGormStore(db)
	} else {
		logger.WithFields(logrus.Fields{"field": "database"}).Warn("DB_HOST not set; using in-memory store")
		store = models.NewMemoryStore()
	}

	var locker workflow.CaseLocker = workflow.NewLocalCaseLocker()
	if config.RedisConfigured() {
		config.ConnectRedisWithRetry(ctx)
		if config.GetRedisLock() != nil {
			locker = workflow.NewRedisCaseLocker(config.GetRedisLock(), logger)
		}
		closers = append(closers, func() {
			if rdb := config.GetRedisDB(); rdb != nil {
				_ = rdb.Close()
			}
		})
	}

	var notifier workflow.Notifier
	if config.PubSubConfigured() {
		notifier = workflow.NewPubSubNotifier(logger)
		closers = append(closers, config.ClosePubSub)
	} else {
		notifier = workflow.NewLogNotifier(logger)
	}

	tracker := workflow.NewPhaseTracker(store, locker, logger)
	docs := workflow.NewDocumentManager(store, tracker, logger)
	if archiver := utils.NewGCSArchiverFromEnv(); archiver != nil {
		docs.WithArchiver(archiver)
	}
	if generator := utils.NewRestTextGeneratorFromEnv(logger); generator != nil {
		docs.WithTextGenerator(generator)
	}
	engine := workflow.NewAutomationEngine(store, notifier, config.LoadAutomationPolicy(), logger)

	return &app{tracker: tracker, docs: docs, engine: engine, logger: logger}, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		gin.SetMode(gin.ReleaseMode)
	}

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server first; until the backends are connected app endpoints return 503.
	var ready atomic.Bool
	a := &app{logger: logger}
	r := gin.New()
	r.Use(middlewares.RequestContextMiddleware())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.Use(func(c *gin.Context) {
		if !ready.Load() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.Use(cors.New(corsConfig()))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") && config.RedisConfigured() {
		client := redis.NewClient(&redis.Options{Addr: os.Getenv("REDIS_ADDRESS"), Password: os.Getenv("REDIS_PASSWORD")})
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		r.Use(NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second, logger).RateLimitMiddleware)
	}
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())
	registerRoutes(r, a)
	r.NoRoute(customNotFoundHandler)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	built, closeBackends := buildApp(sigCtx, logger)
	defer closeBackends()
	*a = *built
	ready.Store(true)

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on :", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}

// corsConfig requires an explicit CORS_ALLOWED_ORIGINS allowlist in production and allows all
// origins elsewhere.
func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			cfg.AllowOrigins = []string{}
		} else {
			cfg.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		cfg.AllowAllOrigins = true
	}
	cfg.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	cfg.AddAllowHeaders("Origin", "Content-Type", "Authorization",
		middlewares.HeaderCorrelationId, middlewares.HeaderOrganizationId, middlewares.HeaderUserId, middlewares.HeaderUserName)
	cfg.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.HeaderCorrelationId)
	return cfg
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"method":         c.Request.Method,
				"path":           c.FullPath(),
				"status":         c.Writer.Status(),
				"correlation_id": cid,
			}).Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration, logger *logrus.Logger) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// RateLimitMiddleware counts requests per client IP in fixed windows. Redis failures let the
// request through.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "ratelimit:" + c.ClientIP()
	ctx := c.Request.Context()

	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		config.LogWarn(rl.logger, "server", "RateLimitMiddleware", "rate limiter unavailable", key, err.Error())
		c.Next()
		return
	}
	// The first hit of a window sets its expiry.
	if count == 1 {
		if err := rl.client.Expire(ctx, key, rl.window).Err(); err != nil {
			config.LogWarn(rl.logger, "server", "RateLimitMiddleware", "setting window expiry", key, err.Error())
		}
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{
			Error:   "RATE_LIMITED",
			Message: fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
