package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/mmdatafocus/contracts_backend/api"
	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/mmdatafocus/contracts_backend/gateway"
	"github.com/mmdatafocus/contracts_backend/middlewares"
	"github.com/mmdatafocus/contracts_backend/models"
	"github.com/mmdatafocus/contracts_backend/utils"
	"github.com/mmdatafocus/contracts_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func corsMiddleware() gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	// In production require an explicit allowlist via CORS_ALLOWED_ORIGINS.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader)
	corsConfig.AddExposeHeaders("Content-Length", middlewares.CorrelationHeader)
	corsConfig.AllowCredentials = true
	return cors.New(corsConfig)
}

func positiveIntFromEnv(key string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// rateLimitMiddleware is enabled with RATE_LIMIT_ENABLED=true. Counters go to
// redis when REDIS_ADDRESS is set and stay in memory otherwise.
func rateLimitMiddleware() (gin.HandlerFunc, bool) {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		return nil, false
	}
	var client *redis.Client
	if addr := strings.TrimSpace(os.Getenv("REDIS_ADDRESS")); addr != "" {
		client = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
	}
	limit := positiveIntFromEnv("RATE_LIMIT_MAX_REQUESTS", 600)
	window := time.Duration(positiveIntFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
	return middlewares.NewRateLimiter(client, limit, window).RateLimitMiddleware, true
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded:", err)
	}
	logger := config.GetLogger()

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		gin.SetMode(gin.ReleaseMode)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := gateway.NewBridgeClient()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "gateway"}).Warn("payments bridge disabled: " + err.Error())
		gw = nil
	}
	verifier := gateway.NewVerifier(os.Getenv("GATEWAY_WEBHOOK_SECRET"))

	opts := api.RouterOptions{BeforeAuth: []gin.HandlerFunc{corsMiddleware()}}
	if limiter, ok := rateLimitMiddleware(); ok {
		opts.AfterAuth = append(opts.AfterAuth, limiter)
	}
	r := api.NewRouter(api.NewHandler(gw, verifier), opts)

	// Start listening before dependencies are ready; the startup probe is TCP based.
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry(sigCtx)
	if err := config.ConnectSocketBus(); err != nil {
		logger.WithFields(logrus.Fields{"field": "socket_bus"}).Warn("socket bus disabled: " + err.Error())
	}

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// Migrations can lock tables; large deployments run them with contractsctl migrate instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateTable(); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("DB_DRIVER")), "sqlite") {
		setReadCommitted(sigCtx, logger)
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	dispatcher := workflow.NewOutboxDispatcher(db, logger)
	dispatcher.HandleNotifications(workflow.NewPublisherFromConfig(logger))
	dispatcher.HandleRefunds(&workflow.RefundHandler{DB: db, Gateway: gw})
	models.SetOutboxNotifier(dispatcher.Notify)
	go dispatcher.Run(workerCtx)

	if gw != nil {
		go workflow.NewCaptureReconciler(gw, logger).Run(workerCtx)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("contracts service listening on port ", port)

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	config.CloseSocketBus()
	config.CloseRedis()
}

// setReadCommitted retries until the session isolation level is set.
func setReadCommitted(ctx context.Context, logger *logrus.Logger) {
	db := config.GetDB()
	for attempt := 1; ; attempt++ {
		err := db.WithContext(ctx).Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			return
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}
