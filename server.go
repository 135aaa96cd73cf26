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
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/inventory_backend/config"
	"github.com/mmdatafocus/inventory_backend/dailyclose"
	"github.com/mmdatafocus/inventory_backend/engine"
	"github.com/mmdatafocus/inventory_backend/middlewares"
	"github.com/mmdatafocus/inventory_backend/models"
	"github.com/mmdatafocus/inventory_backend/models/reports"
	"github.com/mmdatafocus/inventory_backend/utils"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

// authorizeStore ensures the session user is allowed to act on the provided store_id.
// - Admin users may act on any store.
// - Non-admin users may only act on their own store.
func authorizeStore(ctx context.Context, storeId string) error {
	claims := middlewares.CtxValue(ctx)
	if claims == nil {
		return errors.New("unauthorized")
	}
	if storeId == "" {
		return errors.New("store_id is required")
	}
	if claims.Role == "admin" {
		return nil
	}
	tokenStore, ok := utils.GetStoreIdFromContext(ctx)
	if !ok || tokenStore != storeId {
		return errors.New("unauthorized")
	}
	return nil
}

func listRecommendationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeId := c.Param("storeId")
		if err := authorizeStore(c.Request.Context(), storeId); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var status *models.FeedbackStatus
		if s := strings.TrimSpace(c.Query("status")); s != "" {
			parsed, err := models.ParseFeedbackStatus(s)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			status = &parsed
		}

		limit := config.SearchLimit
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}
		offset := 0
		if v := strings.TrimSpace(c.Query("offset")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		records, total, err := models.ListRecommendations(c.Request.Context(), storeId, status, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"recommendations": records,
			"total":           total,
			"limit":           limit,
			"offset":          offset,
		})
	}
}

type feedbackRequest struct {
	Status string `json:"status" binding:"required"`
}

func recommendationFeedbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeId := c.Param("storeId")
		if err := authorizeStore(c.Request.Context(), storeId); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		recId, err := strconv.Atoi(c.Param("id"))
		if err != nil || recId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recommendation id"})
			return
		}

		var req feedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		status, err := models.ParseFeedbackStatus(req.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rec, err := models.ApplyFeedback(c.Request.Context(), storeId, recId, status)
		if err != nil {
			if errors.Is(err, models.ErrRecommendationObsolete) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "recommendation not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		userId, _ := utils.GetUserIdFromContext(c.Request.Context())
		config.GetLogger().WithFields(logrus.Fields{
			"module":           "api",
			"storeId":          storeId,
			"recommendationId": rec.ID,
			"userId":           userId,
			"status":           string(status),
		}).Info("recommendation feedback recorded")
		c.JSON(http.StatusOK, rec)
	}
}

func listRunsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeId := c.Param("storeId")
		if err := authorizeStore(c.Request.Context(), storeId); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
				limit = n
			}
		}

		runs, err := models.ListAnalysisRuns(c.Request.Context(), storeId, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	}
}

func latestRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeId := c.Param("storeId")
		if err := authorizeStore(c.Request.Context(), storeId); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var cached models.AnalysisRun
		if hit, err := config.GetRedisObject(dailyclose.LastRunCacheKey(storeId), &cached); err == nil && hit {
			c.JSON(http.StatusOK, &cached)
			return
		}

		runs, err := models.ListAnalysisRuns(c.Request.Context(), storeId, 1)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if len(runs) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "no runs for store"})
			return
		}
		c.JSON(http.StatusOK, runs[0])
	}
}

// outcomeSweepHandler runs the outcome sweep on demand, outside a full engine
// run. Useful when a store's daily close is delayed but feedback is aging.
func outcomeSweepHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeId := c.Param("storeId")
		if err := authorizeStore(c.Request.Context(), storeId); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		resolved, err := engine.SweepOutcomesForStore(storeId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"store_id":          storeId,
			"outcomes_resolved": resolved,
		})
	}
}

func exportRecommendationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authorizeStore(c.Request.Context(), c.Param("storeId")); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		reports.ExportRecommendationExcel(c)
	}
}

type triggerCloseRequest struct {
	SkuIds         []int  `json:"sku_ids"`
	ClosedDate     string `json:"closed_date"`
	RegionalSignal string `json:"regional_signal"`
}

// triggerDailyCloseHandler publishes a daily-close event for the store.
// The worker behind the Pub/Sub push subscription does the actual analysis,
// so ops-triggered runs flow through the same idempotency and locking path
// as scheduled ones.
func triggerDailyCloseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeId := c.Param("storeId")
		if err := authorizeStore(c.Request.Context(), storeId); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		// Body is optional for this endpoint.
		var req triggerCloseRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}

		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		msgId, err := dailyclose.PublishDailyClose(c.Request.Context(), dailyclose.DailyClosePayload{
			StoreId:        storeId,
			Event:          models.TriggerEventDailyClose,
			SkuIds:         req.SkuIds,
			ClosedDate:     req.ClosedDate,
			CorrelationId:  cid,
			RegionalSignal: req.RegionalSignal,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"store_id":       storeId,
			"message_id":     msgId,
			"correlation_id": cid,
		})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
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

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
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
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	// Reasoning client is optional: without an API key every justification
	// falls back to the template reasoner.
	var reasoner engine.Reasoner
	if apiKey := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); apiKey != "" {
		gr, err := engine.NewGeminiReasoner(context.Background(), apiKey, config.GetEngineParams())
		if err != nil {
			logger.WithFields(logrus.Fields{
				"field": "reasoning",
			}).Warn("gemini client init failed; using template reasoning only: " + err.Error())
		} else {
			reasoner = gr
			defer gr.Close()
		}
	}
	orchestrator := engine.NewOrchestrator(reasoner)
	worker := dailyclose.NewWorker(orchestrator)

	r.POST("/pubsub", dailyclose.PubSubPushHandler(worker))
	r.GET("/stores/:storeId/recommendations", listRecommendationsHandler())
	r.PATCH("/stores/:storeId/recommendations/:id/feedback", recommendationFeedbackHandler())
	r.GET("/stores/:storeId/recommendations/export", exportRecommendationsHandler())
	r.GET("/stores/:storeId/runs", listRunsHandler())
	r.GET("/stores/:storeId/runs/latest", latestRunHandler())
	// Ops tooling: trigger a daily-close analysis through the normal event path.
	r.POST("/internal/ops/stores/:storeId/daily-close", triggerDailyCloseHandler())
	r.POST("/internal/ops/stores/:storeId/outcome-sweep", outcomeSweepHandler())
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<minInt(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("inventory engine listening on http://localhost:", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
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
