package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/middlewares"
	"bitbucket.org/safeplayhq/inspect_backend/models"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"bitbucket.org/safeplayhq/inspect_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
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

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// authorizeOps gates the /internal/ops endpoints on a shared bearer token.
// These endpoints act across tenants, so session auth alone is not enough.
func authorizeOps(c *gin.Context) error {
	expected := strings.TrimSpace(os.Getenv("OPS_TOKEN"))
	if expected == "" {
		return errors.New("ops token not configured")
	}
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return errors.New("unauthorized")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" || token != expected {
		return errors.New("unauthorized")
	}
	return nil
}

type opsOutboxRequest struct {
	TenantId string `json:"tenant_id"`
	BundleId string `json:"bundle_id"`
}

// opsOutboxStatusHandler returns the outbox lifecycle for one bundle.
func opsOutboxStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authorizeOps(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		tenantId := strings.TrimSpace(c.Query("tenant_id"))
		bundleId := strings.TrimSpace(c.Param("bundleId"))
		if tenantId == "" || bundleId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id and bundleId are required"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		status, err := models.GetOutboxStatus(ctx, bundleId)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// opsOutboxReplayHandler requeues every unfinished outbox row for a bundle so
// the dispatcher and delivery workers pick it up again.
func opsOutboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authorizeOps(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req opsOutboxRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.TenantId == "" || req.BundleId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id and bundle_id are required"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), req.TenantId)
		status, err := models.ReprocessOutbox(ctx, req.BundleId)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// opsOutboxRetryDeadHandler revives every DEAD outbox row for a tenant.
func opsOutboxRetryDeadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authorizeOps(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req opsOutboxRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.TenantId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), req.TenantId)
		revived, err := models.RetryDeadOutbox(ctx)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tenant_id": req.TenantId, "revived": revived})
	}
}

type opsChainAuditRequest struct {
	TenantId string `json:"tenant_id"`
}

// opsChainAuditHandler runs a full ledger walk for one tenant and returns the
// fresh result (bypassing the cached status).
func opsChainAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authorizeOps(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req opsChainAuditRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.TenantId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
			return
		}

		db := config.GetDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "db is nil"})
			return
		}
		status, err := workflow.AuditTenantChain(c.Request.Context(), db, req.TenantId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// opsOrphanListHandler lists sealed archive objects that have no ledger row,
// the residue of chain-conflict retries and crashed seals.
func opsOrphanListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authorizeOps(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		tenantId := strings.TrimSpace(c.Query("tenant_id"))
		if tenantId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
			return
		}

		db := config.GetDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "db is nil"})
			return
		}
		orphans, err := workflow.ListOrphanedArchives(c.Request.Context(), db, tenantId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tenant_id": tenantId, "orphans": orphans, "count": len(orphans)})
	}
}

func main() {
	port := os.Getenv("API_PORT_2")
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
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production; the public verify
	// endpoint is the main abuse target).
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

	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.LoaderMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	// Public surface.
	r.POST("/signin", signinHandler())
	r.POST("/signout", signoutHandler())
	r.GET("/verify/:bundleId", verifyExportHandler())
	r.POST("/pubsub/push", sealPubSubHandler())

	// Tenant API (session or JWT authenticated).
	api := r.Group("/api")
	api.POST("/exports/seal", sealExportHandler())
	api.GET("/exports", listExportsHandler())
	api.GET("/exports/:bundleId", getExportHandler())
	api.GET("/exports/:bundleId/outbox", exportOutboxStatusHandler())
	api.GET("/chain/status", chainStatusHandler())

	api.GET("/tenant", getTenantHandler())
	api.PUT("/tenant/webhook", updateWebhookHandler())
	api.GET("/tenants", listTenantsHandler())
	api.POST("/tenants", createTenantHandler())
	api.PUT("/tenants/:id", updateTenantHandler())
	api.POST("/tenants/:id/toggle-active", toggleTenantHandler())

	api.GET("/sites", listSitesHandler())
	api.POST("/sites", createSiteHandler())
	api.GET("/sites/:id", getSiteHandler())
	api.PUT("/sites/:id", updateSiteHandler())
	api.DELETE("/sites/:id", deleteSiteHandler())
	api.POST("/sites/:id/toggle-active", toggleSiteHandler())

	api.GET("/inspections", listInspectionsHandler())
	api.POST("/inspections", createInspectionHandler())
	api.GET("/inspections/:id", getInspectionHandler())
	api.PUT("/inspections/:id", updateInspectionHandler())
	api.DELETE("/inspections/:id", deleteInspectionHandler())
	api.POST("/inspections/:id/complete", completeInspectionHandler())

	api.GET("/defects", listDefectsHandler())
	api.POST("/defects", createDefectHandler())
	api.GET("/defects/:id", getDefectHandler())
	api.PUT("/defects/:id", updateDefectHandler())
	api.DELETE("/defects/:id", deleteDefectHandler())
	api.PUT("/defects/:id/status", updateDefectStatusHandler())

	api.GET("/users", listUsersHandler())
	api.POST("/users", createUserHandler())
	api.PUT("/users/:id", updateUserHandler())
	api.DELETE("/users/:id", deleteUserHandler())
	api.POST("/auth/change-password", changePasswordHandler())

	api.GET("/attachments", listAttachmentsHandler())
	api.DELETE("/attachments/:id", deleteAttachmentHandler())

	api.GET("/histories", listHistoriesHandler())

	// Uploads (GCS signed PUT flow).
	r.POST("/uploads/sign", signUploadHandler())
	r.POST("/uploads/complete", completeUploadHandler())
	r.POST("/uploads/direct", directUploadHandler())
	r.GET("/uploads/object", uploadObjectHandler())

	// Ops tooling (Bearer OPS_TOKEN): outbox lifecycle, chain audits, orphan listing.
	r.GET("/internal/ops/outbox/:bundleId", opsOutboxStatusHandler())
	r.POST("/internal/ops/outbox/replay", opsOutboxReplayHandler())
	r.POST("/internal/ops/outbox/retry-dead", opsOutboxRetryDeadHandler())
	r.POST("/internal/ops/chain/audit", opsChainAuditHandler())
	r.GET("/internal/ops/orphans", opsOrphanListHandler())

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

	// Start outbox dispatcher (publishes AFTER commit). Without a topic the
	// rows stay PENDING on the publish side and the direct processor below
	// carries webhook delivery on its own.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	if strings.TrimSpace(os.Getenv("PUBSUB_TOPIC")) != "" {
		go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)
	} else {
		logger.WithFields(logrus.Fields{"field": "outbox"}).Warn("PUBSUB_TOPIC not set; outbox publishing disabled")
	}

	if shouldRunDirectOutboxProcessor() {
		go NewOutboxDirectProcessor(db, logger).Run(dispatcherCtx)
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
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
	}).Info("listening on http://localhost:", port, "/")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

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
