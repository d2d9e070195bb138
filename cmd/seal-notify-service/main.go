// seal-notify-service runs the pull-based webhook notifier as its own
// deployment. The backend publishes seal events to Pub/Sub; this service
// subscribes and delivers tenant webhooks under the outbox processing
// lifecycle. The HTTP listener only serves health probes.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/models"
	"bitbucket.org/safeplayhq/inspect_backend/notify"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("SEAL_NOTIFY_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/readyz", func(c *gin.Context) {
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.Status(http.StatusNoContent)
	})

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	if strings.TrimSpace(os.Getenv("PUBSUB_TOPIC")) == "" || strings.TrimSpace(os.Getenv("PUBSUB_SUBSCRIPTION")) == "" {
		logger.WithFields(logrus.Fields{"field": "notifier"}).Error("PUBSUB_TOPIC and PUBSUB_SUBSCRIPTION are required")
		os.Exit(1)
	}
	if err := notify.RunSealNotifier(); err != nil {
		logger.WithFields(logrus.Fields{"field": "notifier"}).Error(err)
		os.Exit(1)
	}
	logger.WithFields(logrus.Fields{"field": "notifier"}).Info("seal notifier started")

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}
