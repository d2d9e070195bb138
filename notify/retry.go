package notify

import (
	"context"
	"math"
	"os"
	"strconv"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/models"
	"github.com/sirupsen/logrus"
)

type processRetryConfig struct {
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func getProcessRetryConfig() processRetryConfig {
	cfg := processRetryConfig{
		maxAttempts: 10,
		baseBackoff: 5 * time.Second,
		maxBackoff:  10 * time.Minute,
	}

	if v := os.Getenv("OUTBOX_PROCESS_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.maxAttempts = n
		}
	}
	if v := os.Getenv("OUTBOX_PROCESS_BASE_BACKOFF_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.baseBackoff = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("OUTBOX_PROCESS_MAX_BACKOFF_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.maxBackoff = time.Duration(n) * time.Second
		}
	}

	return cfg
}

func processBackoff(attempt int, cfg processRetryConfig) time.Duration {
	if attempt <= 0 {
		return cfg.baseBackoff
	}
	// base * 2^(attempt-1), capped.
	exp := float64(attempt - 1)
	delay := time.Duration(float64(cfg.baseBackoff) * math.Pow(2, exp))
	if delay > cfg.maxBackoff {
		return cfg.maxBackoff
	}
	return delay
}

func MarkProcessing(ctx context.Context, id int) {
	if id <= 0 {
		return
	}
	// The short hold on next_process_attempt_at keeps the direct processor
	// from re-claiming a row another worker is actively delivering.
	hold := time.Now().UTC().Add(30 * time.Second)
	db := config.GetDB()
	_ = db.WithContext(ctx).
		Model(&models.SealOutboxMessage{}).
		Where("id = ? AND processing_status <> ?", id, models.OutboxProcessStatusDead).
		Updates(map[string]interface{}{
			"processing_status":       models.OutboxProcessStatusProcessing,
			"next_process_attempt_at": &hold,
		}).Error
}

// MarkProcessFailure returns whether the record is now DEAD.
func MarkProcessFailure(ctx context.Context, logger *logrus.Logger, event config.SealEvent, err error) bool {
	if event.ID <= 0 {
		return false
	}

	cfg := getProcessRetryConfig()
	now := time.Now().UTC()
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}

	db := config.GetDB()

	// Fetch current attempts for stable backoff and DEAD cutoff.
	var rec models.SealOutboxMessage
	if qerr := db.WithContext(ctx).
		Select("id,tenant_id,bundle_id,export_type,process_attempts").
		Where("id = ?", event.ID).
		First(&rec).Error; qerr != nil {
		// Still try to record the error even if we can't read attempts.
		_ = db.WithContext(ctx).Model(&models.SealOutboxMessage{}).
			Where("id = ?", event.ID).
			Updates(map[string]interface{}{
				"last_process_error": &errMsg,
				"locked_at":          nil,
				"locked_by":          nil,
				"processing_status":  models.OutboxProcessStatusFailed,
			}).Error
		return false
	}

	attempts := rec.ProcessAttempts + 1
	status := models.OutboxProcessStatusFailed

	var nextAttemptAt *time.Time
	if attempts >= cfg.maxAttempts {
		status = models.OutboxProcessStatusDead
		nextAttemptAt = nil
	} else {
		t := now.Add(processBackoff(attempts, cfg))
		nextAttemptAt = &t
	}

	_ = db.WithContext(ctx).Model(&models.SealOutboxMessage{}).
		Where("id = ?", event.ID).
		Updates(map[string]interface{}{
			"last_process_error":      &errMsg,
			"process_attempts":        attempts,
			"next_process_attempt_at": nextAttemptAt,
			"processing_status":       status,
			"locked_at":               nil,
			"locked_by":               nil,
		}).Error

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":             "OutboxProcessing",
			"tenant_id":         rec.TenantId,
			"bundle_id":         rec.BundleId,
			"export_type":       rec.ExportType,
			"record_id":         rec.ID,
			"processing_status": status,
			"process_attempts":  attempts,
		}).Error("webhook delivery failed: " + errMsg)
	}

	return status == models.OutboxProcessStatusDead
}

func MarkProcessSuccess(ctx context.Context, logger *logrus.Logger, event config.SealEvent) {
	if event.ID <= 0 {
		return
	}
	now := time.Now().UTC()
	db := config.GetDB()

	// Do not override terminal DEAD rows.
	_ = db.WithContext(ctx).Model(&models.SealOutboxMessage{}).
		Where("id = ? AND processing_status <> ?", event.ID, models.OutboxProcessStatusDead).
		Updates(map[string]interface{}{
			"processing_status":       models.OutboxProcessStatusSucceeded,
			"is_processed":            true,
			"processed_at":            &now,
			"next_process_attempt_at": nil,
			"last_process_error":      nil,
			"locked_at":               nil,
			"locked_by":               nil,
		}).Error

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":             "OutboxProcessing",
			"tenant_id":         event.TenantId,
			"bundle_id":         event.BundleId,
			"record_id":         event.ID,
			"processing_status": models.OutboxProcessStatusSucceeded,
		}).Info("webhook delivery recorded")
	}
}
