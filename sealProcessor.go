package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/models"
	"bitbucket.org/safeplayhq/inspect_backend/models/exports"
	"bitbucket.org/safeplayhq/inspect_backend/sealing"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"bitbucket.org/safeplayhq/inspect_backend/workflow"
	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PubSubPushEnvelope is the wrapper Cloud Pub/Sub wraps around pushed
// messages.
type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// SealRequestMessage asks for an export to be assembled and sealed out of
// band. Scheduled jobs (monthly claims packs, maintenance logs) and bulk
// client actions enqueue these instead of holding an HTTP request open.
type SealRequestMessage struct {
	TenantId      string `json:"tenant_id"`
	ExportType    string `json:"export_type"`
	SourceId      *int   `json:"source_id,omitempty"`
	RequestedById int    `json:"requested_by_id"`
	RequestedBy   string `json:"requested_by"`
	RequestId     string `json:"request_id"`
	CorrelationId string `json:"correlation_id,omitempty"`
}

func sealPubSubHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var envelope PubSubPushEnvelope
		logger := config.GetLogger()

		// Redis lock is a best-effort optimization.
		// Reliability must not depend on Redis: the seal transaction also
		// serializes per tenant via MySQL advisory locks.
		redisLock := config.GetRedisLock()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "sealProcessor.go", "sealPubSubHandler", "io.ReadAll", nil, err)
			// Malformed request body: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &envelope); err != nil {
			config.LogError(logger, "sealProcessor.go", "sealPubSubHandler", "Unmarshal body", body, err)
			// Malformed request: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		var m SealRequestMessage
		if err := json.Unmarshal(envelope.Message.Data, &m); err != nil {
			config.LogError(logger, "sealProcessor.go", "sealPubSubHandler", "Unmarshal seal request", envelope.Message.Data, err)
			// Malformed Pub/Sub payload: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		// Basic validation to avoid retry loops on poisoned messages.
		if m.TenantId == "" || m.ExportType == "" {
			config.LogError(logger, "sealProcessor.go", "sealPubSubHandler", "Invalid seal request (missing required fields)", m, fmt.Errorf("tenant_id/export_type required"))
			c.Status(http.StatusNoContent)
			return
		}
		if _, err := models.ParseExportType(m.ExportType); err != nil {
			config.LogError(logger, "sealProcessor.go", "sealPubSubHandler", "Invalid seal request export type", m, err)
			c.Status(http.StatusNoContent)
			return
		}

		// Temporary pause switch: non-2xx keeps the message queued.
		if config.SealAsyncDisabled() {
			logger.WithFields(logrus.Fields{
				"field":       "sealPubSubHandler",
				"tenant_id":   m.TenantId,
				"export_type": m.ExportType,
			}).Warn("async sealing disabled; leaving message queued")
			c.Status(http.StatusServiceUnavailable)
			return
		}

		// Correlation ID propagation: prefer payload correlation_id; fall back to Pub/Sub message ID.
		correlationID := m.CorrelationId
		if correlationID == "" {
			correlationID = envelope.Message.ID
		}

		// Best-effort: try to obtain a lock for the tenant to avoid long in-request blocking.
		// If Redis is unavailable / lock cannot be obtained, continue anyway; the seal
		// transaction serializes safely on its own.
		var lock *redislock.Lock
		if redisLock == nil {
			logger.WithFields(logrus.Fields{
				"field":       "sealPubSubHandler",
				"tenant_id":   m.TenantId,
				"export_type": m.ExportType,
				"message_id":  envelope.Message.ID,
			}).Warn("redis lock not ready; proceeding without redis lock")
		} else {
			lock, err = redisLock.Obtain(c.Request.Context(), fmt.Sprintf("lock:%s", m.TenantId), 30*time.Second, nil)
			if err == redislock.ErrNotObtained {
				logger.WithFields(logrus.Fields{
					"field":       "sealPubSubHandler",
					"tenant_id":   m.TenantId,
					"export_type": m.ExportType,
					"message_id":  envelope.Message.ID,
				}).Warn("could not obtain redis lock; proceeding without redis lock")
				lock = nil
			} else if err != nil {
				logger.WithFields(logrus.Fields{
					"field":       "sealPubSubHandler",
					"tenant_id":   m.TenantId,
					"export_type": m.ExportType,
					"message_id":  envelope.Message.ID,
				}).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
				lock = nil
			}
		}
		defer func() {
			if lock == nil {
				return
			}
			if releaseErr := lock.Release(c.Request.Context()); releaseErr != nil {
				logger.WithFields(logrus.Fields{
					"field":      "sealPubSubHandler",
					"tenant_id":  m.TenantId,
					"message_id": envelope.Message.ID,
				}).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		}()

		// Process the request under a system identity.
		ctx := utils.SetTenantIdInContext(c.Request.Context(), m.TenantId)
		ctx = utils.SetUserIdInContext(ctx, m.RequestedById)
		userName := m.RequestedBy
		if userName == "" {
			userName = "System"
		}
		ctx = utils.SetUserNameInContext(ctx, userName)
		ctx = utils.SetCorrelationIdInContext(ctx, correlationID)

		if err := ProcessSealRequest(ctx, logger, m, envelope.Message.ID); err != nil {
			logger.WithFields(logrus.Fields{
				"field":          "sealPubSubHandler",
				"tenant_id":      m.TenantId,
				"export_type":    m.ExportType,
				"message_id":     envelope.Message.ID,
				"correlation_id": correlationID,
			}).Error("seal request processing failed: " + err.Error())
			// Non-2xx tells Pub/Sub to retry (and potentially route to DLQ).
			c.Status(http.StatusInternalServerError)
			return
		}

		// Success: ack.
		c.Status(http.StatusNoContent)
	}
}

// ProcessSealRequest runs one queued seal request end to end. Delivery is
// at-least-once, so a DB idempotency key fences duplicate pushes; a request
// that failed before sealing re-runs cleanly because nothing was persisted.
func ProcessSealRequest(ctx context.Context, logger *logrus.Logger, m SealRequestMessage, pubsubMessageId string) error {
	db := config.GetDB()

	exportType, err := models.ParseExportType(m.ExportType)
	if err != nil {
		return err
	}

	handlerName := "seal." + m.ExportType
	messageId := m.RequestId
	if messageId == "" {
		messageId = pubsubMessageId
	}

	var skip bool
	if err := db.Transaction(func(tx *gorm.DB) error {
		skip, err = workflow.BeginIdempotency(tx.WithContext(ctx), m.TenantId, handlerName, messageId)
		return err
	}); err != nil {
		return err
	}
	if skip {
		logger.WithFields(logrus.Fields{
			"field":      "ProcessSealRequest",
			"tenant_id":  m.TenantId,
			"message_id": messageId,
		}).Info("seal request already processed; skipping")
		return nil
	}

	files, err := exports.AssembleForSeal(ctx, m.TenantId, exportType, m.SourceId, nil)
	if err != nil {
		_ = workflow.MarkIdempotencyFailed(db.WithContext(ctx), m.TenantId, handlerName, messageId, err)
		if errors.Is(err, exports.ErrInspectionNotCompleted) || errors.Is(err, utils.ErrorRecordNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
			// Permanent for this request; ack/drop so it does not loop.
			logger.WithFields(logrus.Fields{
				"field":       "ProcessSealRequest",
				"tenant_id":   m.TenantId,
				"export_type": m.ExportType,
				"message_id":  messageId,
			}).Warn("seal request dropped: " + err.Error())
			return nil
		}
		return err
	}

	userName := m.RequestedBy
	if userName == "" {
		userName = "System"
	}
	row, err := workflow.SealExport(ctx, logger, workflow.SealInput{
		TenantId:   m.TenantId,
		ExportType: exportType,
		SourceId:   m.SourceId,
		Files:      files,
		GeneratedBy: sealing.GeneratedBy{
			UserID:      m.RequestedById,
			DisplayName: userName,
		},
	})
	if err != nil {
		_ = workflow.MarkIdempotencyFailed(db.WithContext(ctx), m.TenantId, handlerName, messageId, err)
		if errors.Is(err, sealing.ErrNoFiles) {
			// Nothing to seal (e.g. no defects in the requested window).
			logger.WithFields(logrus.Fields{
				"field":       "ProcessSealRequest",
				"tenant_id":   m.TenantId,
				"export_type": m.ExportType,
				"message_id":  messageId,
			}).Warn("seal request dropped: " + err.Error())
			return nil
		}
		return err
	}

	if err := workflow.MarkIdempotencySucceeded(db.WithContext(ctx), m.TenantId, handlerName, messageId); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"field":       "ProcessSealRequest",
		"tenant_id":   m.TenantId,
		"export_type": m.ExportType,
		"bundle_id":   row.BundleId,
		"message_id":  messageId,
	}).Info("seal request processed")
	return nil
}
