package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"gorm.io/gorm"
)

// ReprocessOutbox resets every unfinished outbox row for a bundle so the
// dispatcher and worker pick it up again. Already-processed rows are left alone.
func ReprocessOutbox(ctx context.Context, bundleId string) (*OutboxStatus, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	now := time.Now().UTC()
	db := config.GetDB()

	res := db.WithContext(ctx).
		Model(&SealOutboxMessage{}).
		Where("tenant_id = ? AND bundle_id = ? AND is_processed = 0", tenantId, bundleId).
		Updates(map[string]interface{}{
			"locked_at":               nil,
			"locked_by":               nil,
			"publish_status":          OutboxPublishStatusPending,
			"next_attempt_at":         nil,
			"processing_status":       OutboxProcessStatusPending,
			"next_process_attempt_at": &now,
			"last_process_error":      nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	return GetOutboxStatus(ctx, bundleId)
}

// RetryDeadOutbox revives every DEAD outbox row for the tenant. Attempts are
// zeroed so the dispatcher backoff schedule starts over. Sealed bundles are
// already durable; DEAD here only ever means a notification never went out.
func RetryDeadOutbox(ctx context.Context) (int64, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return 0, errors.New("tenant id is required")
	}

	now := time.Now().UTC()
	db := config.GetDB()

	res := db.WithContext(ctx).
		Model(&SealOutboxMessage{}).
		Where("tenant_id = ? AND (publish_status = ? OR processing_status = ?)", tenantId, OutboxPublishStatusDead, OutboxProcessStatusDead).
		Updates(map[string]interface{}{
			"locked_at":               nil,
			"locked_by":               nil,
			"publish_status":          OutboxPublishStatusPending,
			"publish_attempts":        0,
			"next_attempt_at":         nil,
			"processing_status":       OutboxProcessStatusPending,
			"process_attempts":        0,
			"next_process_attempt_at": &now,
			"last_publish_error":      nil,
			"last_process_error":      nil,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
