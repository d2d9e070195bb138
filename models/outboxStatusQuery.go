package models

import (
	"context"
	"errors"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
)

func GetOutboxStatus(ctx context.Context, bundleId string) (*OutboxStatus, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var rec SealOutboxMessage
	if err := db.WithContext(ctx).
		Where("tenant_id = ? AND bundle_id = ?", tenantId, bundleId).
		Order("id DESC").
		First(&rec).Error; err != nil {
		return nil, err
	}

	processing := rec.ProcessingStatus
	if processing == "" {
		if rec.IsProcessed {
			processing = OutboxProcessStatusSucceeded
		} else {
			processing = OutboxProcessStatusPending
		}
	}

	var deliveryStatus OutboxDeliveryStatus
	switch processing {
	case OutboxProcessStatusProcessing:
		deliveryStatus = OutboxDeliveryStatusProcessing
	case OutboxProcessStatusFailed:
		deliveryStatus = OutboxDeliveryStatusFailed
	case OutboxProcessStatusDead:
		deliveryStatus = OutboxDeliveryStatusDead
	case OutboxProcessStatusSucceeded:
		deliveryStatus = OutboxDeliveryStatusSucceeded
	default:
		// If the row is already processed, always show SUCCEEDED (even if older rows have legacy values).
		if rec.IsProcessed {
			deliveryStatus = OutboxDeliveryStatusSucceeded
		} else {
			deliveryStatus = OutboxDeliveryStatusPending
		}
	}

	return &OutboxStatus{
		RecordId:             rec.ID,
		BundleId:             rec.BundleId,
		ExportType:           rec.ExportType,
		Action:               rec.Action,
		PublishStatus:        rec.PublishStatus,
		ProcessingStatus:     deliveryStatus,
		IsProcessed:          rec.IsProcessed,
		PublishAttempts:      rec.PublishAttempts,
		ProcessAttempts:      rec.ProcessAttempts,
		NextAttemptAt:        rec.NextAttemptAt,
		NextProcessAttemptAt: rec.NextProcessAttemptAt,
		LastPublishError:     rec.LastPublishError,
		LastProcessError:     rec.LastProcessError,
		CreatedAt:            rec.CreatedAt,
		PublishedAt:          rec.PublishedAt,
		ProcessedAt:          rec.ProcessedAt,
	}, nil
}
