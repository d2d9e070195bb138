package models

import "time"

// OutboxDeliveryStatus is the delivery-side status exposed to operators.
// It intentionally does not include publish states like SENT.
type OutboxDeliveryStatus string

const (
	OutboxDeliveryStatusPending    OutboxDeliveryStatus = "PENDING"
	OutboxDeliveryStatusProcessing OutboxDeliveryStatus = "PROCESSING"
	OutboxDeliveryStatusFailed     OutboxDeliveryStatus = "FAILED"
	OutboxDeliveryStatusDead       OutboxDeliveryStatus = "DEAD"
	OutboxDeliveryStatusSucceeded  OutboxDeliveryStatus = "SUCCEEDED"
)

// OutboxStatus is an operator-facing view of the latest outbox row for a bundle.
type OutboxStatus struct {
	RecordId             int                 `json:"record_id"`
	BundleId             string              `json:"bundle_id"`
	ExportType           ExportType          `json:"export_type"`
	Action               SealEventAction     `json:"action"`
	PublishStatus        string              `json:"publish_status"`
	ProcessingStatus     OutboxDeliveryStatus `json:"processing_status"`
	IsProcessed          bool                `json:"is_processed"`
	PublishAttempts      int                 `json:"publish_attempts"`
	ProcessAttempts      int                 `json:"process_attempts"`
	NextAttemptAt        *time.Time          `json:"next_attempt_at"`
	NextProcessAttemptAt *time.Time          `json:"next_process_attempt_at"`
	LastPublishError     *string             `json:"last_publish_error"`
	LastProcessError     *string             `json:"last_process_error"`
	CreatedAt            time.Time           `json:"created_at"`
	PublishedAt          *time.Time          `json:"published_at"`
	ProcessedAt          *time.Time          `json:"processed_at"`
}
