package models

import (
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/config"
)

// SealOutboxMessage is the transactional outbox row for seal events. It is
// written in the same transaction as the sealed_exports ledger row, so an
// event exists exactly when the seal is durable. Publishing to Pub/Sub
// happens after commit via the dispatcher.
type SealOutboxMessage struct {
	ID          int             `gorm:"primary_key;index:idx_seal_outbox_dispatch,priority:3;index:idx_seal_outbox_reconcile,priority:3" json:"id"`
	TenantId    string          `gorm:"size:64;not null;index;index:idx_seal_outbox_reconcile,priority:1" json:"tenant_id"`
	BundleId    string          `gorm:"size:36;not null;index" json:"bundle_id"`
	SealedAt    time.Time       `gorm:"index;not null" json:"sealed_at"`
	ExportType  ExportType      `gorm:"type:enum('inspection_report','claims_pack','maintenance_log')" json:"export_type"`
	Action      SealEventAction `gorm:"type:enum('S','T')" json:"action"`
	Payload     []byte          `gorm:"type:blob" json:"payload"`
	IsProcessed bool            `gorm:"index;not null;index:idx_seal_outbox_reconcile,priority:2" json:"is_processed"`
	// Publish metadata (publish happens after commit via dispatcher).
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_seal_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_seal_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	// Processing metadata (consumer/worker)
	ProcessingStatus     string     `gorm:"size:20;index;not null;default:'PENDING'" json:"processing_status"` // PENDING|PROCESSING|SUCCEEDED|FAILED|DEAD
	ProcessAttempts      int        `gorm:"not null;default:0" json:"process_attempts"`
	NextProcessAttemptAt *time.Time `gorm:"index" json:"next_process_attempt_at"`
	LastProcessError     *string    `gorm:"type:text" json:"last_process_error"`
	ProcessedAt          *time.Time `gorm:"index" json:"processed_at"`
	CorrelationId        string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToSealEvent(record SealOutboxMessage) config.SealEvent {
	return config.SealEvent{
		ID:            record.ID,
		TenantId:      record.TenantId,
		BundleId:      record.BundleId,
		SealedAt:      record.SealedAt,
		ExportType:    string(record.ExportType),
		Action:        string(record.Action),
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
	}
}
