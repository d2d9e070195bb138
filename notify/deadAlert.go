package notify

import (
	"context"
	"fmt"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/models"
	"github.com/sirupsen/logrus"
)

// alertDeadDelivery records a DEAD webhook delivery. The sealed bundle
// itself is already durable; all this does is leave an operator-visible
// trail so the endpoint can be fixed and the row revived via the ops
// retry-dead endpoint.
func alertDeadDelivery(ctx context.Context, logger *logrus.Logger, event config.SealEvent) {
	if event.BundleId == "" {
		return
	}

	description := fmt.Sprintf(
		"webhook delivery for bundle %s (%s) exhausted retries; revive via ops outbox retry-dead",
		event.BundleId, eventName(event.Action))

	_, err := models.CreateManualHistory(ctx, &models.NewHistory{
		TenantId:      event.TenantId,
		ActionType:    "ALERT",
		Description:   description,
		ReferenceID:   event.ID,
		ReferenceType: "seal_outbox_messages",
		UserId:        0,
		UserName:      "System",
	})
	if err != nil && logger != nil {
		logger.WithFields(logrus.Fields{
			"field":     "OutboxDeadAlert",
			"tenant_id": event.TenantId,
			"bundle_id": event.BundleId,
			"record_id": event.ID,
		}).Warn("failed to record DEAD delivery history: " + err.Error())
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":          "OutboxDeadAlert",
			"tenant_id":      event.TenantId,
			"bundle_id":      event.BundleId,
			"export_type":    event.ExportType,
			"record_id":      event.ID,
			"correlation_id": event.CorrelationId,
		}).Error("webhook delivery moved to DEAD")
	}
}
