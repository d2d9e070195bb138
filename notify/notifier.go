package notify

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/models"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	tenantMutexMap = make(map[string]*sync.Mutex)
	globalMutex    = &sync.Mutex{}
)

// RunSealNotifier consumes seal events from the pull subscription and
// delivers tenant webhooks. Pub/Sub redelivers on Nack; the outbox row's
// processing columns carry the attempt count and backoff across deliveries,
// so a broken endpoint eventually goes DEAD instead of looping forever.
func RunSealNotifier() error {
	logger := config.GetLogger()
	ctx := context.Background()
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, os.Getenv("PUBSUB_TOPIC"))
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(client, os.Getenv("PUBSUB_SUBSCRIPTION"), topic)
	if err != nil {
		return err
	}
	// Specify the number of concurrent processes
	sub.ReceiveSettings.MaxOutstandingMessages = 10

	callback := func(ctx context.Context, msg *pubsub.Message) {
		event := config.SealEvent{}
		err := json.Unmarshal(msg.Data, &event)
		if err != nil {
			config.LogError(logger, "notifier.go", "RunSealNotifier", "Unmarshaling pubsub message", msg.Data, err)
			// Poisoned payload; ack so it does not redeliver forever.
			msg.Ack()
			return
		}

		// Get or create the mutex for the current TenantId. Tenants expect
		// their events in seal order.
		globalMutex.Lock()
		mutex, exists := tenantMutexMap[event.TenantId]
		if !exists {
			mutex = &sync.Mutex{}
			tenantMutexMap[event.TenantId] = mutex
		}
		globalMutex.Unlock()

		mutex.Lock()
		defer mutex.Unlock()

		ctx = utils.SetTenantIdInContext(ctx, event.TenantId)
		ctx = utils.SetUserIdInContext(ctx, 0)
		ctx = utils.SetUserNameInContext(ctx, "System")
		ctx = utils.SetCorrelationIdInContext(ctx, event.CorrelationId)
		if err := ProcessSealEvent(ctx, logger, event); err != nil {
			logger.WithFields(logrus.Fields{
				"field":       "SealNotifier",
				"tenant_id":   event.TenantId,
				"bundle_id":   event.BundleId,
				"export_type": event.ExportType,
				"message_id":  msg.ID,
			}).Error("pubsub processing failed: " + err.Error())
			msg.Nack()
			return
		}
		msg.Ack()
	}

	go func() {
		err := sub.Receive(ctx, callback)

		if err != nil {
			config.LogError(logger, "notifier.go", "RunSealNotifier", "Failed to receive messages", nil, err)
		}
	}()

	return nil
}

// ProcessSealEvent runs one webhook delivery under the outbox processing
// lifecycle. Delivery is at-least-once across the subscription and the
// direct processor; the outbox row is the fence against routine duplicates.
// DEAD rows are final for this path; only the ops retry-dead endpoint
// revives them.
func ProcessSealEvent(ctx context.Context, logger *logrus.Logger, event config.SealEvent) error {
	if event.ID > 0 {
		var rec models.SealOutboxMessage
		err := config.GetDB().WithContext(ctx).
			Select("id,is_processed,processing_status").
			Where("id = ?", event.ID).
			First(&rec).Error
		switch {
		case err == nil:
			if rec.IsProcessed ||
				rec.ProcessingStatus == models.OutboxProcessStatusSucceeded ||
				rec.ProcessingStatus == models.OutboxProcessStatusDead {
				return nil
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// Replayed or foreign event with no local row; deliver anyway.
		default:
			return err
		}
	}

	MarkProcessing(ctx, event.ID)

	if err := DeliverSealEvent(ctx, logger, event); err != nil {
		if isDead := MarkProcessFailure(ctx, logger, event, err); isDead {
			alertDeadDelivery(ctx, logger, event)
			// Terminal: ack/drop so the subscription stops redelivering.
			return nil
		}
		return err
	}

	MarkProcessSuccess(ctx, logger, event)
	return nil
}
