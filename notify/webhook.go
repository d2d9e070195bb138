package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/models"
	"bitbucket.org/safeplayhq/inspect_backend/sealing"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"github.com/sirupsen/logrus"
)

var webhookClient = &http.Client{Timeout: 15 * time.Second}

// WebhookPayload is the body POSTed to a tenant's webhook endpoint. The
// signature header covers these exact bytes, so consumers must verify
// before re-serializing.
type WebhookPayload struct {
	Event         string          `json:"event"`
	BundleId      string          `json:"bundle_id"`
	TenantId      string          `json:"tenant_id"`
	ExportType    string          `json:"export_type"`
	SealedAt      time.Time       `json:"sealed_at"`
	Export        json.RawMessage `json:"export,omitempty"`
	VerifyUrl     string          `json:"verify_url"`
	CorrelationId string          `json:"correlation_id,omitempty"`
}

func eventName(action string) string {
	if action == string(models.SealEventActionTombstoned) {
		return "seal.tombstoned"
	}
	return "seal.completed"
}

// DeliverSealEvent POSTs one signed webhook for a seal event. A tenant with
// no webhook URL configured is a successful no-op. The body is signed with
// HMAC-SHA256 under the tenant's webhook secret (base64, same encoding as
// manifest signatures) in the X-Seal-Signature header.
func DeliverSealEvent(ctx context.Context, logger *logrus.Logger, event config.SealEvent) error {
	tenant, err := models.GetTenantById(ctx, event.TenantId)
	if err != nil {
		return fmt.Errorf("load tenant %s: %w", event.TenantId, err)
	}

	endpoint := strings.TrimSpace(tenant.WebhookUrl)
	if endpoint == "" {
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"field":     "DeliverSealEvent",
				"tenant_id": event.TenantId,
				"bundle_id": event.BundleId,
			}).Info("no webhook endpoint configured; skipping delivery")
		}
		return nil
	}

	payload := WebhookPayload{
		Event:         eventName(event.Action),
		BundleId:      event.BundleId,
		TenantId:      event.TenantId,
		ExportType:    event.ExportType,
		SealedAt:      event.SealedAt,
		Export:        json.RawMessage(event.Payload),
		VerifyUrl:     utils.BuildVerifyURL(event.BundleId),
		CorrelationId: event.CorrelationId,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Seal-Event", payload.Event)
	req.Header.Set("X-Seal-Signature", sealing.Sign(body, []byte(tenant.WebhookSecret)))
	if event.CorrelationId != "" {
		req.Header.Set("x-correlation-id", event.CorrelationId)
	}

	resp, err := webhookClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint responded %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":       "DeliverSealEvent",
			"tenant_id":   event.TenantId,
			"bundle_id":   event.BundleId,
			"event":       payload.Event,
			"status_code": resp.StatusCode,
		}).Info("webhook delivered")
	}
	return nil
}
