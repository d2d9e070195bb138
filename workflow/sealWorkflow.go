package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/models"
	"bitbucket.org/safeplayhq/inspect_backend/sealing"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrUnknownExportType     = errors.New("unknown export type")
	ErrSigningKeyUnavailable = errors.New("seal signing key unavailable")
)

// maxSealAttempts bounds chain-conflict retries. A conflict means another
// seal claimed the predecessor between our head read and insert; each retry
// re-reads the head and seals under a fresh bundle id.
const maxSealAttempts = 3

type SealInput struct {
	TenantId    string
	ExportType  models.ExportType
	SourceId    *int
	Files       []sealing.InputFile
	GeneratedBy sealing.GeneratedBy
}

// SealExport runs the full sealing pipeline for one bundle: hash the file
// set, read the tenant's chain head under the seal lock, build and sign the
// manifest, upload the archive, then append the ledger row and outbox event
// in one transaction. Nothing is persisted if the upload fails; a ledger
// failure after upload surfaces the orphaned storage key in the error.
func SealExport(ctx context.Context, logger *logrus.Logger, input SealInput) (*models.SealedExport, error) {
	if input.TenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if _, err := models.ParseExportType(string(input.ExportType)); err != nil {
		return nil, ErrUnknownExportType
	}
	if len(input.Files) == 0 {
		return nil, sealing.ErrNoFiles
	}

	// File entries are fully materialized before any locking or signing and
	// are reused verbatim across conflict retries.
	entries, err := sealing.HashFiles(input.Files)
	if err != nil {
		return nil, err
	}

	ring, err := config.GetSealKeyRing()
	if err != nil {
		config.LogError(logger, "sealWorkflow.go", "SealExport", "Loading signing key ring", input.TenantId, err)
		return nil, ErrSigningKeyUnavailable
	}

	db := config.GetDB()
	for attempt := 1; ; attempt++ {
		row, err := sealAttempt(ctx, logger, db, ring, input, entries)
		if err == nil {
			_ = config.RemoveRedisKey("ChainStatus:" + input.TenantId)
			logger.WithFields(logrus.Fields{
				"tenant_id":   row.TenantId,
				"bundle_id":   row.BundleId,
				"export_type": row.ExportType,
				"file_count":  row.FileCount,
				"total_bytes": row.TotalBytes,
				"storage_key": row.StorageKey,
			}).Info("[seal.completed]")
			return row, nil
		}
		if errors.Is(err, models.ErrChainConflict) && attempt < maxSealAttempts {
			logger.WithFields(logrus.Fields{
				"tenant_id": input.TenantId,
				"attempt":   attempt,
			}).Warn("chain head moved during seal; retrying with fresh bundle id")
			continue
		}
		return nil, err
	}
}

// sealAttempt is one locked end-to-end pass. The advisory lock, the chain
// head read and the ledger insert all share the transaction's connection;
// GET_LOCK is connection-scoped, so this is what serializes tenants.
func sealAttempt(ctx context.Context, logger *logrus.Logger, db *gorm.DB, ring *sealing.KeyRing, input SealInput, entries []sealing.ManifestFileEntry) (*models.SealedExport, error) {
	var sealed *models.SealedExport
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := AcquireTenantSealLock(tx.WithContext(ctx), input.TenantId); err != nil {
			return err
		}
		defer ReleaseTenantSealLock(tx.WithContext(ctx), input.TenantId)

		head, err := models.LatestSealedExport(ctx, tx, input.TenantId)
		if err != nil {
			return err
		}
		var prevHash *string
		storedPrev := models.ChainGenesis
		if head != nil {
			h := head.ManifestSha256
			prevHash = &h
			storedPrev = h
		}

		bundleId := uuid.New().String()

		var sourceId *string
		if input.SourceId != nil {
			s := strconv.Itoa(*input.SourceId)
			sourceId = &s
		}

		manifest := sealing.BuildManifest(sealing.BuildParams{
			BundleID:       bundleId,
			TenantID:       input.TenantId,
			ExportType:     string(input.ExportType),
			SourceID:       sourceId,
			GeneratedBy:    input.GeneratedBy,
			SigningKeyID:   ring.ActiveID(),
			VerifyURL:      utils.BuildVerifyURL(bundleId),
			PrevBundleHash: prevHash,
			Files:          entries,
		})

		bundle, err := sealing.SealBundle(manifest, input.Files, ring.ActiveKey())
		if err != nil {
			return err
		}

		storageKey := fmt.Sprintf("%s/sealed/%s.zip", input.TenantId, bundleId)
		if err := uploadArchiveWithRetry(ctx, storageKey, bundle.Archive); err != nil {
			config.LogError(logger, "sealWorkflow.go", "SealExport", "Uploading sealed archive", storageKey, err)
			return fmt.Errorf("upload sealed archive: %w", err)
		}

		row := &models.SealedExport{
			BundleId:        bundleId,
			TenantId:        input.TenantId,
			ExportType:      input.ExportType,
			SourceId:        input.SourceId,
			FileCount:       len(entries),
			TotalBytes:      bundle.TotalBytes,
			StorageKey:      storageKey,
			ManifestSha256:  bundle.ManifestSha256,
			ManifestSig:     bundle.Signature,
			SigningKeyId:    ring.ActiveID(),
			PrevBundleHash:  storedPrev,
			GeneratedById:   input.GeneratedBy.UserID,
			GeneratedByName: input.GeneratedBy.DisplayName,
		}
		if err := models.CreateSealedExport(ctx, tx, row); err != nil {
			if errors.Is(err, models.ErrChainConflict) {
				// The uploaded object for this attempt stays behind under the
				// abandoned bundle id; the orphan reconciler removes keys
				// that have no ledger row.
				logger.WithFields(logrus.Fields{
					"tenant_id":   input.TenantId,
					"bundle_id":   bundleId,
					"storage_key": storageKey,
				}).Warn("chain conflict after upload; archive orphaned pending reconcile")
				return err
			}
			config.LogError(logger, "sealWorkflow.go", "SealExport", "Appending ledger row", storageKey, err)
			return fmt.Errorf("ledger append failed, orphaned archive at %s: %w", storageKey, err)
		}
		if err := models.PublishSealEvent(ctx, tx, input.TenantId, manifest.GeneratedAt, bundleId, input.ExportType, models.SealEventActionSealed, row); err != nil {
			config.LogError(logger, "sealWorkflow.go", "SealExport", "Appending outbox event", storageKey, err)
			return fmt.Errorf("outbox append failed, orphaned archive at %s: %w", storageKey, err)
		}
		sealed = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sealed, nil
}

// uploadArchiveWithRetry pushes the already-built archive to object storage.
// Retries reuse the same bytes; nothing is re-hashed or re-signed.
func uploadArchiveWithRetry(ctx context.Context, storageKey string, archive []byte) error {
	maxRetries := config.SealUploadMaxRetries()
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		err = utils.UploadBytesToGCS(ctx, storageKey, archive, "application/zip")
		if err == nil {
			return nil
		}
	}
	return err
}
