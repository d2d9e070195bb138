package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/models"
	"bitbucket.org/safeplayhq/inspect_backend/sealing"
	"gorm.io/gorm"
)

// ChainStatus summarizes one walk of a tenant's ledger. Intact means every
// row's prev_bundle_hash points at the manifest hash of the row before it,
// starting from the genesis sentinel.
type ChainStatus struct {
	TenantId     string    `json:"tenant_id"`
	BundleCount  int       `json:"bundle_count"`
	Intact       bool      `json:"intact"`
	HeadBundleId string    `json:"head_bundle_id,omitempty"`
	BrokenAt     string    `json:"broken_at,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// AuditTenantChain walks the full ledger oldest first and verifies every
// predecessor linkage. It reads committed rows only; run it outside any seal
// transaction.
func AuditTenantChain(ctx context.Context, db *gorm.DB, tenantId string) (*ChainStatus, error) {
	rows, err := models.ListChainRows(ctx, db, tenantId)
	if err != nil {
		return nil, err
	}

	status := &ChainStatus{
		TenantId:    tenantId,
		BundleCount: len(rows),
		Intact:      true,
		CheckedAt:   time.Now().UTC(),
	}
	if len(rows) == 0 {
		return status, nil
	}
	status.HeadBundleId = rows[len(rows)-1].BundleId

	if rows[0].PrevBundleHash != models.ChainGenesis {
		status.Intact = false
		status.BrokenAt = rows[0].BundleId
		status.Detail = "first bundle does not claim genesis"
		return status, nil
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].PrevBundleHash != rows[i-1].ManifestSha256 {
			status.Intact = false
			status.BrokenAt = rows[i].BundleId
			status.Detail = fmt.Sprintf("bundle %s claims predecessor %s, ledger records %s",
				rows[i].BundleId, rows[i].PrevBundleHash, rows[i-1].ManifestSha256)
			return status, nil
		}
	}
	return status, nil
}

// GetChainStatus serves the audit summary redis-first. Sealing and
// tombstoning invalidate the key, so a cache hit is as fresh as the ledger.
func GetChainStatus(ctx context.Context, tenantId string) (*ChainStatus, error) {
	key := "ChainStatus:" + tenantId
	var cached ChainStatus
	exists, err := config.GetRedisObject(key, &cached)
	if err != nil {
		return nil, err
	}
	if exists {
		return &cached, nil
	}

	status, err := AuditTenantChain(ctx, config.GetDB(), tenantId)
	if err != nil {
		return nil, err
	}
	if err := config.SetRedisObject(key, status, 10*time.Minute); err != nil {
		return nil, err
	}
	return status, nil
}

// VerifyBundleChain layers the ledger predecessor check over an
// archive-level verification. The archive is self-contained for file hashes
// and the signature; only the ledger can say whether the manifest's claimed
// predecessor is the one actually recorded for this tenant.
func VerifyBundleChain(ctx context.Context, db *gorm.DB, row *models.SealedExport, result sealing.VerificationResult) sealing.VerificationResult {
	if !result.Valid || result.Manifest == nil {
		return result
	}
	manifest := result.Manifest

	// The archive must be the one this ledger row recorded.
	canonical, err := sealing.Canonicalize(manifest)
	if err != nil {
		return chainMismatch(manifest, "manifest could not be re-canonicalized: "+err.Error())
	}
	if sealing.Sha256Hex(canonical) != row.ManifestSha256 {
		return chainMismatch(manifest, "manifest hash does not match ledger row")
	}

	stored := row.PrevBundleHashPtr()
	declared := manifest.PrevBundleHash
	switch {
	case stored == nil && declared == nil:
		return result
	case stored == nil || declared == nil:
		return chainMismatch(manifest, "genesis linkage disagrees with ledger")
	case *stored != *declared:
		return chainMismatch(manifest, "prev_bundle_hash does not match ledger")
	}

	// The claimed predecessor must exist in this tenant's ledger.
	var prevCount int64
	if err := db.WithContext(ctx).Model(&models.SealedExport{}).
		Where("tenant_id = ? AND manifest_sha256 = ?", row.TenantId, *declared).
		Count(&prevCount).Error; err != nil {
		return chainMismatch(manifest, "predecessor lookup failed: "+err.Error())
	}
	if prevCount == 0 {
		return chainMismatch(manifest, "predecessor bundle not found in ledger")
	}
	return result
}

func chainMismatch(manifest *sealing.ExportManifest, detail string) sealing.VerificationResult {
	return sealing.VerificationResult{
		Valid:    false,
		Reason:   sealing.ReasonChainMismatch,
		Detail:   detail,
		Manifest: manifest,
	}
}
