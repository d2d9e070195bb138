package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// ChainGenesis is the stored predecessor value for a tenant's first bundle.
// MySQL unique indexes ignore NULL, so the uniq_seal_chain backstop needs a
// concrete sentinel. Manifests still carry JSON null for a first bundle.
const ChainGenesis = "GENESIS"

// ErrChainConflict means a ledger insert claimed a predecessor hash that
// another bundle of the same tenant already claimed. The caller must re-read
// the chain head and retry with a fresh bundle id.
var ErrChainConflict = errors.New("chain predecessor already claimed")

// SealedExport is one append-only ledger row per sealed bundle. Rows are
// never updated or deleted by request handlers; the only post-insert write
// is the explicit tombstone CLI, which records the redaction timestamp and
// leaves every chain column untouched so later bundles keep verifying.
type SealedExport struct {
	BundleId        string     `gorm:"primaryKey;size:36" json:"bundle_id"`
	TenantId        string     `gorm:"size:64;not null;index;uniqueIndex:uniq_seal_chain,priority:1" json:"tenant_id"`
	ExportType      ExportType `gorm:"type:enum('inspection_report','claims_pack','maintenance_log');not null" json:"export_type"`
	SourceId        *int       `gorm:"index" json:"source_id"`
	FileCount       int        `gorm:"not null" json:"file_count"`
	TotalBytes      int64      `gorm:"not null" json:"total_bytes"`
	StorageKey      string     `gorm:"size:255;not null" json:"storage_key"`
	ManifestSha256  string     `gorm:"size:64;not null;index" json:"manifest_sha256"`
	ManifestSig     string     `gorm:"size:100;not null" json:"manifest_sig"`
	SigningKeyId    string     `gorm:"size:64;not null" json:"signing_key_id"`
	PrevBundleHash  string     `gorm:"size:64;not null;uniqueIndex:uniq_seal_chain,priority:2" json:"prev_bundle_hash"`
	GeneratedById   int        `gorm:"not null" json:"generated_by_id"`
	GeneratedByName string     `gorm:"size:100" json:"generated_by_name"`
	TombstonedAt    *time.Time `json:"tombstoned_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (s SealedExport) GetTenantId() string {
	return s.TenantId
}

// PrevBundleHashPtr converts the stored sentinel back to the nullable form
// manifests and API payloads use.
func (s SealedExport) PrevBundleHashPtr() *string {
	if s.PrevBundleHash == ChainGenesis {
		return nil
	}
	h := s.PrevBundleHash
	return &h
}

func (s SealedExport) IsTombstoned() bool {
	return s.TombstonedAt != nil
}

// LatestSealedExport reads the tenant's chain head. Run this on the same
// transaction that later inserts the new row; the per-tenant seal lock is
// connection-scoped and only serializes callers sharing that connection.
func LatestSealedExport(ctx context.Context, tx *gorm.DB, tenantId string) (*SealedExport, error) {
	var results []*SealedExport
	err := tx.WithContext(ctx).
		Where("tenant_id = ?", tenantId).
		Order("created_at DESC, bundle_id DESC").
		Limit(1).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// CreateSealedExport appends the ledger row inside the caller's transaction.
// A duplicate on uniq_seal_chain surfaces as ErrChainConflict.
func CreateSealedExport(ctx context.Context, tx *gorm.DB, row *SealedExport) error {
	if row.BundleId == "" {
		return errors.New("bundle id is required")
	}
	if row.TenantId == "" {
		return errors.New("tenant id is required")
	}
	if row.PrevBundleHash == "" {
		row.PrevBundleHash = ChainGenesis
	}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		if isChainConflictErr(err) {
			return ErrChainConflict
		}
		return err
	}
	return nil
}

// MySQL 1062 on the (tenant_id, prev_bundle_hash) unique index. A 1062 on the
// primary key would mean a reused bundle id, which is a different bug and is
// passed through untouched.
func isChainConflictErr(err error) bool {
	if err == nil {
		return false
	}
	var my *mysql.MySQLError
	if errors.As(err, &my) {
		return my.Number == 1062 && strings.Contains(my.Message, "uniq_seal_chain")
	}
	return strings.Contains(err.Error(), "Duplicate entry") &&
		strings.Contains(err.Error(), "uniq_seal_chain")
}

// GetSealedExport fetches one ledger row for the request's tenant, redis first.
func GetSealedExport(ctx context.Context, bundleId string) (*SealedExport, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	cached, err := utils.RetrieveRedisByKey[SealedExport](bundleId)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		if cached.TenantId != tenantId {
			return nil, utils.ErrorRecordNotFound
		}
		return cached, nil
	}

	db := config.GetDB()
	var result SealedExport
	err = db.WithContext(ctx).
		Where("tenant_id = ? AND bundle_id = ?", tenantId, bundleId).
		First(&result).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if err := utils.StoreRedisByKey[SealedExport](&result, bundleId); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetSealedExportByBundleId is the unscoped lookup behind the public verify
// endpoint; there is no tenant in that request context.
func GetSealedExportByBundleId(ctx context.Context, bundleId string) (*SealedExport, error) {
	cached, err := utils.RetrieveRedisByKey[SealedExport](bundleId)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	db := config.GetDB()
	var result SealedExport
	err = db.WithContext(ctx).
		Where("bundle_id = ?", bundleId).
		First(&result).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if err := utils.StoreRedisByKey[SealedExport](&result, bundleId); err != nil {
		return nil, err
	}
	return &result, nil
}

type SealedExportsConnection struct {
	Edges    []*SealedExportsEdge `json:"edges"`
	PageInfo *PageInfo            `json:"pageInfo"`
}

type SealedExportsEdge struct {
	Node   *SealedExport `json:"node"`
	Cursor string        `json:"cursor"`
}

// PaginateSealedExports lists the tenant's ledger, most recent first, with a
// keyset cursor on (created_at, bundle_id).
func PaginateSealedExports(ctx context.Context, limit int, after *string, exportType *ExportType) (*SealedExportsConnection, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if limit <= 0 {
		limit = 20
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("tenant_id = ?", tenantId)
	if exportType != nil && *exportType != "" {
		dbCtx = dbCtx.Where("export_type = ?", *exportType)
	}

	cursorTime, cursorBundle, err := decodeSealCursor(after)
	if err != nil {
		return nil, err
	}
	if cursorBundle != "" {
		dbCtx = dbCtx.Where(
			"created_at < ? OR (created_at = ? AND bundle_id < ?)",
			cursorTime, cursorTime, cursorBundle)
	}

	var nodes []*SealedExport
	err = dbCtx.Order("created_at DESC, bundle_id DESC").Limit(limit + 1).Find(&nodes).Error
	if err != nil {
		return nil, err
	}

	count := 0
	hasNextPage := false
	connection := SealedExportsConnection{}
	for _, node := range nodes {
		if count == limit {
			hasNextPage = true
		}
		if count < limit {
			edge := SealedExportsEdge{
				Node:   node,
				Cursor: encodeSealCursor(node.CreatedAt, node.BundleId),
			}
			connection.Edges = append(connection.Edges, &edge)
			count++
		}
	}

	pageInfo := PageInfo{HasNextPage: utils.NewFalse()}
	if count > 0 {
		pageInfo = PageInfo{
			StartCursor: connection.Edges[0].Cursor,
			EndCursor:   connection.Edges[count-1].Cursor,
			HasNextPage: &hasNextPage,
		}
	}
	connection.PageInfo = &pageInfo

	return &connection, nil
}

func encodeSealCursor(createdAt time.Time, bundleId string) string {
	return EncodeCursor(fmt.Sprintf("%s|%s", createdAt.UTC().Format(time.RFC3339Nano), bundleId))
}

func decodeSealCursor(after *string) (time.Time, string, error) {
	if after == nil || *after == "" {
		return time.Time{}, "", nil
	}
	decoded, err := DecodeCursor(after)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(decoded, "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid cursor")
	}
	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", errors.New("invalid cursor")
	}
	return t, parts[1], nil
}

func CountSealedExports(ctx context.Context, tenantId string) (int64, error) {
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&SealedExport{}).
		Where("tenant_id = ?", tenantId).Count(&count).Error
	return count, err
}

// ListChainRows returns a tenant's full ledger oldest first, for chain audits.
// Takes the db handle so the audit CLI can run it without request context.
func ListChainRows(ctx context.Context, db *gorm.DB, tenantId string) ([]*SealedExport, error) {
	var rows []*SealedExport
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantId).
		Order("created_at ASC, bundle_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// TombstoneSealedExport records a legal/administrative redaction of a bundle's
// stored archive. It stamps tombstoned_at once and emits a seal event; every
// hash/signature column is preserved so the tenant's chain keeps verifying.
func TombstoneSealedExport(ctx context.Context, bundleId string) (*SealedExport, error) {
	db := config.GetDB()

	var row SealedExport
	if err := db.WithContext(ctx).Where("bundle_id = ?", bundleId).First(&row).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if row.TombstonedAt != nil {
		return nil, errors.New("bundle already tombstoned")
	}

	now := time.Now().UTC()
	tx := db.WithContext(ctx).Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Model(&SealedExport{}).
		Where("bundle_id = ? AND tombstoned_at IS NULL", bundleId).
		Update("tombstoned_at", now).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	row.TombstonedAt = &now
	if err := PublishSealEvent(ctx, tx, row.TenantId, now, row.BundleId, row.ExportType, SealEventActionTombstoned, &row); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisItemByKey[SealedExport](bundleId); err != nil {
		return nil, err
	}
	if err := config.RemoveRedisKey("ChainStatus:" + row.TenantId); err != nil {
		return nil, err
	}

	return &row, nil
}
