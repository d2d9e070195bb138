package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/safeplayhq/inspect_backend/models"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"gorm.io/gorm"
)

// ListOrphanedArchives returns object keys under the tenant's sealed/ prefix
// that no ledger row records. Orphans are left behind when an archive upload
// succeeds but the ledger insert loses a chain conflict on its final attempt;
// the seal path never deletes from storage, so reconciliation is offline.
func ListOrphanedArchives(ctx context.Context, db *gorm.DB, tenantId string) ([]string, error) {
	if tenantId == "" {
		return nil, fmt.Errorf("tenant id is required")
	}

	keys, err := utils.ListObjectKeysWithPrefix(ctx, tenantId+"/sealed/")
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []string{}, nil
	}

	rows, err := models.ListChainRows(ctx, db, tenantId)
	if err != nil {
		return nil, err
	}
	recorded := make(map[string]bool, len(rows))
	for _, row := range rows {
		recorded[row.StorageKey] = true
	}

	orphans := make([]string, 0)
	for _, key := range keys {
		if !recorded[key] {
			orphans = append(orphans, key)
		}
	}
	return orphans, nil
}
