// export-tombstone redacts a sealed bundle's stored archive for legal or
// administrative erasure requests. The ledger row is kept with every hash and
// signature column intact so later bundles still chain-verify; only the
// archive content is removed. The row is stamped tombstoned_at and a
// tombstone event goes out through the outbox so the tenant's webhook hears
// about the redaction.
//
// Usage (from backend directory):
//   DB_* and GCS_BUCKET env vars set, then:
//   go run ./cmd/export-tombstone --tenant-id=... --bundle-id=...
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/models"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
)

func main() {
	tenantID := flag.String("tenant-id", "", "Required: tenant id (uuid)")
	bundleID := flag.String("bundle-id", "", "Required: bundle id of the sealed export to redact")
	flag.Parse()

	if strings.TrimSpace(*tenantID) == "" {
		fmt.Fprintln(os.Stderr, "--tenant-id is required")
		os.Exit(1)
	}
	if strings.TrimSpace(*bundleID) == "" {
		fmt.Fprintln(os.Stderr, "--bundle-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := utils.SetTenantIdInContext(context.Background(), strings.TrimSpace(*tenantID))
	ctx = utils.SetUserIdInContext(ctx, 0)
	ctx = utils.SetUserNameInContext(ctx, "System")

	row, err := models.TombstoneSealedExport(ctx, strings.TrimSpace(*bundleID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "tombstone failed: %v\n", err)
		os.Exit(1)
	}

	// The ledger row now says tombstoned; remove the archive itself. Missing
	// objects are fine, reruns after a partial failure must succeed.
	if err := utils.DeleteObjectFromGCS(ctx, row.StorageKey); err != nil {
		fmt.Fprintf(os.Stderr, "archive delete failed (ledger row already tombstoned, rerun to retry): %v\n", err)
		os.Exit(1)
	}

	if _, err := models.CreateManualHistory(ctx, &models.NewHistory{
		TenantId:      row.TenantId,
		ActionType:    "DELETE",
		Description:   fmt.Sprintf("tombstoned sealed export %s (%s); archive %s removed", row.BundleId, row.ExportType, row.StorageKey),
		ReferenceType: "sealed_exports",
		UserId:        0,
		UserName:      "System",
	}); err != nil {
		fmt.Fprintf(os.Stderr, "history write failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("tombstoned bundle=%s tenant=%s archive=%s\n", row.BundleId, row.TenantId, row.StorageKey)
}
