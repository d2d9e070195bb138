// orphan-reconcile compares each tenant's sealed/ storage prefix against the
// export ledger and reports archives no ledger row records. Orphans are left
// behind when an upload succeeds but the ledger insert loses a chain conflict
// on its final attempt; the seal path never deletes from storage.
//
// By default the tool only prints orphaned keys. Pass --delete to remove them.
//
// Usage (from backend directory):
//   DB_* and GCS_BUCKET env vars set, then:
//   go run ./cmd/orphan-reconcile [--tenant-id=...] [--delete]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"bitbucket.org/safeplayhq/inspect_backend/workflow"
)

func main() {
	tenantID := flag.String("tenant-id", "", "Optional: reconcile a single tenant (default: every tenant)")
	doDelete := flag.Bool("delete", false, "Delete orphaned archives instead of only listing them")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	var tenants []string
	if strings.TrimSpace(*tenantID) != "" {
		tenants = []string{strings.TrimSpace(*tenantID)}
	} else {
		// Every tenant, not just tenants with ledger rows: an orphan can be
		// the only archive a tenant has.
		if err := db.Raw(`SELECT id FROM tenants ORDER BY id`).Scan(&tenants).Error; err != nil {
			fmt.Fprintf(os.Stderr, "discover tenants: %v\n", err)
			os.Exit(1)
		}
	}

	totalOrphans := 0
	for _, tenant := range tenants {
		ctx := utils.SetTenantIdInContext(context.Background(), tenant)
		orphans, err := workflow.ListOrphanedArchives(ctx, db, tenant)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reconcile failed tenant=%s: %v\n", tenant, err)
			os.Exit(1)
		}
		if len(orphans) == 0 {
			continue
		}
		totalOrphans += len(orphans)
		for _, key := range orphans {
			if !*doDelete {
				fmt.Printf("orphan tenant=%s key=%s\n", tenant, key)
				continue
			}
			if err := utils.DeleteObjectFromGCS(ctx, key); err != nil {
				fmt.Fprintf(os.Stderr, "delete failed key=%s: %v\n", key, err)
				os.Exit(1)
			}
			fmt.Printf("deleted orphan tenant=%s key=%s\n", tenant, key)
		}
	}

	if totalOrphans == 0 {
		fmt.Printf("no orphaned archives across %d tenants\n", len(tenants))
		return
	}
	if *doDelete {
		fmt.Printf("deleted %d orphaned archives\n", totalOrphans)
	} else {
		fmt.Printf("%d orphaned archives found (rerun with --delete to remove)\n", totalOrphans)
	}
}
