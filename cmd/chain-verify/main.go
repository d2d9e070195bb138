// chain-verify walks tenant seal ledgers and checks the hash chain linkage
// from genesis to head. Exit code 0 means every audited chain is intact;
// 1 means at least one chain is broken or an audit failed.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/chain-verify [--tenant-id=...]
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
	tenantID := flag.String("tenant-id", "", "Optional: audit a single tenant (default: every tenant with sealed exports)")
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
		// Discover every tenant with ledger rows. Tombstoned bundles stay in
		// the ledger, so they are covered too.
		if err := db.Raw(`SELECT DISTINCT tenant_id FROM sealed_exports ORDER BY tenant_id`).Scan(&tenants).Error; err != nil {
			fmt.Fprintf(os.Stderr, "discover tenants: %v\n", err)
			os.Exit(1)
		}
	}
	if len(tenants) == 0 {
		fmt.Println("no sealed exports found")
		return
	}

	broken := 0
	for _, tenant := range tenants {
		ctx := utils.SetTenantIdInContext(context.Background(), tenant)
		status, err := workflow.AuditTenantChain(ctx, db, tenant)
		if err != nil {
			broken++
			fmt.Fprintf(os.Stderr, "audit failed tenant=%s: %v\n", tenant, err)
			continue
		}
		if status.Intact {
			fmt.Printf("tenant=%s bundles=%d head=%s chain intact\n", tenant, status.BundleCount, status.HeadBundleId)
			continue
		}
		broken++
		fmt.Fprintf(os.Stderr, "tenant=%s bundles=%d broken at %s: %s\n", tenant, status.BundleCount, status.BrokenAt, status.Detail)
	}

	if broken > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d chains broken\n", broken, len(tenants))
		os.Exit(1)
	}
	fmt.Printf("all %d chains intact\n", len(tenants))
}
