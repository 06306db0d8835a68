// Package main is a diagnostic tool for database connectivity. It connects with the
// server configuration, reports the migration version and prints row counts for the
// key provider tables. It exits non-zero on any failure so it can gate deployments.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/rnblock/api-key-provider/internal/config"
	"github.com/rnblock/api-key-provider/internal/db"
)

var tables = []string{
	"users",
	"organizations",
	"organization_members",
	"api_keys",
	"wallets",
	"test_wallets",
	"services",
	"api_usage_logs",
	"stripe_events",
	"audit_logs",
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 2, 1)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to read migration version: %v", err)
	}
	fmt.Printf("Schema version: %d (dirty: %t)\n\n", version, dirty)

	for _, table := range tables {
		var count int64
		// #nosec G202 -- table names come from the fixed list above
		if err := database.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			log.Fatalf("Query on %s failed: %v", table, err)
		}
		fmt.Printf("%-22s %d\n", table, count)
	}

	var active int64
	if err := database.QueryRow("SELECT COUNT(*) FROM api_keys WHERE is_active AND revoked_at IS NULL").Scan(&active); err != nil {
		log.Fatalf("Query on api_keys failed: %v", err)
	}
	fmt.Printf("\nActive API keys: %d\n", active)
}
