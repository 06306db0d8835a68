// Package main clears a dirty flag left in schema_migrations when a migration run was
// interrupted. golang-migrate refuses to proceed from a dirty version, which blocks the
// server from starting. The tool reports the state, clears the flag if set and reports
// the final state. Use it only after checking the schema by hand.
package main

import (
	"database/sql"
	"log"
	"os"

	"github.com/rnblock/api-key-provider/internal/config"
	"github.com/rnblock/api-key-provider/internal/db"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 1, 1)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	log.Println("Connected to database successfully")

	version, dirty := migrationState(database)
	log.Printf("Current migration state: version=%d, dirty=%v", version, dirty)

	if !dirty {
		log.Println("Migration state is already clean")
		return
	}

	log.Println("Fixing dirty migration state...")
	if _, err := database.Exec("UPDATE schema_migrations SET dirty = false"); err != nil {
		log.Fatalf("Failed to fix dirty state: %v", err)
	}

	version, dirty = migrationState(database)
	log.Printf("Final migration state: version=%d, dirty=%v", version, dirty)
}

func migrationState(database *sql.DB) (int64, bool) {
	var version int64
	var dirty bool
	if err := database.QueryRow("SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty); err != nil {
		log.Fatalf("Failed to check migration state: %v", err)
	}
	return version, dirty
}
