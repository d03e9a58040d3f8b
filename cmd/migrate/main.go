package main

import (
	"fmt"
	"os"

	"github.com/mmdatafocus/bilan_backend/config"
	"github.com/mmdatafocus/bilan_backend/models"
)

// migrate creates or updates the case, document, activity and idempotency tables.
// Run it as a separate job when the server starts with SKIP_MIGRATIONS=true.
func main() {
	if !config.DatabaseConfigured() {
		fmt.Fprintln(os.Stderr, "DB_HOST and DB_NAME are required")
		os.Exit(1)
	}
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	if err := models.MigrateTable(db); err != nil {
		config.LogError(config.GetLogger(), "migrate", "main", "running migrations", nil, err)
		os.Exit(1)
	}
	fmt.Println("migrations applied")
}
