package main

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	"pool-backend/internal/config"
	"pool-backend/internal/db"
)

// hashColumns lists every bytes32 hex column; each must hold 66 characters
// ("0x" + 64 hex digits).
var hashColumns = []struct {
	table  string
	column string
}{
	{"proof_tasks", "nullifier_hash"},
	{"ragequit_records", "scope"},
	{"ragequit_records", "label"},
	{"ragequit_records", "commitment_hash"},
	{"reconciliation_runs", "account_key"},
}

func main() {
	fmt.Println("🔍 Verifying database connection and column sizes...")
	fmt.Println(strings.Repeat("=", 60))

	if err := config.LoadConfig(""); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db.InitDB()

	sqlDB, err := db.DB.DB()
	if err != nil {
		log.Fatalf("Failed to get database connection: %v", err)
	}
	defer sqlDB.Close()

	var dbName string
	if err := sqlDB.QueryRow("SELECT current_database()").Scan(&dbName); err != nil {
		log.Fatalf("Failed to get database name: %v", err)
	}
	fmt.Printf("📋 Connected to database: %s\n\n", dbName)

	broken := 0
	for _, hc := range hashColumns {
		var size sql.NullInt64
		err := sqlDB.QueryRow(`
			SELECT character_maximum_length
			FROM information_schema.columns
			WHERE table_schema = 'public'
			AND table_name = $1
			AND column_name = $2
		`, hc.table, hc.column).Scan(&size)

		if err == sql.ErrNoRows || !size.Valid {
			// TEXT columns report NULL length; that always fits.
			if err == sql.ErrNoRows {
				fmt.Printf("❌ %s.%s does not exist\n", hc.table, hc.column)
				broken++
				continue
			}
			fmt.Printf("✅ %s.%s: unbounded text\n", hc.table, hc.column)
			continue
		}
		if err != nil {
			log.Fatalf("Failed to query column size for %s.%s: %v", hc.table, hc.column, err)
		}

		if size.Int64 < 66 {
			fmt.Printf("❌ %s.%s: VARCHAR(%d) is too small, fixing to VARCHAR(66)...\n", hc.table, hc.column, size.Int64)
			alter := fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN %s TYPE VARCHAR(66)`, hc.table, hc.column)
			if _, err := sqlDB.Exec(alter); err != nil {
				log.Fatalf("Failed to fix %s.%s: %v", hc.table, hc.column, err)
			}
			fmt.Printf("   ✅ %s.%s fixed\n", hc.table, hc.column)
		} else {
			fmt.Printf("✅ %s.%s: VARCHAR(%d)\n", hc.table, hc.column, size.Int64)
		}
	}

	fmt.Println()
	if broken > 0 {
		fmt.Printf("❌ %d column(s) missing - run the server once to auto-migrate\n", broken)
		return
	}
	fmt.Println("✅ All hash columns hold full bytes32 hex values")
}
