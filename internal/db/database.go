package db

import (
	"database/sql"
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pool-backend/internal/config"
	"pool-backend/internal/metrics"
	"pool-backend/internal/models"
)

var DB *gorm.DB

func InitDB() {
	var err error

	if config.AppConfig == nil || config.AppConfig.Database.DSN == "" {
		log.Fatalf("Database DSN is required")
	}

	dsn := config.AppConfig.Database.DSN
	log.Printf("Connecting to database: %s", dsn)

	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		DisableAutomaticPing:                     true,
		PrepareStmt:                              true,
		CreateBatchSize:                          1000,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		log.Fatalf("Failed to connect database: %v", err)
	}

	metrics.DBConnectionStatus.Set(1)
	log.Println("✅ Database connected successfully")

	// GORM AutoMigrate does not modify existing column sizes, only adds new
	// columns, so hash columns created by older builds must be widened first.
	log.Println("🔧 Fixing hash column sizes...")
	if err := fixHashColumnSizes(DB); err != nil {
		log.Printf("⚠️ Failed to fix hash column sizes: %v", err)
		log.Println("⚠️ Attempting to continue with migration anyway...")
	}

	log.Println("🚀 Starting database schema migration with GORM AutoMigrate...")

	if err := DB.AutoMigrate(
		&models.ProofTask{},
		&models.RagequitRecord{},
		&models.ReconciliationRun{},
	); err != nil {
		log.Fatalf("AutoMigrate failed: %v", err)
	}

	log.Println("✅ Database schema migrated successfully")
}

// Ping checks the underlying connection. Used by the readiness probe.
func Ping() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		metrics.DBConnectionStatus.Set(0)
		return fmt.Errorf("database ping failed: %w", err)
	}
	metrics.DBConnectionStatus.Set(1)
	return nil
}

// fixHashColumnSizes widens bytes32 hex columns to VARCHAR(66)
// (0x + 64 hex chars) where an older build created them narrower.
func fixHashColumnSizes(db *gorm.DB) error {
	hashColumns := []struct {
		tableName  string
		columnName string
	}{
		{"ragequit_records", "scope"},
		{"ragequit_records", "label"},
		{"ragequit_records", "commitment_hash"},
		{"ragequit_records", "tx_hash"},
		{"proof_tasks", "nullifier_hash"},
	}

	for _, col := range hashColumns {
		if err := fixHashColumn(db, col.tableName, col.columnName); err != nil {
			log.Printf("⚠️ Failed to fix %s.%s: %v", col.tableName, col.columnName, err)
		}
	}
	return nil
}

// fixHashColumn widens a single hash column when it exists and is too narrow.
func fixHashColumn(db *gorm.DB, tableName, columnName string) error {
	var tableExists bool
	err := db.Raw(`
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = ?
		)
	`, tableName).Scan(&tableExists).Error
	if err != nil {
		return fmt.Errorf("failed to check if %s table exists: %w", tableName, err)
	}
	if !tableExists {
		return nil
	}

	var currentSize sql.NullInt64
	err = db.Raw(`
		SELECT character_maximum_length
		FROM information_schema.columns
		WHERE table_schema = 'public'
		AND table_name = ?
		AND column_name = ?
	`, tableName, columnName).Scan(&currentSize).Error
	if err != nil {
		return fmt.Errorf("failed to check %s.%s column size: %w", tableName, columnName, err)
	}
	// Column missing or already TEXT: AutoMigrate handles it
	if !currentSize.Valid {
		return nil
	}

	size := int(currentSize.Int64)
	if size >= 66 {
		return nil
	}

	log.Printf("🔧 Updating %s.%s column from VARCHAR(%d) to VARCHAR(66)...", tableName, columnName, size)
	result := db.Exec(fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN %s TYPE VARCHAR(66)`, tableName, columnName))
	if result.Error != nil {
		return fmt.Errorf("failed to update %s.%s column size: %w", tableName, columnName, result.Error)
	}
	log.Printf("✅ Updated %s.%s column size to VARCHAR(66)", tableName, columnName)
	return nil
}
