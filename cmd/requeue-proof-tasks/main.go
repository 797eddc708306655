package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"pool-backend/internal/config"
	"pool-backend/internal/db"
	"pool-backend/internal/models"
)

// Puts proof tasks stuck in "processing" back to "pending" so the workers
// pick them up after a crash or a prover outage.
func main() {
	var olderThanMinutes int
	var dryRun bool

	flag.IntVar(&olderThanMinutes, "older-than", 10, "Only requeue tasks last updated more than this many minutes ago")
	flag.BoolVar(&dryRun, "dry-run", false, "Show what would be requeued without updating")
	flag.Parse()

	fmt.Println("🔄 Proof Task Requeue Script")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Older Than: %d minute(s)\n", olderThanMinutes)
	if dryRun {
		fmt.Println("Mode: DRY RUN (no changes will be made)")
	} else {
		fmt.Println("Mode: LIVE (will update database)")
	}
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println()

	if err := config.LoadConfig(""); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db.InitDB()
	defer func() {
		if sqlDB, err := db.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	cutoff := time.Now().Add(-time.Duration(olderThanMinutes) * time.Minute)

	var tasks []models.ProofTask
	if err := db.DB.
		Where("status = ? AND updated_at < ?", models.ProofTaskStatusProcessing, cutoff).
		Find(&tasks).Error; err != nil {
		log.Fatalf("❌ Failed to query proof tasks: %v", err)
	}

	if len(tasks) == 0 {
		fmt.Println("✅ No stuck proof tasks found")
		return
	}

	fmt.Printf("📋 Found %d stuck task(s):\n", len(tasks))
	fmt.Println(strings.Repeat("-", 60))
	for i, task := range tasks {
		fmt.Printf("%d. ID: %s\n", i+1, task.ID)
		fmt.Printf("   Type: %s\n", task.Type)
		fmt.Printf("   Retries: %d/%d\n", task.RetryCount, task.MaxRetries)
		fmt.Printf("   Updated: %s\n", task.UpdatedAt.Format(time.RFC3339))
	}
	fmt.Println(strings.Repeat("-", 60))
	fmt.Println()

	if dryRun {
		fmt.Printf("✅ DRY RUN: %d task(s) would be requeued\n", len(tasks))
		return
	}

	result := db.DB.Model(&models.ProofTask{}).
		Where("status = ? AND updated_at < ?", models.ProofTaskStatusProcessing, cutoff).
		Update("status", models.ProofTaskStatusPending)
	if result.Error != nil {
		log.Fatalf("❌ Failed to requeue tasks: %v", result.Error)
	}

	fmt.Printf("✅ Requeued %d task(s) to pending\n", result.RowsAffected)
	fmt.Println("   Restart or keep the server running; workers poll pending tasks")
}
