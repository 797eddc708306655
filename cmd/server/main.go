package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"pool-backend/internal/app"
	"pool-backend/internal/config"
	"pool-backend/internal/db"
	"pool-backend/internal/router"
	"pool-backend/internal/utils"
)

func main() {
	log.Println("🚀 Starting pool-backend...")

	if err := config.LoadConfig(""); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config.ApplyDeploymentOverrides(utils.GlobalChainRegistry)

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("GIN_MODE") == "release" {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(logrus.DebugLevel)
	}

	db.InitDB()

	container, err := app.InitializeContainer(logger)
	if err != nil {
		log.Fatalf("Failed to initialize service container: %v", err)
	}

	// Proof workers pick up persisted pending tasks from previous runs.
	container.ProofTasks.Start()

	r := router.SetupRouter(container)

	host := config.AppConfig.Server.Host
	port := config.AppConfig.Server.Port
	if port == 0 {
		port = 3001
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Printf("✅ pool-backend listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 Shutting down pool-backend...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("⚠️ Server forced to shutdown: %v", err)
	}

	container.Cleanup()

	log.Println("✅ pool-backend stopped")
}
