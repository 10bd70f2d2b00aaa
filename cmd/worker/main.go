package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/sokoni/payments/internal/config"
	"github.com/sokoni/payments/internal/database"
	"github.com/sokoni/payments/internal/payment"
	"github.com/sokoni/payments/internal/queue"
	"github.com/sokoni/payments/internal/repository/postgres"
	"github.com/sokoni/payments/internal/worker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Order payments worker starting...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	// Initialize database
	db, err := database.NewDatabase(ctx, cfg.DatabaseURL, cfg.DBMinConns, cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Reconciler over the shared store
	orderRepo := postgres.NewOrderRepository(db.Pool)
	txnRepo := postgres.NewTransactionRepository(db.Pool)
	reconciler := payment.NewReconciler(orderRepo, txnRepo)

	// Register worker handlers
	mux := asynq.NewServeMux()
	processor := worker.NewProcessor(reconciler)
	mux.HandleFunc(worker.TypeProcessCallback, processor.ProcessCallback)

	// Start asynq worker
	redisOpt, serverConfig, err := queue.ServerConfig(cfg.RedisURL, cfg.WorkerConcurrency)
	if err != nil {
		log.Fatalf("Failed to create worker config: %v", err)
	}

	asynqServer := asynq.NewServer(redisOpt, serverConfig)

	// Handle shutdown signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down worker...")
		asynqServer.Shutdown()
	}()

	log.Println("Worker started, processing tasks...")
	if err := asynqServer.Run(mux); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}

	log.Println("Worker shutdown complete")
}
