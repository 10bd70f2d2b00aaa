package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sokoni/payments/internal/config"
	"github.com/sokoni/payments/internal/database"
	"github.com/sokoni/payments/internal/handlers"
	"github.com/sokoni/payments/internal/mpesa"
	"github.com/sokoni/payments/internal/payment"
	"github.com/sokoni/payments/internal/queue"
	"github.com/sokoni/payments/internal/repository/postgres"
	"github.com/sokoni/payments/internal/server"
	"github.com/sokoni/payments/internal/worker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Order payments service starting...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.LogSafeConfig()

	ctx := context.Background()

	// Initialize database
	db, err := database.NewDatabase(ctx, cfg.DatabaseURL, cfg.DBMinConns, cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize queue
	q, err := queue.NewQueue(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to initialize queue: %v", err)
	}
	defer q.Close()

	// Repositories
	orderRepo := postgres.NewOrderRepository(db.Pool)
	txnRepo := postgres.NewTransactionRepository(db.Pool)

	// Gateway adapter
	tokenService := mpesa.NewTokenService(
		cfg.MpesaConsumerKey,
		cfg.MpesaConsumerSecret,
		cfg.MpesaAuthURL,
	)
	gateway := mpesa.NewClient(tokenService, mpesa.Config{
		ShortCode:   cfg.MpesaShortCode,
		Passkey:     cfg.MpesaPasskey,
		STKPushURL:  cfg.MpesaSTKPushURL,
		CallbackURL: cfg.MpesaCallbackURL,
	})

	// Orchestrator + reconciler
	paymentService := payment.NewService(orderRepo, txnRepo, gateway)
	reconciler := payment.NewReconciler(orderRepo, txnRepo)

	// HTTP handlers
	httpHandlers := handlers.NewHandler(paymentService, q, db.Pool)

	// Register worker handlers
	processor := worker.NewProcessor(reconciler)
	q.Mux.HandleFunc(worker.TypeProcessCallback, processor.ProcessCallback)

	// Start embedded asynq worker in background
	redisOpt, serverConfig, err := queue.ServerConfig(cfg.RedisURL, cfg.WorkerConcurrency)
	if err != nil {
		log.Fatalf("Failed to create worker config: %v", err)
	}

	asynqServer := asynq.NewServer(redisOpt, serverConfig)

	go func() {
		log.Println("Starting embedded asynq worker...")
		if err := asynqServer.Run(q.Mux); err != nil {
			log.Fatalf("Asynq worker failed: %v", err)
		}
	}()

	// Start HTTP server in background
	httpServer := server.NewServer(cfg, httpHandlers)
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gracefully...")

	asynqServer.Shutdown()

	// Give time for cleanup
	time.Sleep(2 * time.Second)

	log.Println("Shutdown complete")
}
