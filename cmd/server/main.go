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

	"circulation-service/config"
	"circulation-service/internal/api"
	"circulation-service/internal/broker"
	"circulation-service/internal/mailer"
	"circulation-service/internal/redisclient"
	"circulation-service/internal/service"
	"circulation-service/internal/store"
	"circulation-service/internal/util"
	"circulation-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting circulation service")

	tp, err := util.InitTracer("circulation-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	sender, err := mailer.NewSender(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.From,
		time.Duration(cfg.SMTP.TimeoutSeconds)*time.Second,
	)
	if err != nil {
		log.Fatalf("Failed to initialize SMTP sender: %v", err)
	}

	locks := service.NewLockTable()
	reservationService := service.NewReservationService(db, locks, eventPublisher)
	loanService := service.NewLoanService(
		db, locks, reservationService, eventPublisher, redisClient,
		cfg.Circulation.LoanDurationDays, cfg.Circulation.MaxRenewals,
	)
	dispatcher := service.NewDispatcher(
		db, locks, sender, eventPublisher,
		cfg.Circulation.DueSoonDays, cfg.Circulation.RenotifyOverdue,
		time.Duration(cfg.SMTP.TimeoutSeconds)*time.Second,
	)

	ctx := context.Background()
	if err := syncAvailabilityToRedis(ctx, db, redisClient); err != nil {
		log.Printf("Failed to sync availability to Redis: %v", err)
	}

	sweepWorker := worker.NewSweepWorker(dispatcher, cfg.Circulation.SweepSchedule)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if err := sweepWorker.Start(workerCtx); err != nil {
		log.Fatalf("Failed to start sweep worker: %v", err)
	}

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.ConsumerGroup)
	cacheSyncWorker := worker.NewCacheSyncWorker(consumer, db, redisClient)
	go func() {
		if err := cacheSyncWorker.Start(workerCtx); err != nil {
			log.Printf("Cache sync worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(loanService, reservationService, sweepWorker, redisClient, db)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	sweepWorker.Stop()
	if err := cacheSyncWorker.Stop(); err != nil {
		log.Printf("Error stopping cache sync worker: %v", err)
	}

	log.Println("Server exited")
}

// syncAvailabilityToRedis seeds the availability cache from the store so
// reads are warm before the first circulation mutation.
func syncAvailabilityToRedis(ctx context.Context, db *store.Store, cache *redisclient.Client) error {
	books, err := db.ListBooks(ctx)
	if err != nil {
		return err
	}
	for _, book := range books {
		if err := cache.SetAvailability(ctx, book.ID, book.AvailableCopies); err != nil {
			return err
		}
	}
	log.Printf("Synced availability for %d books to Redis", len(books))
	return nil
}
