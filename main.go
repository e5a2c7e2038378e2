package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/mongo"

	"homeward/marketplace/internal/api"
	"homeward/marketplace/internal/api/handlers"
	"homeward/marketplace/internal/cache"
	"homeward/marketplace/internal/catalog"
	"homeward/marketplace/internal/config"
	"homeward/marketplace/internal/db"
	"homeward/marketplace/internal/email"
	"homeward/marketplace/internal/events"
	"homeward/marketplace/internal/logging"
	"homeward/marketplace/internal/services"
	"homeward/marketplace/internal/storage"
	"homeward/marketplace/internal/tasks"
)

// inMemoryURI as MONGO_URI keeps all data in process; it is meant for local runs and demos.
const inMemoryURI = "memory://"

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (background tasks and scheduler), 'all' (default)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*runMode)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	switch cfg.RunMode {
	case "api", "bg", "all":
	default:
		log.Fatalf("Invalid run mode: %s", cfg.RunMode)
	}

	_, logCloser, err := logging.Setup(cfg)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()

	ctx := context.Background()

	// Store
	var store db.Store
	if cfg.MongoURI == inMemoryURI {
		slog.Warn("Using the in-memory store; data is lost on exit")
		store = db.NewMemoryStore(nil)
	} else {
		var mongoClient *mongo.Client
		var mongoDb *mongo.Database
		mongoClient, mongoDb, err = db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
		if err != nil {
			fatal("Failed to connect to database", err)
		}
		defer func() {
			if err := db.DisconnectDB(mongoClient); err != nil {
				slog.Error("Error disconnecting from MongoDB", "error", err)
			}
		}()
		if err := db.EnsureIndexes(ctx, mongoDb); err != nil {
			fatal("Failed to create indexes", err)
		}
		store = db.NewMongoStore(mongoDb)
	}

	// Cache (Redis) backs the task queue and mocked emails.
	redisClient, err := cache.ConnectRedis(ctx, cache.Options(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB))
	if err != nil {
		fatal("Failed to connect to Redis", err)
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient); err != nil {
			slog.Error("Error disconnecting from Redis", "error", err)
		}
	}()

	// Domain events
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.AmqpURL != "" {
		amqpPublisher, err := events.DialAMQP(cfg.AmqpURL, cfg.AmqpExchange)
		if err != nil {
			fatal("Failed to connect to RabbitMQ", err)
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	}

	// Email
	var primaryEmailSender email.Sender
	if cfg.MockEmail {
		slog.Info("MOCK_SERVICES enabled: storing outgoing email in Redis")
		primaryEmailSender = email.NewRedisSender(redisClient, cfg.SmtpFromAddress)
	} else {
		primaryEmailSender = email.NewSMTPSender(cfg)
	}
	compositeSender := email.NewCompositeEmailSender(primaryEmailSender)
	if cfg.EmailLogFile != "" {
		fileSender, err := email.NewFileEmailSender(cfg.EmailLogFile)
		if err != nil {
			slog.Warn("Failed to initialize file email sender, proceeding without it", "path", cfg.EmailLogFile, "error", err)
		} else {
			compositeSender.AddSender(fileSender)
			slog.Info("Logging outgoing email to file", "path", cfg.EmailLogFile)
		}
	}

	objectStorage, err := storage.NewS3Storage(cfg)
	if err != nil {
		fatal("Failed to initialize S3 storage", err)
	}

	taskClient := tasks.NewClient(cfg)
	defer taskClient.Close()

	// Services
	userService := services.NewUserService(store, cfg)
	listingService := services.NewListingService(store, cfg)
	notificationService := services.NewNotificationService(store)
	notificationService.SetEmailDispatcher(taskClient)
	transactionService := services.NewTransactionService(store, cfg, catalog.Default(), listingService, notificationService, publisher)
	proposalService := services.NewProposalService(store, cfg, userService, listingService, transactionService, notificationService, publisher)
	messageService := services.NewMessageService(store, cfg, userService, proposalService, notificationService)
	emailTemplateService := services.NewEmailTemplateService(store)
	deadlineScanner := services.NewDeadlineScanner(store, cfg, notificationService)
	verificationService, err := services.NewVerificationService(store, cfg, objectStorage, userService, notificationService)
	if err != nil {
		fatal("Failed to initialize verification service", err)
	}

	var wg sync.WaitGroup
	shutdownChan := make(chan struct{}, 1)

	// Service API (always runs)
	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: api.SetupServiceRouter(cfg, redisClient, shutdownChan),
	}
	listen(&wg, "Service API", serviceSrv)

	slog.Info("Starting application", "mode", cfg.RunMode)

	var mainApiSrv *http.Server
	if cfg.RunMode == "api" || cfg.RunMode == "all" {
		router := api.SetupRouter(cfg, handlers.Services{
			Users:         userService,
			Listings:      listingService,
			Proposals:     proposalService,
			Transactions:  transactionService,
			Messages:      messageService,
			Notifications: notificationService,
			Verifications: verificationService,
			Templates:     emailTemplateService,
			Deadlines:     deadlineScanner,
		}, taskClient)
		mainApiSrv = &http.Server{
			Addr:    ":" + cfg.ApiPort,
			Handler: router,
		}
		listen(&wg, "Main API", mainApiSrv)
	}

	var taskSrv *asynq.Server
	var scheduler *asynq.Scheduler
	if cfg.RunMode == "bg" || cfg.RunMode == "all" {
		processor := tasks.NewTaskProcessor(cfg, compositeSender, notificationService, userService, emailTemplateService, deadlineScanner)
		var mux *asynq.ServeMux
		taskSrv, mux = tasks.SetupServer(cfg, processor)
		if err := taskSrv.Start(mux); err != nil {
			fatal("Failed to start background task server", err)
		}
		slog.Info("Background task server started")

		scheduler, err = tasks.NewScheduler(cfg)
		if err != nil {
			fatal("Failed to configure scheduler", err)
		}
		if err := scheduler.Start(); err != nil {
			fatal("Failed to start scheduler", err)
		}
		slog.Info("Deadline scan scheduled", "cron", cfg.DeadlineScanCron)
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received signal, shutting down gracefully", "signal", sig.String())
	case <-shutdownChan:
		slog.Info("Shutdown requested via Service API, shutting down gracefully")
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		slog.Error("Service API server shutdown error", "error", err)
	}
	if mainApiSrv != nil {
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			slog.Error("Main API server shutdown error", "error", err)
		}
	}
	if scheduler != nil {
		scheduler.Shutdown()
	}
	if taskSrv != nil {
		taskSrv.Shutdown()
	}

	wg.Wait()
	slog.Info("Server gracefully stopped")
}

func listen(wg *sync.WaitGroup, name string, srv *http.Server) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info(fmt.Sprintf("%s listening", name), "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(name+" ListenAndServe error", err)
		}
		slog.Info(fmt.Sprintf("%s server stopped", name))
	}()
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
