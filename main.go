package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"boligmarked/market/internal/api"
	"boligmarked/market/internal/config"
	"boligmarked/market/internal/db"
	"boligmarked/market/internal/email"
	"boligmarked/market/internal/events"
	"boligmarked/market/internal/kvstore"
	"boligmarked/market/internal/services"
	"boligmarked/market/internal/storage"
	"boligmarked/market/internal/tasks"
	"boligmarked/market/internal/views"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (background tasks), 'all' (default)")

// openStore selects the key-value backend. The returned mongo client is nil
// unless the mongo backend is used.
func openStore(cfg *config.Config, redisClient *redis.Client) (kvstore.Store, *mongo.Client, error) {
	var store kvstore.Store
	var mongoClient *mongo.Client
	switch cfg.StoreBackend {
	case config.BackendMongo:
		client, database, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		store, mongoClient = kvstore.NewMongoStore(database), client
	case config.BackendMemory:
		log.Println("Warning: STORE_BACKEND=memory, data is not shared between processes and is lost on exit.")
		store = kvstore.NewMemoryStore()
	default:
		store = kvstore.NewRedisStore(redisClient)
	}
	if cfg.StoreKeyPrefix != "" {
		store = kvstore.Prefixed(store, cfg.StoreKeyPrefix)
	}
	return store, mongoClient, nil
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*runMode)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Redis carries the task queue and the change relay whatever the store backend.
	redisClient, err := kvstore.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := kvstore.DisconnectRedis(redisClient); err != nil {
			log.Printf("Error disconnecting from Redis: %v", err)
		}
	}()

	store, mongoClient, err := openStore(cfg, redisClient)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	if mongoClient != nil {
		defer func() {
			if err := db.DisconnectDB(mongoClient); err != nil {
				log.Printf("Error disconnecting from MongoDB: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus(uuid.NewString())
	svc := services.New(store, bus)

	if cfg.SeedAdminEmail != "" {
		if _, err := svc.Users.SeedAdmin(ctx, cfg.SeedAdminEmail, cfg.SeedAdminPassword, "Administrator"); err != nil {
			log.Printf("Warning: failed to seed admin %s: %v", cfg.SeedAdminEmail, err)
		}
	}

	s3Client, err := storage.NewS3Client(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize S3 client: %v", err)
	}
	s3StorageService := storage.NewS3Storage(cfg, s3Client)

	var emailSender email.Sender
	if cfg.MockServices {
		log.Println("MOCK_SERVICES enabled: Using Redis email sender.")
		emailSender = email.NewRedisSender(redisClient, cfg)
	} else {
		log.Println("MOCK_SERVICES disabled or not set: Using SMTP/Logging email sender.")
		emailSender = email.NewSMTPSender(cfg)
	}

	taskClient := tasks.NewClient(redisClient)
	defer taskClient.Close()

	var wg sync.WaitGroup

	relay := events.NewRedisRelay(bus, redisClient, cfg.EventsChannel)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("ERROR change relay stopped: %v", err)
		}
	}()

	shutdownChan := make(chan struct{}, 1)

	// Service API always runs.
	serviceRouter := api.SetupServiceRouter(cfg, redisClient, shutdownChan)
	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: serviceRouter,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		fmt.Printf("Service API listening on :%s\n", cfg.ServiceApiPort)
		if err := serviceSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Service API ListenAndServe error: %v", err)
		}
		fmt.Println("Service API server stopped.")
	}()

	var mainApiSrv *http.Server
	var backgroundTaskSrv *asynq.Server

	fmt.Printf("Starting application in '%s' mode...\n", cfg.RunMode)

	apiMode := func() {
		fmt.Println("Starting main API server...")
		builder := views.NewBuilder(svc)
		overview := builder.WatchAdminOverview(bus, cfg.AdminPollEvery)
		overview.Start(ctx)

		// Mutations happen here, so this process enqueues their notifications.
		dispatcher := tasks.NewDispatcher(bus, taskClient)
		wg.Add(1)
		go func() {
			defer wg.Done()
			dispatcher.Run(ctx)
		}()

		// Cancelled as soon as shutdown starts so event streams do not hold it open.
		routerCtx, routerCancel := context.WithCancel(ctx)
		mainApiRouter := api.SetupRouter(routerCtx, cfg, api.Deps{
			Services:   svc,
			Views:      builder,
			Overview:   overview,
			Storage:    s3StorageService,
			TaskClient: taskClient,
			Bus:        bus,
		})
		mainApiSrv = &http.Server{
			Addr:    ":" + cfg.ApiPort,
			Handler: mainApiRouter,
		}
		mainApiSrv.RegisterOnShutdown(routerCancel)
		wg.Add(1)
		go func() {
			defer wg.Done()
			fmt.Printf("Main API listening on :%s\n", cfg.ApiPort)
			if err := mainApiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Main API ListenAndServe error: %v", err)
			}
			fmt.Println("Main API server stopped.")
		}()
	}

	bgMode := func() {
		fmt.Println("Starting background worker...")
		taskProcessor := tasks.NewTaskProcessor(cfg, emailSender, s3StorageService, svc)
		var mux *asynq.ServeMux
		backgroundTaskSrv, mux = tasks.SetupServer(redisClient, taskProcessor)
		wg.Add(1)
		go func() {
			defer wg.Done()
			fmt.Println("Background task server starting...")
			if err := backgroundTaskSrv.Run(mux); err != nil {
				log.Fatalf("Background task server error: %v", err)
			}
			fmt.Println("Background task server stopped.")
		}()
	}

	switch cfg.RunMode {
	case "api":
		apiMode()
	case "bg":
		bgMode()
	case "all":
		apiMode()
		bgMode()
	default:
		log.Fatalf("Invalid run mode specified in config: %s.", cfg.RunMode)
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		fmt.Printf("\nReceived signal: %s. Shutting down gracefully...\n", sig)
	case <-shutdownChan:
		fmt.Println("\nShutdown requested via Service API. Shutting down gracefully...")
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	fmt.Println("Shutting down Service API server...")
	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		log.Printf("Service API server shutdown error: %v", err)
	}

	if mainApiSrv != nil {
		fmt.Println("Shutting down Main API server...")
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			log.Printf("Main API server shutdown error: %v", err)
		}
	}

	if backgroundTaskSrv != nil {
		fmt.Println("Shutting down Background Task server...")
		backgroundTaskSrv.Shutdown()
	}

	// Stops the relay, dispatcher, watcher and rate limiter cleanup.
	cancel()

	fmt.Println("Waiting for servers to stop...")
	wg.Wait()

	fmt.Println("Server gracefully stopped")
}
