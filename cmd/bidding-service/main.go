package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vehicle-auction/internal/api/handlers"
	apimiddleware "vehicle-auction/internal/api/middleware"
	"vehicle-auction/internal/config"
	"vehicle-auction/internal/domain"
	"vehicle-auction/internal/infrastructure/leader"
	"vehicle-auction/internal/infrastructure/mysql"
	"vehicle-auction/internal/infrastructure/redis"
	"vehicle-auction/internal/infrastructure/websocket"
	"vehicle-auction/internal/services"
	"vehicle-auction/pkg/clock"
	"vehicle-auction/pkg/logger"
	"vehicle-auction/pkg/utils"

	redisClient "github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/gorilla/mux"
)

func main() {
	log := logger.New()
	log.Info("Starting Bidding Service")

	var cfg *config.Config
	var err error
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log.Info("Configuration loaded", "config", cfg.GetConfigString())

	// Initialize Redis
	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("Connected to Redis", "address", cfg.Redis.Address)

	// Initialize MySQL
	db := utils.InitializeMysql(ctx, cfg, log)
	defer db.Close()
	log.Info("Connected to MySQL")

	// Repositories
	lotRepo := mysql.NewMySQLLotRepository(db)
	ledger := mysql.NewMySQLBidLedger(db)
	schedulerRepo := mysql.NewMySQLSchedulerRepository(db)

	// Redis-based components
	stateCache := redis.NewStateCache(rdb)
	eventPublisher := redis.NewEventPublisher(rdb)
	eventSubscriber := redis.NewEventSubscriber(rdb, log)

	// Increment schedule, shared across instances via Redis
	tierStore := services.NewTierStore(rdb, cfg.Bidding.DefaultIncrement)
	schedule, err := tierStore.LoadSchedule(ctx)
	if err != nil {
		log.Error("Failed to load increment schedule", "error", err)
		os.Exit(1)
	}

	// The engine's repository: MySQL rows directly, or the Redis live store
	// with MySQL as mirror, per configuration.
	var engineRepo domain.LotRepository = lotRepo
	if cfg.Storage.Driver == "redis" {
		engineRepo = redis.NewLotStore(rdb, lotRepo)
		log.Info("Using Redis live lot store")
	}

	sysClock := clock.NewSystem()

	engine := services.NewBidAdmissionEngine(
		engineRepo,
		ledger,
		eventPublisher,
		schedule,
		sysClock,
		services.BidEngineOptions{
			ExtensionWindow: cfg.Bidding.ExtensionWindow,
			MaxAttempts:     cfg.Bidding.MaxAttempts,
			AllowSelfRaise:  cfg.Bidding.AllowSelfRaise,
		},
		log,
	)

	// Leader election (extension rescheduling is leader-gated)
	leaderElection := leader.NewRedisLeaderElection(rdb, cfg.Leader.TTL)

	lotManager := services.NewLotManager(
		lotRepo,
		stateCache,
		eventPublisher,
		nil, // scheduler set below
		leaderElection,
		sysClock,
		cfg.Instance.ID,
		log,
	)
	scheduler := services.NewCronLotScheduler(schedulerRepo, lotManager, log)
	lotManager.SetScheduler(scheduler)

	// WebSocket plumbing
	connManager := websocket.NewConnectionManager(log)
	notifier := websocket.NewNotifier(connManager)

	eventListener := services.NewEventListener(lotManager, connManager, notifier, notifier, log)

	wsHandler := websocket.NewWebSocketHandler(engine, lotRepo, connManager, sysClock, log)
	bidHandler := handlers.NewBidHandler(engine, lotRepo, ledger, log)

	// Routes
	router := mux.NewRouter()
	router.Use(apimiddleware.CORS)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/lots/{id}", bidHandler.GetLot).Methods("GET")
	api.HandleFunc("/lots/{id}/bids", bidHandler.PlaceBid).Methods("POST")
	api.HandleFunc("/lots/{id}/bids", bidHandler.GetBidHistory).Methods("GET")

	router.HandleFunc("/ws/lot/{lotID}", wsHandler.HandleConnection)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Background services
	listenerCtx, listenerCancel := context.WithCancel(context.Background())
	defer listenerCancel()
	go func() {
		if err := eventListener.Start(listenerCtx, eventSubscriber); err != nil && listenerCtx.Err() == nil {
			log.Error("Event listener stopped", "error", err)
		}
	}()

	go func() {
		for {
			became, err := leaderElection.BecomeLeader(context.Background(), cfg.Instance.ID)
			if err != nil {
				log.Error("Failed to attempt leadership", "error", err)
				time.Sleep(5 * time.Second)
				continue
			}
			if became {
				log.Info("Became lot lifecycle leader", "instance_id", cfg.Instance.ID)
			}
			time.Sleep(10 * time.Second)
		}
	}()

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Info("Starting bidding service server", "address", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down bidding service...")

	listenerCancel()

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := leaderElection.ReleaseLeadership(ctx, cfg.Instance.ID); err != nil {
		log.Error("Failed to release leadership", "error", err)
	}

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Bidding service stopped")
}
