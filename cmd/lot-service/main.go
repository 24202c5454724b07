package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vehicle-auction/internal/config"
	"vehicle-auction/internal/domain"
	"vehicle-auction/internal/infrastructure/leader"
	"vehicle-auction/internal/infrastructure/mysql"
	"vehicle-auction/internal/infrastructure/redis"
	"vehicle-auction/internal/services"
	"vehicle-auction/pkg/clock"
	"vehicle-auction/pkg/logger"
	"vehicle-auction/pkg/utils"

	redisClient "github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type LotHandler struct {
	lotManager *services.LotManager
	log        logger.Logger
}

type CreateLotRequest struct {
	StartAt       time.Time `json:"start_at"`
	CloseAt       time.Time `json:"close_at"`
	StartingPrice int64     `json:"starting_price"`
}

type CreateLotResponse struct {
	LotID         string    `json:"lot_id"`
	StartAt       time.Time `json:"start_at"`
	CloseAt       time.Time `json:"close_at"`
	StartingPrice int64     `json:"starting_price"`
	State         string    `json:"state"`
}

func NewLotHandler(lotManager *services.LotManager, log logger.Logger) *LotHandler {
	return &LotHandler{
		lotManager: lotManager,
		log:        log,
	}
}

func (h *LotHandler) CreateLot(c echo.Context) error {
	var req CreateLotRequest
	if err := c.Bind(&req); err != nil {
		h.log.Error("Failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	if req.StartAt.Before(time.Now()) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Start time must be in the future"})
	}

	if !req.CloseAt.After(req.StartAt) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Close time must be after start time"})
	}

	if req.StartingPrice <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Starting price must be positive"})
	}

	lot, err := h.lotManager.CreateLot(c.Request().Context(), req.StartAt, req.CloseAt, req.StartingPrice)
	if err != nil {
		h.log.Error("Failed to create lot", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create lot"})
	}

	response := CreateLotResponse{
		LotID:         lot.ID,
		StartAt:       lot.StartAt,
		CloseAt:       lot.CloseAt,
		StartingPrice: lot.StartingPrice,
		State:         lot.State.String(),
	}

	h.log.Info("Lot created", "lot_id", lot.ID)
	return c.JSON(http.StatusCreated, response)
}

func (h *LotHandler) GetLot(c echo.Context) error {
	lotID := c.Param("id")

	lot, err := h.lotManager.GetLot(c.Request().Context(), lotID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "lot not found"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"lot_id":         lot.ID,
		"state":          lot.State.String(),
		"starting_price": lot.StartingPrice,
		"current_price":  lot.CurrentPrice,
		"current_leader": lot.LeaderBidderID,
		"bid_count":      lot.BidCount,
		"start_at":       lot.StartAt,
		"close_at":       lot.CloseAt,
	})
}

// TierHandler administers the shared increment schedule. Changes take effect
// for new bids as instances reload the schedule.
type TierHandler struct {
	tierStore *services.TierStore
	cfg       *config.Config
	log       logger.Logger
}

type UpdateTiersRequest struct {
	Tiers []domain.IncrementTier `json:"tiers"`
}

func NewTierHandler(tierStore *services.TierStore, cfg *config.Config, log logger.Logger) *TierHandler {
	return &TierHandler{
		tierStore: tierStore,
		cfg:       cfg,
		log:       log,
	}
}

func (h *TierHandler) GetTiers(c echo.Context) error {
	schedule, err := h.tierStore.LoadSchedule(c.Request().Context())
	if err != nil {
		h.log.Error("Failed to load increment schedule", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to load increment tiers"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"tiers":             schedule.Tiers(),
		"default_increment": schedule.DefaultIncrement(),
	})
}

func (h *TierHandler) UpdateTiers(c echo.Context) error {
	var req UpdateTiersRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	schedule, err := services.NewIncrementSchedule(req.Tiers, h.cfg.Bidding.DefaultIncrement)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if err := h.tierStore.SaveSchedule(c.Request().Context(), schedule); err != nil {
		h.log.Error("Failed to save increment schedule", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to save increment tiers"})
	}

	h.log.Info("Increment schedule updated", "tier_count", len(req.Tiers))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tiers":             schedule.Tiers(),
		"default_increment": schedule.DefaultIncrement(),
	})
}

func (h *LotHandler) CloseLot(c echo.Context) error {
	lotID := c.Param("id")

	if err := h.lotManager.CloseLot(c.Request().Context(), lotID); err != nil {
		h.log.Error("Failed to close lot", "lot_id", lotID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to close lot"})
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Lot closed"})
}

func main() {
	log := logger.New()
	log.Info("Starting Lot Service")

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
	schedulerRepo := mysql.NewMySQLSchedulerRepository(db)

	// Redis-based components
	stateCache := redis.NewStateCache(rdb)
	eventPublisher := redis.NewEventPublisher(rdb)

	// Leader election
	leaderElection := leader.NewRedisLeaderElection(rdb, cfg.Leader.TTL)

	sysClock := clock.NewSystem()

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

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			echo.GET, echo.HEAD, echo.PUT, echo.PATCH,
			echo.POST, echo.DELETE, echo.OPTIONS,
		},
	}))

	lotHandler := NewLotHandler(lotManager, log)
	tierHandler := NewTierHandler(services.NewTierStore(rdb, cfg.Bidding.DefaultIncrement), cfg, log)

	api := e.Group("/api/v1")
	api.POST("/lots", lotHandler.CreateLot)
	api.GET("/lots/:id", lotHandler.GetLot)
	api.POST("/lots/:id/close", lotHandler.CloseLot)
	api.GET("/increment-tiers", tierHandler.GetTiers)
	api.PUT("/increment-tiers", tierHandler.UpdateTiers)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   "lot-service",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Start background services
	go func() {
		if err := scheduler.Start(context.Background()); err != nil {
			log.Error("Failed to start scheduler", "error", err)
		}
	}()

	// Try to become lifecycle leader
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
	log.Info("Starting lot service server", "address", serverAddr)

	go func() {
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down lot service...")

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := scheduler.Stop(); err != nil {
		log.Error("Failed to stop scheduler", "error", err)
	}
	if err := leaderElection.ReleaseLeadership(ctx, cfg.Instance.ID); err != nil {
		log.Error("Failed to release leadership", "error", err)
	}

	if err := e.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Lot service stopped")
}
