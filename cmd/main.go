package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"soulchart-share-service/internal/config"
	"soulchart-share-service/internal/database/mongo"
	"soulchart-share-service/internal/database/redis"
	"soulchart-share-service/internal/event"
	"soulchart-share-service/internal/handlers"
	"soulchart-share-service/internal/middleware"
	"soulchart-share-service/internal/repository"
	"soulchart-share-service/internal/service"
	"soulchart-share-service/pkg/discovery"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
)

func setupLogging() (*os.File, error) {
	logDir := filepath.Join("/soulchart", "log", "share_service")
	err := os.MkdirAll(logDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	currentTime := time.Now()
	logFileName := fmt.Sprintf("log_%s.log", currentTime.Format("2006-01-02"))
	logFile := filepath.Join(logDir, logFileName)

	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %v", err)
	}

	log.SetOutput(file)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	return file, nil
}

func main() {
	cfg := config.ServiceConfig

	logFile, err := setupLogging()
	if err != nil {
		log.Printf("Warning: Failed to set up logging: %v", err)
	} else {
		defer logFile.Close()
	}

	// Initialize MongoDB
	if err := mongo.InitMongoDB(&cfg.MongoDB); err != nil {
		log.Fatalf("Failed to initialize MongoDB: %v", err)
	}
	defer mongo.CloseDB()

	// Initialize repositories
	permissionRepo := repository.NewPermissionRepository()
	chartRepo := repository.NewChartRepository()

	// Create database indexes
	indexCtx, indexCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := permissionRepo.CreateIndexes(indexCtx); err != nil {
		log.Printf("Warning: Failed to create database indexes: %v", err)
	} else {
		log.Println("Database indexes created successfully")
	}
	indexCancel()

	// Initialize Redis; the service degrades gracefully without it (no chart
	// cache, rate limiter fails open).
	var chartCache service.ChartCache
	var rateCounter middleware.RateLimitCounter
	if err := redis.InitRedis(&cfg.Redis); err != nil {
		log.Printf("Warning: Failed to initialize Redis: %v", err)
	} else {
		defer redis.CloseRedis()
		redisRepo := repository.NewRedisRepo()
		chartCache = redisRepo
		rateCounter = redisRepo
	}

	// Initialize event publisher
	var eventPublisher event.Publisher
	publisher, err := event.NewEventPublisher(cfg.RabbitMQ.URI)
	if err != nil {
		log.Printf("Warning: Failed to initialize event publisher: %v", err)
	} else {
		eventPublisher = publisher
		defer publisher.Close()
	}

	// Initialize services
	permissionService := service.NewPermissionService(permissionRepo, chartRepo, chartCache, eventPublisher, cfg.Share)

	// Initialize service discovery
	serviceRegistry, err := discovery.NewServiceRegistry(
		cfg.Consul.ConsulAddress,
		cfg.Server.ServiceName,
		cfg.Server.ServiceID,
		cfg.Server.Port,
	)
	if err != nil {
		log.Printf("Warning: Failed to initialize service discovery: %v", err)
	} else {
		if err := serviceRegistry.Register(); err != nil {
			log.Printf("Warning: Failed to register with Consul: %v", err)
		} else {
			log.Println("Successfully registered with Consul")
			defer serviceRegistry.Deregister()
		}
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"*"},
	}))

	app.Get("/health", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusOK).SendString("Soul Chart Share Service is healthy")
	})

	// Initialize and register handlers
	shareHandler := handlers.NewShareHandler(permissionService)
	shareHandler.RegisterRoutes(app, middleware.RateLimit(rateCounter, cfg.Share.RateLimitRequests, cfg.Share.RateLimitWindow))

	shutdownChan := make(chan os.Signal, 1)
	doneChan := make(chan bool, 1)

	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := app.Listen(fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)); err != nil {
			log.Fatalf("Error starting server: %v", err)
		}
		doneChan <- true
	}()

	<-shutdownChan
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	<-doneChan
	log.Println("Server shutdown complete")
}
