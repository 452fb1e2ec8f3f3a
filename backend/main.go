package main

import (
	"log"
	"time"

	"academix_backend/backend/config"
	"academix_backend/backend/middleware"
	"academix_backend/backend/routes"
	"academix_backend/backend/services"
	"academix_backend/backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	// Initialize database
	db, err := utils.InitDB(cfg)
	if err != nil {
		log.Fatalf("Error initializing database: %v", err)
	}

	// Initialize logger
	logger := utils.InitLogger()

	// Session engine
	store := services.NewGormStore(db)
	gate := services.NewEnrollmentGate(db)
	svc := services.NewSessionService(store, gate, logger)

	reaper := services.NewReaper(svc, store,
		time.Duration(cfg.ReaperIntervalSeconds)*time.Second,
		time.Duration(cfg.HeartbeatTimeoutSeconds)*time.Second,
		logger)
	reaper.Start()
	defer reaper.Stop()

	// Create Fiber app
	app := fiber.New()

	// Middleware
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(middleware.LoggingMiddleware(logger))

	// Setup routes
	routes.SetupRoutes(app, db, cfg, svc, store)

	// Start server
	log.Fatal(app.Listen(":" + cfg.ServerPort))
}
