package main

import (
	"context"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"focalcrm/config"
	"focalcrm/engine"
	"focalcrm/middleware"
	"focalcrm/routes"
	"focalcrm/utils"
	"focalcrm/worker"
)

func main() {
	// Load configuration
	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Error reporting is optional; the engine runs fine without a DSN.
	if config.AppConfig.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		})
		if err != nil {
			log.Fatalf("Failed to initialize sentry: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	engineLogger := logrus.New()
	engineLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if config.AppConfig.Environment == "production" {
		engineLogger.SetFormatter(&logrus.JSONFormatter{})
	}

	// Dispatchers decrypt per-business credentials at send time.
	emailDispatcher := engine.NewSMTPDispatcher(utils.Decrypt)
	smsDispatcher := engine.NewSMSDispatcher(utils.Decrypt)

	ledger := engine.NewLedger(config.DB)
	processor := engine.NewStepProcessor(config.DB, ledger, emailDispatcher, smsDispatcher, engineLogger)
	evaluator := engine.NewTriggerEvaluator(config.DB, processor, engineLogger)
	scheduler := engine.NewDripScheduler(config.DB, ledger, emailDispatcher, engineLogger)
	enroller := engine.NewEnroller(config.DB, engineLogger)
	manager := engine.NewCampaignManager(config.DB, engineLogger)

	automationWorker := worker.NewAutomationWorker(evaluator, engineLogger, config.AppConfig.AutomationInterval)
	if config.AppConfig.Redis.Enabled {
		// Multiple instances share a tick lock so each automation pass
		// runs on exactly one of them.
		automationWorker.Redis = redis.NewClient(&redis.Options{
			Addr:     config.AppConfig.Redis.Address,
			Password: config.AppConfig.Redis.Password,
			DB:       config.AppConfig.Redis.DB,
		})
	}
	dripWorker := worker.NewDripWorker(scheduler, scheduler, engineLogger, config.AppConfig.DripInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go automationWorker.Start(ctx)
	go dripWorker.Start(ctx)

	// Create Fiber app
	app := fiber.New()
	app.Use(middleware.CORS())

	routes.SetupRoutes(app, config.DB, manager, enroller)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	log.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
