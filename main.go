package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"dgt-economy-system/handlers"
	"dgt-economy-system/middleware"
	"dgt-economy-system/models"
	"dgt-economy-system/services"
	"dgt-economy-system/utils"
	"dgt-economy-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // 1MB — JSON only, no uploads here
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Account{},
		&models.Transaction{},
		&models.Vault{},
		&models.CooldownState{},
		&models.UserProgress{},
		&models.XPActionLimit{},
		&models.MissionTemplate{},
		&models.ActiveMission{},
		&models.MissionProgress{},
		&models.MissionStreak{},
		&models.MissionHistory{},
		&models.AchievementEvent{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	metrics := utils.NewEconomyMetrics()
	configService := services.NewConfigService()
	notifier := services.NewHTTPNotifier()

	ledgerService := services.NewLedgerService(db, metrics)
	if err := ledgerService.EnsureSystemAccounts(); err != nil {
		log.Fatal("failed to ensure system accounts:", err)
	}

	cooldownService := services.NewCooldownService(db, configService, metrics)
	vaultService := services.NewVaultService(db, ledgerService, notifier)
	progressionService := services.NewProgressionService(db, ledgerService, configService, metrics, notifier)
	distributionService := services.NewDistributionService(db, ledgerService, cooldownService, configService, metrics, notifier)
	missionService := services.NewMissionService(db, ledgerService, progressionService, metrics, notifier)

	achievementWorker := workers.NewAchievementWorker(db, missionService, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Println("Starting Achievement Worker...")
		if err := achievementWorker.Start(ctx); err != nil {
			log.Printf("Achievement worker error: %v", err)
		}
	}()

	scheduler, err := services.StartEconomyScheduler(vaultService, missionService, achievementWorker.ReprocessFailed)
	if err != nil {
		log.Fatal("failed to start scheduler:", err)
	}
	defer scheduler.Stop()

	// ✅ Setup routes — enforced Gateway auth + consistent /s/ prefix
	handlers.SetupWalletRoutes(app, ledgerService, progressionService)
	handlers.SetupEconomyRoutes(app, distributionService, cooldownService, configService)
	handlers.SetupVaultRoutes(app, vaultService)
	handlers.SetupProgressionRoutes(app, progressionService)
	handlers.SetupMissionRoutes(app, missionService)

	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9102"
	}
	utils.ServeMetrics(metricsAddr, utils.NewLogger("metrics").Logger)

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":5300"
	}

	go func() {
		if err := app.Listen(listenAddr); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on %s", listenAddr)
	log.Println("✅ Achievement Worker running")
	log.Println("✅ Economy scheduler running (vault sweep, mission expiry, event requeue)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)
	log.Printf("✅ Metrics on %s/metrics", metricsAddr)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
