package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cdermott7/onlygrass/handlers"
	"github.com/cdermott7/onlygrass/middleware"
	"github.com/cdermott7/onlygrass/models"
	"github.com/cdermott7/onlygrass/services"
	"github.com/cdermott7/onlygrass/utils"
	"github.com/cdermott7/onlygrass/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 32 * 1024 * 1024, // proof photos only, 32MB is plenty
	})

	// 🔐 GLOBAL: Only Gateway requests allowed (countdown SSE carries its own auth)
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
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-User-ID, X-Service-Token, X-Device-ID",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Println("⚠️  R2 not configured — proof photos stored under ./uploads")
		} else {
			log.Fatal("failed to initialize R2 client:", err)
		}
	}

	// TranslateError so the partial unique index surfaces as ErrDuplicatedKey
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Challenge{},
		&models.UserAchievement{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	store := services.NewGormStore(db)
	if err := store.EnsureIndexes(); err != nil {
		log.Fatal("failed to create challenge indexes:", err)
	}

	if err := utils.EnsureUploadDir(); err != nil {
		log.Fatal("failed to ensure upload dir:", err)
	}

	// --- Collaborators ---
	var validator services.PhotoValidator
	if visionURL := os.Getenv("GRASS_VISION_URL"); visionURL != "" {
		validator = services.NewGrassVisionClient(visionURL, os.Getenv("GRASS_VISION_TOKEN"))
	} else {
		log.Println("⚠️  GRASS_VISION_URL not set — using heuristic photo validator")
		validator = services.HeuristicValidator{}
	}

	discoveryURL := os.Getenv("PATCH_DISCOVERY_URL")
	if discoveryURL == "" {
		log.Fatal("PATCH_DISCOVERY_URL environment variable not set")
	}
	discovery := services.NewPatchDiscoveryClient(discoveryURL, os.Getenv("PATCH_DISCOVERY_TOKEN"))

	authServiceURL := os.Getenv("AUTH_SERVICE_URL")
	if authServiceURL == "" {
		log.Fatal("AUTH_SERVICE_URL environment variable not set")
	}
	authClient := services.NewAuthServiceClient(authServiceURL, os.Getenv("GRASS_SERVICE_TOKEN"))

	engine := services.NewChallengeService(store, validator, clockwork.NewRealClock())
	userService := services.NewUserService(store)

	// --- Profile mirror sync ---
	profileServiceURL := os.Getenv("PROFILE_SERVICE_URL")
	if profileServiceURL == "" {
		log.Fatal("PROFILE_SERVICE_URL environment variable not set")
	}
	syncWorker := workers.NewProfileSyncWorker(db, profileServiceURL, "/api/v1/public/profiles", os.Getenv("GRASS_SERVICE_TOKEN"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	syncWorker.Start(ctx)
	engine.StartExpirySweeper()

	handlers.SetupChallengeRoutes(app, engine, userService, authClient)
	handlers.SetupPatchRoutes(app, discovery)
	handlers.SetupUserRoutes(app, userService)

	app.Static("/uploads", "./uploads")

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Profile Sync Worker running")
	log.Println("✅ Expiry sweeper running (every 1m)")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
