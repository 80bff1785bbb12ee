package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/neetrino/ilona-chat/internal/config"
	"github.com/neetrino/ilona-chat/internal/database"
	"github.com/neetrino/ilona-chat/internal/handler"
	"github.com/neetrino/ilona-chat/internal/middleware"
	"github.com/neetrino/ilona-chat/internal/models"
	"github.com/neetrino/ilona-chat/internal/repository"
	"github.com/neetrino/ilona-chat/internal/router"
	"github.com/neetrino/ilona-chat/internal/service"
	cloud "github.com/neetrino/ilona-chat/pkg/cloudinary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Chat{}, &models.ChatParticipant{}, &models.Message{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	storage, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryFolder,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create cloudinary client: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	chatRepo := repository.NewChatRepository(db)
	groupDirectory := repository.NewGroupDirectory(db)
	userDirectory := repository.NewUserDirectory(db)

	accessService := service.NewChatAccessService(chatRepo, groupDirectory, logger)
	messageService := service.NewMessageService(chatRepo, accessService, userDirectory, storage, redisClient, natsConn, cfg.ChannelBase, cfg.ChatPageSize, validate, logger)
	presence := service.NewPresenceTracker()
	verifier := service.NewJWTVerifier(cfg.JWTSecret)
	gateway := service.NewChatGateway(chatRepo, accessService, messageService, presence, verifier, validate, logger)

	chatHandler := handler.NewChatHandler(messageService, accessService, gateway, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		IdleTimeout:  cfg.ConnectionIdleLimit,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ChatHandler:   chatHandler,
		JWTMiddleware: middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
