package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"direct-chat/internal/chat"
	"direct-chat/internal/config"
	"direct-chat/internal/db"
	"direct-chat/internal/feed"
	apihttp "direct-chat/internal/http"
	"direct-chat/internal/repository"
	"direct-chat/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	if cfg.DBAutoMigrate {
		if err := db.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
	}

	roomRepo := repository.NewPgRoomRepository(pool)
	messageRepo := repository.NewPgMessageRepository(pool)

	var notifier feed.Notifier = feed.NewLocalNotifier()
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-process notifier", zap.Error(err))
		} else {
			notifier = feed.NewRedisNotifier(redisClient, logger)
		}
		cancel()
	}

	roomSvc := service.NewRoomService(logger, roomRepo)
	messageSvc := service.NewMessageService(logger, roomSvc, messageRepo, notifier, cfg.FeedPublishTimeout())
	dispatcher := feed.NewDispatcher(logger, messageSvc, notifier)
	defer dispatcher.Close()
	manager := chat.NewManager(logger, roomSvc, messageSvc, dispatcher)
	defer manager.CloseAll()

	if cfg.JWTSecret == "" {
		logger.Warn("jwt secret not configured")
	}
	jwtSvc := service.NewJWTService(cfg.JWTSecret, cfg.JWTIssuer, 0)

	chatHandler := apihttp.NewChatHandler(logger, roomSvc, messageSvc)
	sessionHandler := apihttp.NewSessionHandler(logger, manager, cfg.WSAllowedOrigins)
	router := apihttp.NewRouter(logger, jwtSvc, chatHandler, sessionHandler, pool)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Los sockets secuestrados no los cierra Shutdown.
		manager.CloseAll()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}
