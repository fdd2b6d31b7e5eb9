package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat_backend/internal/config"
	"chat_backend/internal/handler"
	"chat_backend/internal/middleware"
	"chat_backend/internal/realtime"
	"chat_backend/internal/repository"
	"chat_backend/internal/service"
	"chat_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger := logger.New(cfg.Log.Level)

	// Подключение к PostgreSQL
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", "error", err)
	}
	defer dbPool.Close()

	// Проверка подключения к БД
	if err := dbPool.Ping(context.Background()); err != nil {
		appLogger.Fatal("Failed to ping database", "error", err)
	}
	appLogger.Info("Database connection established")

	// Подключение к Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// Проверка подключения к Redis
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		appLogger.Fatal("Failed to connect to Redis", "error", err)
	}
	appLogger.Info("Redis connection established")

	// Инициализация репозиториев
	repos := repository.NewRepositories(dbPool, rdb, appLogger)

	// Реестр живых websocket-соединений
	hub := realtime.NewHub(appLogger)

	// Инициализация сервисов
	services := service.NewServices(repos, cfg, hub, appLogger)

	// Инициализация middleware
	authMiddleware := middleware.NewAuthMiddleware(services.Auth, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, appLogger)

	// Инициализация handlers
	handlers := handler.NewHandlers(services, hub, cfg, appLogger)

	// Настройка роутера
	router := setupRouter(handlers, authMiddleware, rateLimitMiddleware, cfg)

	// Запуск HTTP сервера
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		appLogger.Info("Starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Ожидание сигнала для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Сначала закрываем websocket-соединения, потом HTTP
	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Fatal("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server exited")
}

func setupRouter(
	handlers *handler.Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.ErrorHandler())

	// Health check
	router.GET("/health", handlers.Health.Check)

	// API v1
	v1 := router.Group("/api/v1")
	{
		// Публичные endpoints
		public := v1.Group("/auth")
		{
			public.POST("/register", rateLimitMiddleware.Limit(), handlers.Auth.Register)
			public.POST("/login", rateLimitMiddleware.Limit(), handlers.Auth.Login)
			public.POST("/refresh", handlers.Auth.RefreshToken)
			public.POST("/logout", handlers.Auth.Logout)
		}

		// Защищенные endpoints
		protected := v1.Group("")
		protected.Use(authMiddleware.RequireAuth())
		{
			// Беседы
			conversations := protected.Group("/conversations")
			{
				conversations.GET("", handlers.Conversation.GetConversations)
				conversations.POST("/private", handlers.Conversation.CheckOrCreatePrivate)
				conversations.POST("/group", handlers.Conversation.CreateGroup)
				conversations.PUT("/:id", handlers.Conversation.UpdateGroup)
				conversations.POST("/:id/members", handlers.Conversation.AddMembers)
				conversations.DELETE("/:id/members/:userId", handlers.Conversation.RemoveMember)
				conversations.PUT("/:id/members/:userId/role", handlers.Conversation.UpdateMemberRole)
				conversations.POST("/:id/mute", handlers.Conversation.ToggleMute)
				conversations.POST("/:id/leave", handlers.Conversation.Leave)

				// Сообщения беседы
				conversations.GET("/:id/messages", handlers.Message.GetMessages)
				conversations.POST("/:id/messages", rateLimitMiddleware.Limit(), handlers.Message.SendMessage)
			}

			// Операции над отдельными сообщениями
			messages := protected.Group("/messages")
			{
				messages.GET("/search", handlers.Message.SearchMessages)
				messages.PUT("/:messageId", handlers.Message.EditMessage)
				messages.DELETE("/:messageId", handlers.Message.DeleteMessage)
				messages.POST("/:messageId/reactions", handlers.Message.AddReaction)
				messages.POST("/:messageId/read", handlers.Message.MarkAsRead)
			}
		}
	}

	// WebSocket endpoint, токен передается через query
	router.GET("/ws", handlers.WebSocket.Handle)

	return router
}
