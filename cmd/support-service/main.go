package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/time/rate"

	"retail-ops/support-chat/internal/assistant"
	"retail-ops/support-chat/internal/config"
	"retail-ops/support-chat/internal/handler"
	"retail-ops/support-chat/internal/repository"
	"retail-ops/support-chat/internal/services"
	"retail-ops/support-chat/internal/utils"
)

func main() {
	// 1. Базовый контекст + менеджер завершения
	ctx, shutdownManager := utils.NewShutdownManager(context.Background())
	shutdownManager.StartListening()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// 2. Инициализация MongoDB
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	db := mongoClient.Database(cfg.MongoDB)

	shutdownManager.Register(func(ctx context.Context) error {
		log.Println("[SHUTDOWN] Closing MongoDB connection...")
		return mongoClient.Disconnect(ctx)
	})

	// 3. Инициализация Redis
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal("Invalid Redis URL:", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to ping Redis:", err)
	}

	shutdownManager.Register(func(ctx context.Context) error {
		log.Println("[SHUTDOWN] Closing Redis connection...")
		return rdb.Close()
	})

	// 4. Ассистент: OpenAI при наличии ключа, иначе шаблонные ответы
	var responder assistant.Responder = assistant.CannedResponder{}
	if cfg.OpenAIKey != "" {
		responder = assistant.NewOpenAIResponder(cfg.OpenAIKey, cfg.OpenAIModel)
	} else {
		log.Println("[AI] OPENAI_API_KEY not set, using canned replies")
	}

	// 5. Репозитории и сервисы
	supportService := services.NewSupportService(
		repository.NewSessionRepository(db),
		repository.NewMessageRepository(db),
		repository.NewPreferenceRepository(db),
		services.NewRedisQueueCache(rdb, cfg.QueueCacheTTL),
		services.NewRedisPublisher(rdb),
		services.NewRedisIdempotency(rdb, 24*time.Hour),
		responder,
	)
	supportHandler := handler.NewSupportHandler(supportService)

	// 6. Настройка роутера
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	jwtUtil := utils.NewJWTUtil(cfg.JWTSecret)
	sendLimiter := utils.NewUserRateLimiter(rate.Every(time.Minute/time.Duration(cfg.SendRatePerMinute)), cfg.SendRatePerMinute)
	supportHandler.RegisterRoutes(router, utils.AuthMiddleware(jwtUtil), sendLimiter.Middleware())

	// 7. Запуск сервера
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		log.Printf("Support service running on :%s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	shutdownManager.Register(func(ctx context.Context) error {
		log.Println("[SHUTDOWN] Shutting down HTTP server...")
		return server.Shutdown(ctx)
	})

	// Всё остальное делает shutdownManager
	<-shutdownManager.Done()
}
