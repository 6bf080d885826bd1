package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/yourusername/auth-api/internal/config"
	"github.com/yourusername/auth-api/internal/handler"
	"github.com/yourusername/auth-api/internal/middleware"
	pgRepo "github.com/yourusername/auth-api/internal/repository/postgres"
	redisRepo "github.com/yourusername/auth-api/internal/repository/redis"
	"github.com/yourusername/auth-api/internal/service"
	"github.com/yourusername/auth-api/pkg/auth"
	"github.com/yourusername/auth-api/pkg/database"
)

func main() {
	// Загружаем конфигурацию
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	log.Printf("Загрузка конфигурации из %s", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к PostgreSQL
	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString())
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		os.Exit(1)
	}

	// Применяем миграции
	if err := database.MigrateDB(db); err != nil {
		log.Printf("Failed to migrate database: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к Redis с использованием унифицированной конфигурации
	redisClient, err := database.NewUniversalRedisClient(cfg.Redis)
	if err != nil {
		log.Printf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	log.Println("Successfully connected to Redis")

	// Инициализируем репозитории
	challengeRepo := pgRepo.NewChallengeRepo(db)
	feedbackRepo := pgRepo.NewFeedbackRepo(db)

	cacheRepo, err := redisRepo.NewCacheRepo(redisClient)
	if err != nil {
		log.Printf("Failed to initialize CacheRepo: %v", err)
		os.Exit(1)
	}

	// Инициализируем канал доставки кодов
	var emailService service.EmailService
	if cfg.Email.Enabled {
		resendService, err := service.NewResendEmailService(cfg.Email.APIKey, cfg.Email.From)
		if err != nil {
			log.Printf("Failed to initialize email service: %v", err)
			os.Exit(1)
		}
		emailService = resendService
	} else {
		log.Println("Доставка email отключена, коды подтверждения будут только в логах")
		emailService = &service.NoopEmailService{}
	}

	// Сервис сессионных токенов
	sessionService, err := auth.NewSessionService(
		cfg.JWT.SigningSecret,
		time.Duration(cfg.JWT.ExpirationHrs)*time.Hour,
	)
	if err != nil {
		log.Printf("Failed to initialize SessionService: %v", err)
		os.Exit(1)
	}

	// Инициализируем сервисы
	issuerService, err := service.NewIssuerService(
		challengeRepo,
		cacheRepo,
		emailService,
		cfg.Verification.ChallengeTTL(),
		cfg.Verification.ResendCooldown(),
		cfg.Verification.MaxAttempts,
		cfg.Verification.CodePepper,
	)
	if err != nil {
		log.Printf("Failed to initialize IssuerService: %v", err)
		os.Exit(1)
	}

	verifierService, err := service.NewVerifierService(
		challengeRepo,
		sessionService,
		cfg.Verification.CodePepper,
		cfg.Verification.BypassIdentities,
	)
	if err != nil {
		log.Printf("Failed to initialize VerifierService: %v", err)
		os.Exit(1)
	}

	var feedbackService *service.FeedbackService
	if cfg.Feedback.OperatorEmail != "" {
		feedbackService, err = service.NewFeedbackService(feedbackRepo, emailService, cfg.Feedback.OperatorEmail)
		if err != nil {
			log.Printf("Failed to initialize FeedbackService: %v", err)
			os.Exit(1)
		}
	} else {
		log.Println("Адрес оператора не настроен, прием обратной связи отключен")
	}

	// Создаем контекст с отменой для корректного завершения работы горутин
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Фоновая очистка разрешенных challenge старше 24 часов
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		log.Println("Запуск механизма периодической очистки разрешенных challenge (каждый час)")

		for {
			select {
			case <-ticker.C:
				cutoff := time.Now().Add(-24 * time.Hour)
				if err := issuerService.Cleanup(cutoff); err != nil {
					log.Printf("Ошибка при очистке challenge: %v", err)
				}
			case <-ctx.Done():
				log.Println("Завершение работы горутины очистки challenge")
				return
			}
		}
	}()

	// Инициализируем обработчики
	authHandler := handler.NewAuthHandler(issuerService, verifierService)

	// Инициализируем middleware
	authMiddleware := middleware.NewAuthMiddleware(sessionService)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	isProduction := gin.Mode() == gin.ReleaseMode

	// Инициализируем роутер Gin
	router := gin.Default()

	// Настройка доверенных прокси для корректной работы c.ClientIP()
	// В production (GIN_MODE=release): не доверяем прокси (защита от IP spoofing)
	// При деплое за load balancer: добавьте IP балансировщика в список
	if isProduction {
		if err := router.SetTrustedProxies(nil); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	} else {
		if err := router.SetTrustedProxies([]string{"127.0.0.1", "::1"}); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	}

	// Настройка CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5173", "http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Проверка живости
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Настраиваем маршруты API
	api := router.Group("/api")
	{
		// Аутентификация
		authGroup := api.Group("/auth")
		authGroup.Use(rateLimiter.LimitByIP(middleware.DefaultAuthRateLimitConfig()))
		{
			strictLimit := rateLimiter.Limit(middleware.StrictVerifyRateLimitConfig())
			authGroup.POST("/challenge", strictLimit, authHandler.IssueChallenge)
			authGroup.POST("/verify", strictLimit, authHandler.VerifyChallenge)
		}

		// Сессия
		sessionGroup := api.Group("/session")
		sessionGroup.Use(authMiddleware.RequireSession())
		{
			sessionGroup.GET("/me", authHandler.Me)
		}

		// Обратная связь
		if feedbackService != nil {
			feedbackHandler := handler.NewFeedbackHandler(feedbackService)
			api.POST("/feedback",
				rateLimiter.LimitByIP(middleware.FeedbackRateLimitConfig()),
				feedbackHandler.Submit,
			)
		}
	}

	// Настраиваем HTTP сервер с тайм-аутами для защиты от slow client attacks
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Запускаем сервер в горутине
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Server started on port %s", cfg.Server.Port)

	// После получения сигнала SIGINT или SIGTERM вызываем cancel() для завершения горутин
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	cancel()

	// Создаем контекст с таймаутом для graceful shutdown сервера
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		os.Exit(1)
	}

	log.Println("Server exited properly")
}
