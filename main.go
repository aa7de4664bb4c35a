package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"pos-ledger/internal/config"
	"pos-ledger/internal/handlers"
	"pos-ledger/internal/kafka"
	"pos-ledger/internal/live"
	"pos-ledger/internal/logger"
	"pos-ledger/internal/middleware"
	"pos-ledger/internal/models"
	"pos-ledger/internal/redis"
	"pos-ledger/internal/services"
	"pos-ledger/internal/storage"
)

var log *logger.Logger

func main() {
	log = logger.NewLogger()
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("ENV", "Error loading .env file, using environment variables")
	}

	log.LogProcess("STARTUP", "Session ledger starting up...")

	cfg := config.Load()
	log.Info("CONFIG", "Configuration loaded successfully")

	store := openStore(cfg)
	defer store.Close()

	hub := live.NewHub(log)
	defer hub.Close()

	log.LogProcess("KAFKA", "Initializing Kafka producer...")
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.MockMode, log)
	if err != nil {
		log.Fatal("KAFKA", "Failed to create Kafka producer: "+err.Error())
	}
	defer producer.Close()

	ctx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	if !cfg.Kafka.MockMode {
		consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID+"-"+cfg.Ledger.InstanceID,
			cfg.Kafka.Topic, cfg.Ledger.InstanceID, log)
		if err != nil {
			log.Fatal("KAFKA", "Failed to create Kafka consumer: "+err.Error())
		}
		defer consumer.Close()

		go func() {
			log.LogKafka("START", cfg.Kafka.Topic, "Relaying remote session events to live subscribers")
			err := consumer.ConsumeEvents(ctx, func(event *models.SessionEvent) error {
				hub.Publish(event)
				return nil
			})
			if err != nil && err != context.Canceled {
				log.Error("KAFKA", "Consumer error: "+err.Error())
			}
		}()
	}

	var guard services.SubmitGuard
	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("REDIS", "Redis unreachable, submit guard disabled: "+err.Error())
		} else {
			guard = redis.NewSubmitGuard(client, cfg.Redis.SubmitTTL)
			log.LogProcess("SERVICE", "Redis submit guard enabled")
		}
	}

	ledger := services.NewLedgerService(store, producer, hub, guard, cfg.Ledger.InstanceID, log)
	shifts := services.NewShiftService(store, log)

	var checkout *services.CheckoutService
	if cfg.Stripe.SecretKey == "" {
		log.Warn("STRIPE", "STRIPE_SECRET_KEY not set, card payments disabled")
	} else {
		stripeService, err := services.NewStripeService(cfg.Stripe.SecretKey, cfg.Stripe.Currency, log)
		if err != nil {
			log.Fatal("STRIPE", "Failed to initialize Stripe service: "+err.Error())
		}
		checkout = services.NewCheckoutService(ledger, stripeService, log)
	}
	log.LogProcess("SERVICE", "Ledger services initialized")

	h := &handlers.Handlers{
		Session: handlers.NewSessionHandler(ledger),
		Payment: handlers.NewPaymentHandler(ledger),
		Stripe:  handlers.NewStripeHandler(checkout),
		Report:  handlers.NewReportHandler(shifts),
		Stream:  handlers.NewStreamHandler(ledger, hub),
	}

	router := setupRouter(cfg, store, h)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.LogProcess("SERVER", "Starting HTTP server on port "+cfg.Server.Port)
		log.Info("STARTUP", "Health check available at: http://localhost"+cfg.Server.Port+"/health")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", "Server failed to start: "+err.Error())
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Warn("SHUTDOWN", "Received shutdown signal, initiating graceful shutdown...")
	stopConsumer()
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("SHUTDOWN", "Server forced to shutdown: "+err.Error())
	}

	log.Info("SHUTDOWN", "Session ledger shutdown completed")
}

func openStore(cfg *config.Config) storage.Store {
	switch cfg.Ledger.Store {
	case "mysql":
		log.LogProcess("DATABASE", "Initializing MySQL database...")
		store, err := storage.NewMySQLStore(cfg.Database, log)
		if err != nil {
			log.Fatal("DATABASE", "Failed to initialize MySQL: "+err.Error())
		}
		return store
	case "memory":
		log.Warn("DATABASE", "Using in-memory store, data is lost on restart")
		return storage.NewInMemoryStore()
	default:
		log.Fatal("CONFIG", "Unknown LEDGER_STORE: "+cfg.Ledger.Store)
		return nil
	}
}

func setupRouter(cfg *config.Config, store storage.Store, h *handlers.Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.EnhancedLogger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.CORS))
	router.Use(middleware.SecurityHeaders(log))
	router.Use(middleware.RateLimit(cfg.RateLimit, log))

	router.GET("/health", func(c *gin.Context) {
		status, code := "healthy", http.StatusOK
		if err := store.HealthCheck(c.Request.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status,
			"timestamp": time.Now().UTC(),
			"service":   "pos-ledger",
			"instance":  cfg.Ledger.InstanceID,
		})
	})

	h.Register(router.Group("/api/v1"))

	log.LogProcess("ROUTER", "All routes registered successfully")
	return router
}
