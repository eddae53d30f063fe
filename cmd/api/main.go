package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"FleetRiskAPI/internal/config"
	"FleetRiskAPI/internal/database"
	"FleetRiskAPI/internal/events"
	"FleetRiskAPI/internal/handler"
	"FleetRiskAPI/internal/lock"
	"FleetRiskAPI/internal/logger"
	"FleetRiskAPI/internal/metrics"
	"FleetRiskAPI/internal/mqtt"
	"FleetRiskAPI/internal/notification"
	"FleetRiskAPI/internal/repository"
	"FleetRiskAPI/internal/risk"
	"FleetRiskAPI/internal/server"
	"FleetRiskAPI/internal/service"
	"FleetRiskAPI/internal/websocket"
)

func main() {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		// Fallback logger since main logger isn't ready
		panic("Failed to load configuration: " + err.Error())
	}

	// 2. Initialize Logger
	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Mode:        cfg.Logging.Mode,
		LogFilePath: cfg.Logging.FilePath,
		UseColors:   cfg.Logging.UseColors,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer log.Close()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Configuration validation failed: %v", err)
	}

	cfg.Print()
	log.Info("Starting Fleet Risk Engine")

	ctx := context.Background()

	// 3. Asset lock
	var locker lock.Locker
	if cfg.Redis.Addr != "" {
		redisLocker, err := lock.NewRedisLocker(lock.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.LockTTL,
		}, log.With("lock"))
		if err != nil {
			log.Fatal("Failed to connect to Redis: %v", err)
		}
		defer redisLocker.Close()
		locker = redisLocker
		log.Info("Using Redis asset locks at %s", cfg.Redis.Addr)
	} else {
		locker = lock.NewKeyedMutex()
		log.Warn("REDIS_ADDR not set, asset locks are process-local")
	}

	// 4. Storage
	var (
		ledger     repository.ILedger
		recipients repository.IRecipientRepository
	)
	switch cfg.Storage.Backend {
	case config.StoragePostgres:
		db, err := database.New(&cfg.Database)
		if err != nil {
			log.Fatal("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.Health(ctx); err != nil {
			log.Fatal("Database health check failed: %v", err)
		}
		if err := db.Migrate(ctx); err != nil {
			log.Fatal("Database migration failed: %v", err)
		}
		log.Info("Database connected and migrated")

		ledger = repository.NewPostgresLedger(db.DB, locker, cfg.Risk.LedgerTimeout)
		recipients = repository.NewRecipientRepository(db.DB)
	default:
		log.Warn("Using in-memory storage, data is lost on restart")
		ledger = repository.NewMemoryLedger(locker)
		recipients = repository.NewMemoryRecipientRepository()
	}

	m := metrics.New()

	// 5. WebSocket hub
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	hub := websocket.NewHub(log.With("ws"))
	go hub.Run(hubCtx)

	// 6. Notification channels
	var channels []notification.Channel
	if cfg.Notification.InAppEnabled {
		channels = append(channels, notification.NewInAppChannel(hub))
	}
	if cfg.Notification.EmailURL != "" {
		email, err := notification.NewEmailChannel(cfg.Notification.EmailURL)
		if err != nil {
			log.Fatal("Invalid email notification URL: %v", err)
		}
		channels = append(channels, email)
	}
	if cfg.Notification.ChatURL != "" {
		chat, err := notification.NewChatChannel(cfg.Notification.ChatURL)
		if err != nil {
			log.Fatal("Invalid chat notification URL: %v", err)
		}
		channels = append(channels, chat)
	}
	registry := notification.NewRegistry(channels...)
	log.Info("Notification channels enabled: %v", registry.Names())

	// 7. Failure model
	var model risk.ModelClient
	if cfg.Model.Endpoint != "" {
		model = risk.NewHTTPModelClient(cfg.Model.Endpoint, cfg.Model.APIKey, cfg.Model.Version,
			&http.Client{Timeout: cfg.Risk.ScorerTimeout})
	} else {
		model = risk.HeuristicModel{Version: cfg.Model.Version}
		log.Warn("MODEL_ENDPOINT not set, using heuristic model %s", cfg.Model.Version)
	}
	scorer := risk.NewScorer(model, cfg.Risk.ScorerTimeout, cfg.Risk.MinConfidence)

	// 8. MQTT Client
	var (
		mqttClient *mqtt.Client
		broker     handler.ConnectionChecker
	)
	sinks := []events.Publisher{events.NewHubPublisher(hub)}
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.NewClient(mqtt.ClientConfig{
			MQTT:   &cfg.MQTT,
			Logger: log.With("mqtt"),
		})
		if err != nil {
			log.Fatal("Failed to create MQTT client: %v", err)
		}
		defer func(mqttClient *mqtt.Client) {
			err := mqttClient.Disconnect()
			if err != nil {
				log.Error("Failed to disconnect MQTT: %v", err)
			}
		}(mqttClient)

		if err := mqttClient.Connect(); err != nil {
			log.Fatal("Failed to connect to MQTT broker: %v", err)
		}
		if err := mqttClient.WaitForConnection(cfg.MQTT.ConnectTimeout); err != nil {
			log.Fatal("MQTT broker not ready: %v", err)
		}
		broker = mqttClient
		sinks = append(sinks, mqttClient)
	}
	publisher := events.NewFanout(log.With("events"), sinks...)

	// 9. Initialize Services
	policy := service.NewAlertingPolicy(ledger, service.PolicyOptions{
		Attempts: cfg.Risk.AlertWriteAttempts,
		Backoff:  cfg.Risk.AlertRetryBackoff,
	}, m, log)
	dispatcher := service.NewDispatcher(ledger, recipients, registry, service.DispatcherOptions{
		ChannelTimeout: cfg.Risk.ChannelTimeout,
		Concurrency:    cfg.Notification.DispatchConcurrency,
	}, m, log)
	predictionService := service.NewPredictionService(scorer, ledger, policy, dispatcher, publisher, m, log)
	alertService := service.NewAlertService(ledger, recipients, dispatcher, registry.Names, publisher, log)

	sweeper := service.NewPendingSweeper(ledger, predictionService,
		cfg.Risk.PendingSweepInterval, cfg.Risk.PendingSweepBatch, m, log)
	sweeper.Start()
	defer sweeper.Shutdown()

	// 10. MQTT Subscriptions
	if mqttClient != nil {
		if err := mqttClient.SubscribeAssets(cfg.MQTT.FeaturesTopic, predictionService.FeatureHandler()); err != nil {
			log.Fatal("Failed to subscribe to feature topic: %v", err)
		}
		log.Info("MQTT subscriptions active")
	}

	// 11. Initialize Handlers
	riskHandler := handler.NewRiskHandler(predictionService, log.With("risk"))
	alertHandler := handler.NewAlertHandler(alertService, log.With("alerts"))
	recipientHandler := handler.NewRecipientHandler(recipients, log.With("recipients"))
	healthHandler := handler.NewHealthHandler(ledger, locker, broker, log.With("health"))

	// 12. Start HTTP Server
	srv := server.New(cfg, m, log)
	srv.RegisterHandlers(riskHandler, alertHandler, recipientHandler, healthHandler)
	srv.RegisterWebSocket(hub)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal("Server failed: %v", err)
		}
	}()

	log.Info("API server ready on http://%s:%d", cfg.Server.Host, cfg.Server.Port)

	// 13. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Warn("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error: %v", err)
	}

	log.Info("Shutdown complete")
}
