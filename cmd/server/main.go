package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	database "livecast/Database"
	"livecast/configs"
	"livecast/internal/audit"
	"livecast/internal/chat"
	"livecast/internal/security"
	"livecast/internal/stream"
	utils "livecast/pkg/utils"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	appConfig, err := configs.LoadConfig()
	if err != nil {
		utils.Init("info")
		utils.Logger.Fatalf("Failed to load configuration: %v", err)
	}
	utils.Init(appConfig.LogLevel)
	utils.Logger.Info("Starting livecast API server...")

	if err := appConfig.Validate(); err != nil {
		utils.Logger.Fatalf("Configuration validation failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = utils.CustomHTTPErrorHandler

	securityConfig := security.NewConfig(appConfig)
	security.SetupSecurityMiddleware(e, securityConfig, security.DefaultSecurityConfig())
	e.Use(security.LoggingMiddleware)

	tokens := security.NewTokenManager(securityConfig)

	// Stores
	var (
		streamStore     stream.StreamStore
		moderationStore chat.ModerationStore
		auditSink       audit.Sink
		postgresDB      *sql.DB
	)
	if appConfig.Database.Memory {
		utils.Logger.Warn("DB_MEMORY is set, state will not survive a restart")
		streamStore = stream.NewMemoryStore()
		moderationStore = chat.NewMemoryModerationStore()
	} else {
		postgresDB, err = database.GetPostgresDB(appConfig)
		if err != nil {
			utils.Logger.Fatalf("Failed to initialize database: %v", err)
		}
		defer postgresDB.Close()
		streamStore = stream.NewStreamStore(postgresDB)
		moderationStore = chat.NewPostgresModerationStore(postgresDB)
		auditSink = audit.NewPostgresSink(postgresDB)
	}

	streamService := stream.NewStreamService(streamStore, appConfig.Stream.HLSBaseURL)
	auditLogger := audit.NewAuditLogger(auditSink)

	// Cross-instance relay
	var (
		relay       *chat.Relay
		redisClient *redis.Client
	)
	if appConfig.Redis.URL != "" {
		options, err := redis.ParseURL(appConfig.Redis.URL)
		if err != nil {
			utils.Logger.Fatalf("Invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(options)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			utils.Logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		relay = chat.NewRelay(redisClient, appConfig.Redis.Channel, uuid.NewString())
		utils.Logger.Infof("Chat relay enabled on channel %s", appConfig.Redis.Channel)
	}

	chatServer := chat.NewServer(
		moderationStore,
		streamService,
		streamService,
		tokens,
		auditLogger,
		relay,
		chat.CoordinatorConfig{
			HistorySize:      appConfig.Chat.HistorySize,
			MaxMessageLength: appConfig.Chat.MaxMessageLength,
		},
		chat.ServerConfig{
			AllowedOrigins:    appConfig.Chat.AllowedOrigins,
			MessagesPerSecond: appConfig.Chat.MessagesPerSecond,
			MessageBurst:      appConfig.Chat.MessageBurst,
		},
	)
	streamService.AddListener(chatServer)
	go chatServer.Start(ctx)

	if relay != nil {
		go relay.RunPublisher(ctx)
		go func() {
			if err := relay.Subscribe(ctx, chatServer.HandleRelay); err != nil && ctx.Err() == nil {
				utils.Logger.Errorf("Chat relay subscription stopped: %v", err)
			}
		}()
	}

	if appConfig.Chat.TimeoutSweep > 0 {
		go runTimeoutSweep(ctx, chatServer.Coordinator(), appConfig.Chat.TimeoutSweep)
	}

	// Routes
	api := e.Group("/api/v1")
	stream.NewHandler(streamService, chatServer).RegisterRoutes(api, tokens, appConfig.Ingest.InternalToken)
	e.GET("/ws/chat", chatServer.ServeWS)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/health", func(c echo.Context) error {
		status := http.StatusOK
		checks := map[string]string{"database": "ok"}
		if err := streamService.CheckHealth(); err != nil {
			status = http.StatusServiceUnavailable
			checks["database"] = err.Error()
		}
		if redisClient != nil {
			checks["redis"] = "ok"
			if err := redisClient.Ping(c.Request().Context()).Err(); err != nil {
				status = http.StatusServiceUnavailable
				checks["redis"] = err.Error()
			}
		}
		return c.JSON(status, map[string]interface{}{
			"status":    http.StatusText(status),
			"checks":    checks,
			"timestamp": time.Now().UTC(),
		})
	})

	for _, route := range e.Routes() {
		utils.Logger.Debugf("Registered route: %s %s", route.Method, route.Path)
	}

	go func() {
		utils.Logger.Infof("HTTP server listening on %s", appConfig.ListenAddr())
		if err := e.Start(appConfig.ListenAddr()); err != nil && err != http.ErrServerClosed {
			utils.Logger.Errorf("HTTP server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	utils.Logger.Info("Shutdown signal received, starting graceful shutdown...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		utils.Logger.Errorf("HTTP server shutdown error: %v", err)
	}
	utils.Logger.Info("Server shutdown complete")
}

func runTimeoutSweep(ctx context.Context, coordinator *chat.Coordinator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := coordinator.SweepExpired(ctx)
			if err != nil {
				utils.Logger.Warnf("Timeout sweep failed: %v", err)
				continue
			}
			if removed > 0 {
				utils.Logger.Debugf("Removed %d expired chat timeouts", removed)
			}
		}
	}
}
