package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"livecast/configs"
	"livecast/internal/rtmp"
	"livecast/internal/security"
	"livecast/pkg/ffmpeg"
	"livecast/pkg/hls"
	utils "livecast/pkg/utils"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const hlsSegmentSeconds = 2

func main() {
	_ = godotenv.Load()

	appConfig, err := configs.LoadConfig()
	if err != nil {
		utils.Init("info")
		utils.Logger.Fatalf("Failed to load configuration: %v", err)
	}
	utils.Init(appConfig.LogLevel)
	utils.Logger.Info("Starting livecast ingest...")

	if appConfig.Ingest.InternalToken == "" {
		utils.Logger.Fatal("INTERNAL_API_TOKEN is required")
	}
	if appConfig.RTMP.Port <= 0 {
		utils.Logger.Fatal("RTMP_PORT must be positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := rtmp.NewHTTPBackend(appConfig.Ingest.BackendURL, appConfig.Ingest.InternalToken, appConfig.Ingest.RequestTimeout)

	var (
		packager    rtmp.Packager
		hlsPackager *rtmp.HLSPackager
	)
	if appConfig.Stream.HLSPath != "" {
		manager := hls.NewManager(appConfig.Stream.HLSPath, hlsSegmentSeconds, appConfig.Stream.MaxSegments)
		inputBase := fmt.Sprintf("rtmp://127.0.0.1:%d/live", appConfig.RTMP.Port)
		hlsPackager = rtmp.NewHLSPackager(manager, ffmpeg.New(appConfig.FFmpeg.Path), inputBase)
		packager = hlsPackager
		utils.Logger.Infof("HLS output enabled under %s", appConfig.Stream.HLSPath)
	} else {
		utils.Logger.Warn("HLS_PATH is not set, streams will not be packaged for viewers")
	}

	bridge := rtmp.NewBridge(backend, packager, rtmp.BridgeConfig{
		PollAttempts:  appConfig.Ingest.PollAttempts,
		PollInterval:  appConfig.Ingest.PollInterval,
		NotifyTimeout: appConfig.Ingest.RequestTimeout,
	})

	rtmpServer := rtmp.NewServer(rtmp.Config{
		Port:             appConfig.RTMP.Port,
		HandshakeTimeout: appConfig.RTMP.HandshakeTimeout,
		MaxConnections:   appConfig.RTMP.MaxConnections,
	}, bridge)
	if err := rtmpServer.Listen(); err != nil {
		utils.Logger.Fatalf("Failed to start RTMP server: %v", err)
	}

	rtmpDone := make(chan struct{})
	go func() {
		defer close(rtmpDone)
		if err := rtmpServer.Serve(ctx); err != nil {
			utils.Logger.Errorf("RTMP server error: %v", err)
			stop()
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = utils.CustomHTTPErrorHandler
	security.SetupSecurityMiddleware(e, security.NewConfig(appConfig), security.DefaultSecurityConfig())
	e.Use(security.LoggingMiddleware)

	rtmp.NewHandler(rtmpServer).RegisterRoutes(e.Group("/api/v1/rtmp", security.InternalTokenMiddleware(appConfig.Ingest.InternalToken)))
	if hlsPackager != nil && strings.HasPrefix(appConfig.Stream.HLSBaseURL, "/") {
		e.Static(appConfig.Stream.HLSBaseURL, appConfig.Stream.HLSPath)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "healthy",
			"rtmp":      rtmpServer.GetStats(),
			"timestamp": time.Now().UTC(),
		})
	})

	go func() {
		utils.Logger.Infof("Ingest HTTP server listening on %s", appConfig.IngestListenAddr())
		if err := e.Start(appConfig.IngestListenAddr()); err != nil && err != http.ErrServerClosed {
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

	select {
	case <-rtmpDone:
	case <-shutdownCtx.Done():
		utils.Logger.Warn("RTMP connections did not drain before the deadline")
	}
	if hlsPackager != nil {
		hlsPackager.Close()
	}
	utils.Logger.Info("Ingest shutdown complete")
}
