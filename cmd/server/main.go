// Package main runs the watch-party HTTP server with WebSocket session
// coordination and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/couchparty/backend/config"
	"github.com/couchparty/backend/internal/catalog"
	"github.com/couchparty/backend/internal/dyndns"
	"github.com/couchparty/backend/internal/media"
	"github.com/couchparty/backend/internal/middleware"
	"github.com/couchparty/backend/internal/netinfo"
	"github.com/couchparty/backend/internal/profile"
	"github.com/couchparty/backend/internal/realtime"
	"github.com/couchparty/backend/internal/session"
	"github.com/couchparty/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	for _, dir := range []string{cfg.Media.VideoDir, cfg.Media.FilesDir, cfg.Media.CacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal("create directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	hub := realtime.NewHub(logger)
	coordinator := session.NewCoordinator(hub, logger, session.Options{
		CallTimeout:     time.Duration(cfg.Session.CallTimeoutSec) * time.Second,
		OpenVideoSelect: cfg.Session.OpenVideoSelect,
	})

	catalogHandler := catalog.NewHandler(cfg.Media.VideoDir, logger)
	mediaHandler := media.NewHandler(cfg.Media.VideoDir)
	profileHandler := profile.NewHandler(cfg.Media.CacheDir)
	resolver := netinfo.NewResolver(logger)
	netHandler := netinfo.NewHandler(resolver, cfg.Server.Port)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health and metrics
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Pages and static assets
	router.StaticFile("/", filepath.Join(cfg.Media.FilesDir, "index.html"))
	router.StaticFile("/party", filepath.Join(cfg.Media.FilesDir, "party.html"))
	router.StaticFile("/host", filepath.Join(cfg.Media.FilesDir, "host.html"))
	router.Static("/files", cfg.Media.FilesDir)
	router.Static("/cache", cfg.Media.CacheDir)

	// Media streaming (range-capable) and catalog
	router.GET("/video/*path", mediaHandler.Stream)
	router.GET("/api/get_videos", catalogHandler.ListVideos)
	router.GET("/api/get_tracks", catalogHandler.ListTracks)
	router.POST("/api/upload_pfp", profileHandler.Upload)
	router.GET("/api/get_ip", netHandler.GetIP)

	// WebSocket session channel
	router.GET("/ws", realtime.ServeWs(hub, coordinator, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	dnsCtx, dnsCancel := context.WithCancel(context.Background())
	defer dnsCancel()
	if cfg.Cloudflare.Enabled() {
		go dyndns.NewUpdater(cfg.Cloudflare, resolver, logger).Run(dnsCtx)
	} else {
		logger.Info("cloudflare settings incomplete, dns updater disabled")
	}

	go func() {
		logger.Info("server listening",
			zap.String("port", cfg.Server.Port),
			zap.String("video_dir", cfg.Media.VideoDir),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	dnsCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
