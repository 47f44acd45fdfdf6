package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/LingByte/LingGuard/cmd/bootstrap"
	"github.com/LingByte/LingGuard/internal/handlers"
	"github.com/LingByte/LingGuard/pkg/config"
	"github.com/LingByte/LingGuard/pkg/logger"
	"github.com/LingByte/LingGuard/pkg/supervisor"
	"github.com/LingByte/LingGuard/pkg/webrtc/rtcmedia"
	rtcconfig "github.com/LingByte/LingGuard/pkg/webrtc/rtcmedia/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	// 1. Parse Command Line Parameters
	addr := flag.String("port", "", "Port to listen on")
	mode := flag.String("mode", "", "running environment (development, test, production)")
	codecs := flag.String("codecs", "", "comma separated video codecs to accept (h264,vp8)")
	flag.Parse()
	if *mode != "" {
		os.Setenv("MODE", *mode)
	}
	// 2. Load Global Configuration
	if err := config.Load(); err != nil {
		panic("config load failed: " + err.Error())
	}
	// 3. Load Log Configuration
	if err := logger.Init(&config.GlobalConfig.Log, config.GlobalConfig.Mode); err != nil {
		panic(err)
	}
	defer logger.Sync()
	// 4. Print Banner
	if err := bootstrap.PrintBannerFromFile("banner.txt", config.GlobalConfig.ServerName); err != nil {
		log.Fatalf("unload banner: %v", err)
	}
	// 5. Print Configuration
	bootstrap.LogConfigInfo()

	if *addr == "" {
		*addr = config.GlobalConfig.Addr
	}
	if !strings.HasPrefix(*addr, ":") && !strings.Contains(*addr, ":") {
		*addr = ":" + *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Load Data Source
	stores, err := bootstrap.SetupStores(ctx, config.GlobalConfig.Store)
	if err != nil {
		logger.Error("store setup failed", zap.Error(err))
		return
	}
	defer stores.Close()

	// 7. Media transport
	var codecList []string
	if *codecs != "" {
		codecList = strings.Split(*codecs, ",")
	}
	rtc, err := rtcmedia.NewRTCServer(rtcconfig.DefaultWebRTCOption(codecList...), logger.Lg)
	if err != nil {
		logger.Error("webrtc setup failed", zap.Error(err))
		return
	}
	defer rtc.CloseAll()

	// 8. Monitoring core
	sup, err := supervisor.New(supervisor.Options{
		Config:     config.GlobalConfig.Monitor,
		Negotiator: rtc,
		Store:      stores.Sessions,
		Journal:    stores.Journal,
		Registerer: prometheus.DefaultRegisterer,
		Logger:     logger.Lg,
	})
	if err != nil {
		logger.Error("supervisor setup failed", zap.Error(err))
		return
	}
	rtc.OnStateChange(sup.HandleTransportState)
	rtc.OnPacket(func(sessionID string) {
		_ = sup.Heartbeat(sessionID)
	})
	if err := sup.Start(ctx); err != nil {
		logger.Error("supervisor start failed", zap.Error(err))
		return
	}

	// 9. HTTP gateway
	if config.GlobalConfig.Mode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := handlers.NewRouter(handlers.Dependencies{
		Monitor:  sup,
		Gatherer: prometheus.DefaultGatherer,
		Logger:   logger.Lg,
	})
	httpServer := &http.Server{
		Addr:           *addr,
		Handler:        r,
		ReadTimeout:    config.GlobalConfig.Server.ReadTimeout,
		IdleTimeout:    config.GlobalConfig.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	serveErr := make(chan error, 1)
	go func() {
		if config.GlobalConfig.SSLEnabled {
			logger.Info("Starting HTTPS server", zap.String("addr", *addr))
			serveErr <- httpServer.ListenAndServeTLS(config.GlobalConfig.SSLCertFile, config.GlobalConfig.SSLKeyFile)
			return
		}
		logger.Info("Starting HTTP server", zap.String("addr", *addr))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server run failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	// 10. Graceful shutdown: stop intake, drain workers, close sessions
	drain := config.GlobalConfig.Monitor.DrainTimeout
	if err := sup.Shutdown(drain); err != nil {
		logger.Warn("supervisor shutdown incomplete", zap.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}
