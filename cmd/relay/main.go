package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/LingByte/LingMeshX/pkg/config"
	"github.com/LingByte/LingMeshX/pkg/constants"
	"github.com/LingByte/LingMeshX/pkg/logger"
	"github.com/LingByte/LingMeshX/pkg/relay"
	"go.uber.org/zap"
)

func main() {
	// 1. Parse Command Line Parameters
	addr := flag.String("addr", "", "address to listen on")
	mode := flag.String("mode", "", "running environment (development, test, production)")
	flag.Parse()
	if *mode != "" {
		os.Setenv(constants.ENV_MODE, *mode)
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

	// 4. Resolve listen address
	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = config.GlobalConfig.Server.Addr
	}
	if !strings.HasPrefix(listenAddr, ":") && !strings.Contains(listenAddr, ":") {
		listenAddr = ":" + listenAddr
	}

	// 5. Start hub and HTTP surface
	hub := relay.NewHub()
	go hub.Run()

	server := relay.NewServer(hub, config.GlobalConfig.TokenSecret)
	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      server.Router(config.GlobalConfig.Mode),
		ReadTimeout:  config.GlobalConfig.Server.ReadTimeout,
		WriteTimeout: config.GlobalConfig.Server.WriteTimeout,
		IdleTimeout:  config.GlobalConfig.Server.IdleTimeout,
	}

	go func() {
		logger.Info("signaling relay listening", zap.String("addr", listenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("relay server failed", zap.Error(err))
		}
	}()

	// 6. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down relay")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("relay shutdown failed", zap.Error(err))
	}
	hub.Stop()
}
