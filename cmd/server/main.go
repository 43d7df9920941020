package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"nexus/internal/api"
	"nexus/internal/config"
	"nexus/internal/llm"
	"nexus/internal/model"
	"nexus/internal/ratelimit"
	"nexus/internal/storage"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 初始化配置
	cfg, err := config.ParseConfig()
	if err != nil {
		logrus.WithError(err).Error("Failed to parse config")
		os.Exit(1)
	}

	// 初始化logger
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(cfg.LogrusLevel())

	if cfg.ProviderAPIKey == "" {
		logrus.Warn("INFIP_API_KEY is not set, generation requests will fail")
	}

	repo, err := model.InitRepository(&cfg)
	if err != nil {
		logrus.WithError(err).Error("failed to initialise repository")
		os.Exit(1)
	}
	if repo == nil {
		logrus.Warn("persistence is disabled (DB_TYPE is empty or none)")
	}

	var store storage.Storage
	if cfg.MirrorImages {
		store, err = storage.NewStorage(cfg)
		if err != nil {
			logrus.WithError(err).Error("failed to initialise storage")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiters, err := ratelimit.New(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Error("failed to initialise rate limiter")
		os.Exit(1)
	}
	defer func() {
		if err := limiters.Close(); err != nil {
			logrus.WithError(err).Warn("failed to close rate limiter store")
		}
	}()

	httpHandler, err := api.NewHTTPHandler(cfg, repo, store, llm.NewClient(cfg), limiters)
	if err != nil {
		logrus.WithError(err).Error("failed to initialise http handler")
		os.Exit(1)
	}

	// 设置Gin模式
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	serverHost := fmt.Sprintf("0.0.0.0:%s", cfg.HTTPPort)
	httpServer := &http.Server{
		Addr:              serverHost,
		Handler:           httpHandler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       5 * time.Minute,
	}

	serverErr := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"host":        serverHost,
			"environment": cfg.Environment,
			"rate_store":  cfg.RateLimitStore,
			"mirror":      cfg.MirrorImages,
		}).Info("服务器启动")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logrus.Info("shutting down server")
	case err := <-serverErr:
		logrus.WithError(err).Error("服务器启动失败")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("http server shutdown failed")
	}
	if err := httpHandler.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("background mirroring did not finish before shutdown")
	}
	logrus.Info("server stopped")
}
