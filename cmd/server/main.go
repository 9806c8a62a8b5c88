package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koopa0/system-design/14-match-coordinator/internal"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置檔路徑")
	flag.Parse()

	// 載入配置
	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 設定日誌
	logger := setupLogger(config.Log)
	slog.SetDefault(logger)

	// 結果事件發布（未配置 NATS 時使用空實現，不影響核心功能）
	var publisher internal.MatchPublisher = internal.NoopPublisher{}
	var natsPublisher *internal.NATSPublisher
	if config.NATS.URL != "" {
		natsPublisher, err = internal.NewNATSPublisher(config.NATS.URL, logger)
		if err != nil {
			logger.Warn("NATS 連接失敗，結果事件發布停用", "error", err, "url", config.NATS.URL)
		} else {
			publisher = natsPublisher
			logger.Info("結果事件發布已啟用", "url", config.NATS.URL)
		}
	}

	// 創建房間註冊表與傳輸適配器
	registry := internal.NewRegistry(config.Room, logger, publisher)
	hub := internal.NewWebSocketHub(registry, config.WebSocket, logger)
	handler := internal.NewHandler(registry, logger)

	// 設置路由
	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.HandleFunc("GET /ws/rooms/{room_id}", hub.ServeWS)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Server.Port),
		Handler:      mux,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	// 啟動服務器
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("比賽協調服務器啟動", "port", config.Server.Port)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("服務器錯誤", "error", err)
			os.Exit(1)
		}

	case sig := <-shutdown:
		logger.Info("收到關閉信號，開始優雅關閉...", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("服務器關閉失敗", "error", err)
		}

		hub.Stop()
		registry.Stop()
		if natsPublisher != nil {
			natsPublisher.Close()
		}
	}

	logger.Info("服務器已關閉")
}

// setupLogger 設置日誌
func setupLogger(cfg internal.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.Level == "debug",
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
