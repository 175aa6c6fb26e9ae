package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/opencatalog/piiguard"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := piiguard.Config{
		DataDir:       getEnv("PIIGUARD_DATA_DIR", "./data"),
		RulesFile:     getEnv("PIIGUARD_RULES_FILE", ""),
		NATSURL:       getEnv("PIIGUARD_NATS_URL", ""),
		AuditLogPath:  getEnv("PIIGUARD_AUDIT_LOG", "audit.log"),
		SampleLimit:   getEnvInt("PIIGUARD_SAMPLE_LIMIT", 200),
		SampleTimeout: time.Duration(getEnvInt("PIIGUARD_SAMPLE_TIMEOUT_MS", 5000)) * time.Millisecond,
		ScanWorkers:   getEnvInt("PIIGUARD_SCAN_WORKERS", 4),
		Logger:        logger,
	}

	engine, err := piiguard.New(cfg)
	if err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	if getEnv("PIIGUARD_MCP", "false") == "true" {
		logger.Info("serving MCP tools over stdio")
		if err := engine.MCPServer().Serve(); err != nil {
			logger.Error("mcp server exited", "error", err)
			os.Exit(1)
		}
		return
	}

	addr := getEnv("PIIGUARD_HTTP_ADDR", ":8080")
	srv := &http.Server{
		Addr:         addr,
		Handler:      engine.HTTPHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
