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

	"fitness-agent/internal/app"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Configuration (read only here) ----
	cfg := app.Config{
		ParamPrefix:     mustEnv("PARAM_PREFIX"),
		StateTable:      os.Getenv("STATE_TABLE"),
		SQLitePath:      os.Getenv("SQLITE_PATH"),
		MaxContextItems: envInt("MAX_CONTEXT_ITEMS", 20),
		MaxQuestionLen:  envInt("MAX_QUESTION_LENGTH", 300),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
		Logger:          logger,
	}
	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to build application", "err", err)
		os.Exit(1)
	}
	defer func() { _ = a.Close() }()

	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
