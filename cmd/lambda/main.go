package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambdaurl"

	"fitness-agent/internal/app"
)

// Runs behind a Lambda Function URL with response streaming enabled, so the
// chat relay's event stream reaches the browser incrementally.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg := app.Config{
		ParamPrefix:     mustEnv("PARAM_PREFIX"),
		StateTable:      mustEnv("STATE_TABLE"),
		MaxContextItems: envInt("MAX_CONTEXT_ITEMS", 20),
		MaxQuestionLen:  envInt("MAX_QUESTION_LENGTH", 300),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
		Logger:          logger,
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to build application", "err", err)
		os.Exit(1)
	}

	lambdaurl.Start(a.Handler)
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
