// Package app wires configuration, integrations, stores and use cases into
// the HTTP API. Both entrypoints (local server and Lambda) share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"fitness-agent/handler"
	"fitness-agent/internal/domain"
	"fitness-agent/internal/integrations/openai"
	"fitness-agent/internal/integrations/paramstore"
	"fitness-agent/internal/repository/dynamo"
	"fitness-agent/internal/repository/sqlite"
	"fitness-agent/internal/rules"
	"fitness-agent/internal/usecase"
)

// Config carries the environment-derived settings read in main.
type Config struct {
	ParamPrefix     string
	StateTable      string // DynamoDB table name; empty selects SQLite
	SQLitePath      string
	MaxContextItems int
	MaxQuestionLen  int
	OpenAIBaseURL   string // optional override, e.g. a self-hosted endpoint
	Logger          *slog.Logger
}

// store is the union of persistence capabilities the use cases consume.
// Both the dynamo and sqlite clients satisfy it.
type store interface {
	usecase.PlanStore
	usecase.WorkoutStore
	usecase.ChatStateStore
	usecase.FitnessContextStore
}

// App is the assembled service.
type App struct {
	Handler http.Handler
	closeFn func() error
}

// Close releases resources held by the selected store.
func (a *App) Close() error {
	if a.closeFn == nil {
		return nil
	}
	return a.closeFn()
}

// New builds the service from config.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.ParamPrefix == "" {
		return nil, errors.New("app: parameter prefix must not be empty")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load AWS config: %w", err)
	}

	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("app: create SSM client: %w", err)
	}
	params, err := paramstore.NewCache(ssmClient)
	if err != nil {
		return nil, fmt.Errorf("app: create param cache: %w", err)
	}

	var st store
	closeFn := func() error { return nil }
	if cfg.StateTable != "" {
		st, err = dynamo.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
		if err != nil {
			return nil, fmt.Errorf("app: create dynamo store: %w", err)
		}
	} else {
		path := cfg.SQLitePath
		if path == "" {
			path = "fitness-agent.db"
		}
		sqlStore, err := sqlite.New(path)
		if err != nil {
			return nil, fmt.Errorf("app: create sqlite store: %w", err)
		}
		st = sqlStore
		closeFn = sqlStore.Close
	}

	var openaiOpts []openai.Option
	if cfg.OpenAIBaseURL != "" {
		openaiOpts = append(openaiOpts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	openaiClient, err := openai.NewClient(params, cfg.ParamPrefix, openaiOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: create OpenAI client: %w", err)
	}

	table, err := rules.Load()
	if err != nil {
		return nil, fmt.Errorf("app: load rule tables: %w", err)
	}

	planService, err := usecase.NewPlanService(st, table)
	if err != nil {
		return nil, fmt.Errorf("app: create plan service: %w", err)
	}
	workoutService, err := usecase.NewWorkoutService(st)
	if err != nil {
		return nil, fmt.Errorf("app: create workout service: %w", err)
	}
	chatService, err := usecase.NewChatService(
		params,
		llmStreamer{client: openaiClient},
		st,
		st,
		cfg.ParamPrefix,
		cfg.MaxContextItems,
		cfg.MaxQuestionLen,
	)
	if err != nil {
		return nil, fmt.Errorf("app: create chat service: %w", err)
	}

	api, err := handler.NewAPI(planService, workoutService, chatService, logger)
	if err != nil {
		return nil, fmt.Errorf("app: create API: %w", err)
	}

	return &App{Handler: api.Routes(), closeFn: closeFn}, nil
}

// llmStreamer adapts *openai.Client to the interface the chat service
// consumes, so the concrete stream type never leaks into the use case.
type llmStreamer struct {
	client *openai.Client
}

func (l llmStreamer) ChatStream(ctx context.Context, model string, messages []domain.ChatMessage) (usecase.TurnStream, error) {
	stream, err := l.client.ChatStream(ctx, model, messages)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (l llmStreamer) Moderate(ctx context.Context, input string) (bool, error) {
	return l.client.Moderate(ctx, input)
}
