// Package handler exposes the fitness API over HTTP: plan generation, the
// workout logger, the progress dashboard, and the streaming chat coach.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"fitness-agent/internal/domain"
	"fitness-agent/internal/usecase"
)

// PlanUseCase generates and retrieves plans.
type PlanUseCase interface {
	Generate(ctx context.Context, userID string, profile domain.Profile) (domain.Plan, error)
	Latest(ctx context.Context, userID string) (domain.Plan, error)
}

// WorkoutUseCase logs workouts and aggregates progress.
type WorkoutUseCase interface {
	Log(ctx context.Context, userID string, in usecase.WorkoutInput) (domain.WorkoutEntry, error)
	History(ctx context.Context, userID string, limit int) ([]domain.WorkoutEntry, error)
	Progress(ctx context.Context, userID string) (domain.ProgressReport, error)
}

// ChatUseCase runs one streaming coach exchange, pushing deltas into sink.
type ChatUseCase interface {
	Stream(ctx context.Context, userID string, in usecase.ChatInput, sink func(delta string) error) (usecase.ChatOutput, error)
}

// API is the HTTP surface of the service.
type API struct {
	plans    PlanUseCase
	workouts WorkoutUseCase
	chat     ChatUseCase
	logger   *slog.Logger
}

// NewAPI creates the API handler set.
func NewAPI(plans PlanUseCase, workouts WorkoutUseCase, chat ChatUseCase, logger *slog.Logger) (*API, error) {
	if plans == nil {
		return nil, errors.New("handler: plan use case must not be nil")
	}
	if workouts == nil {
		return nil, errors.New("handler: workout use case must not be nil")
	}
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &API{plans: plans, workouts: workouts, chat: chat, logger: logger}, nil
}

// Routes assembles the route mux with the shared middleware chain.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)

	mux.Handle("POST /api/plan", a.requireUser(http.HandlerFunc(a.handleGeneratePlan)))
	mux.Handle("GET /api/plan", a.requireUser(http.HandlerFunc(a.handleLatestPlan)))
	mux.Handle("POST /api/workouts", a.requireUser(http.HandlerFunc(a.handleLogWorkout)))
	mux.Handle("GET /api/workouts", a.requireUser(http.HandlerFunc(a.handleListWorkouts)))
	mux.Handle("GET /api/progress", a.requireUser(http.HandlerFunc(a.handleProgress)))
	mux.Handle("POST /api/chat", a.requireUser(http.HandlerFunc(a.handleChat)))

	return a.withCorrelationID(a.logRequests(mux))
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
