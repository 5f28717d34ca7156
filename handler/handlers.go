package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"fitness-agent/internal/domain"
	"fitness-agent/internal/usecase"
)

func (a *API) handleGeneratePlan(w http.ResponseWriter, r *http.Request) {
	var profile domain.Profile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_body"})
		return
	}

	plan, err := a.plans.Generate(r.Context(), userIDFrom(r.Context()), profile)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (a *API) handleLatestPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := a.plans.Latest(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// workoutRequest is the workout logger form payload.
type workoutRequest struct {
	Activity    string     `json:"activity"`
	DurationMin int        `json:"durationMinutes"`
	Calories    int        `json:"calories"`
	WeightKg    *float64   `json:"weightKg,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	PerformedAt *time.Time `json:"performedAt,omitempty"`
}

func (a *API) handleLogWorkout(w http.ResponseWriter, r *http.Request) {
	var req workoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_body"})
		return
	}

	entry, err := a.workouts.Log(r.Context(), userIDFrom(r.Context()), usecase.WorkoutInput{
		Activity:    req.Activity,
		DurationMin: req.DurationMin,
		Calories:    req.Calories,
		WeightKg:    req.WeightKg,
		Notes:       req.Notes,
		PerformedAt: req.PerformedAt,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type workoutListResponse struct {
	Workouts []domain.WorkoutEntry `json:"workouts"`
}

func (a *API) handleListWorkouts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_limit"})
			return
		}
		limit = n
	}

	entries, err := a.workouts.History(r.Context(), userIDFrom(r.Context()), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.WorkoutEntry{}
	}
	writeJSON(w, http.StatusOK, workoutListResponse{Workouts: entries})
}

func (a *API) handleProgress(w http.ResponseWriter, r *http.Request) {
	report, err := a.workouts.Progress(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
