package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"fitness-agent/internal/domain"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	// progressWindow bounds how many entries feed the progress aggregates.
	progressWindow = 500
)

// WorkoutStore persists workout log entries per user.
type WorkoutStore interface {
	AddWorkout(ctx context.Context, userID string, entry domain.WorkoutEntry) error
	ListWorkouts(ctx context.Context, userID string, limit int) ([]domain.WorkoutEntry, error)
}

// WorkoutService handles the workout logger and the progress dashboard.
type WorkoutService struct {
	store WorkoutStore
}

func NewWorkoutService(store WorkoutStore) (*WorkoutService, error) {
	if store == nil {
		return nil, errors.New("usecase: workout store must not be nil")
	}
	return &WorkoutService{store: store}, nil
}

// WorkoutInput is one workout logger form submission.
type WorkoutInput struct {
	Activity    string
	DurationMin int
	Calories    int
	WeightKg    *float64
	Notes       string
	PerformedAt *time.Time // nil = now
}

// Log validates and appends a workout entry for the user.
func (s *WorkoutService) Log(ctx context.Context, userID string, in WorkoutInput) (domain.WorkoutEntry, error) {
	if userID == "" {
		return domain.WorkoutEntry{}, newError(ErrorInvalidInput, "missing_user", nil)
	}
	activity := strings.TrimSpace(in.Activity)
	if activity == "" {
		return domain.WorkoutEntry{}, newError(ErrorInvalidInput, "empty_activity", nil)
	}
	if in.DurationMin < 1 || in.DurationMin > 24*60 {
		return domain.WorkoutEntry{}, newError(ErrorInvalidInput, "duration_out_of_range", nil)
	}
	if in.Calories < 0 || in.Calories > 20000 {
		return domain.WorkoutEntry{}, newError(ErrorInvalidInput, "calories_out_of_range", nil)
	}
	if in.WeightKg != nil && (*in.WeightKg < 25 || *in.WeightKg > 350) {
		return domain.WorkoutEntry{}, newError(ErrorInvalidInput, "weight_out_of_range", nil)
	}

	performedAt := time.Now().UTC()
	if in.PerformedAt != nil {
		performedAt = in.PerformedAt.UTC()
		if performedAt.After(time.Now().Add(time.Minute)) {
			return domain.WorkoutEntry{}, newError(ErrorInvalidInput, "performed_in_future", nil)
		}
	}

	entry := domain.WorkoutEntry{
		ID:          newUUID(),
		Activity:    activity,
		DurationMin: in.DurationMin,
		Calories:    in.Calories,
		WeightKg:    in.WeightKg,
		Notes:       strings.TrimSpace(in.Notes),
		PerformedAt: performedAt,
	}
	if err := s.store.AddWorkout(ctx, userID, entry); err != nil {
		return domain.WorkoutEntry{}, newError(ErrorInternal, "workout_store_error", err)
	}
	return entry, nil
}

// History returns the user's workout entries, newest first.
func (s *WorkoutService) History(ctx context.Context, userID string, limit int) ([]domain.WorkoutEntry, error) {
	if userID == "" {
		return nil, newError(ErrorInvalidInput, "missing_user", nil)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	entries, err := s.store.ListWorkouts(ctx, userID, limit)
	if err != nil {
		return nil, newError(ErrorInternal, "workout_store_error", err)
	}
	return entries, nil
}

// Progress aggregates the user's recent workout history for the dashboard.
func (s *WorkoutService) Progress(ctx context.Context, userID string) (domain.ProgressReport, error) {
	if userID == "" {
		return domain.ProgressReport{}, newError(ErrorInvalidInput, "missing_user", nil)
	}
	entries, err := s.store.ListWorkouts(ctx, userID, progressWindow)
	if err != nil {
		return domain.ProgressReport{}, newError(ErrorInternal, "workout_store_error", err)
	}
	return buildProgressReport(entries, time.Now().UTC()), nil
}

// buildProgressReport computes aggregates from entries ordered newest first.
func buildProgressReport(entries []domain.WorkoutEntry, now time.Time) domain.ProgressReport {
	report := domain.ProgressReport{Workouts: len(entries)}

	days := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		report.TotalMinutes += e.DurationMin
		report.TotalCalories += e.Calories
		days[e.PerformedAt.UTC().Format(time.DateOnly)] = struct{}{}

		if e.WeightKg != nil {
			if report.LatestWeightKg == nil {
				w := *e.WeightKg
				report.LatestWeightKg = &w
			}
			w := *e.WeightKg
			report.FirstWeightKg = &w // oldest entry with a weight wins
		}
	}

	if report.LatestWeightKg != nil && report.FirstWeightKg != nil {
		change := *report.LatestWeightKg - *report.FirstWeightKg
		report.WeightChangeKg = &change
	}

	// A streak is unbroken while each preceding calendar day has at least one
	// workout. A streak that ended yesterday still counts.
	day := now
	if _, ok := days[day.Format(time.DateOnly)]; !ok {
		day = day.AddDate(0, 0, -1)
	}
	for {
		if _, ok := days[day.Format(time.DateOnly)]; !ok {
			break
		}
		report.StreakDays++
		day = day.AddDate(0, 0, -1)
	}

	return report
}
