package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"fitness-agent/internal/domain"
	"fitness-agent/internal/repository"
	"fitness-agent/internal/rules"
)

// PlanStore persists generated plans per user.
type PlanStore interface {
	SavePlan(ctx context.Context, userID string, plan domain.Plan) error
	LatestPlan(ctx context.Context, userID string) (domain.Plan, error)
}

// PlanService turns plan-generator form selections into a weekly exercise
// and diet plan via the rule tables.
type PlanService struct {
	store PlanStore
	table *rules.Table
}

func NewPlanService(store PlanStore, table *rules.Table) (*PlanService, error) {
	if store == nil {
		return nil, errors.New("usecase: plan store must not be nil")
	}
	if table == nil {
		return nil, errors.New("usecase: rule table must not be nil")
	}
	return &PlanService{store: store, table: table}, nil
}

// Generate validates the form selections, computes BMI, assembles the weekly
// schedule and diet suggestions from the rule tables, and persists the plan
// as the user's latest.
func (s *PlanService) Generate(ctx context.Context, userID string, profile domain.Profile) (domain.Plan, error) {
	if userID == "" {
		return domain.Plan{}, newError(ErrorInvalidInput, "missing_user", nil)
	}
	if reason, ok := validateProfile(profile); !ok {
		return domain.Plan{}, newError(ErrorInvalidInput, reason, nil)
	}

	bmi := computeBMI(profile.WeightKg, profile.HeightCm)
	bmiClass := classifyBMI(bmi)

	blocks := s.table.ExerciseBlocks(profile.Goal, profile.Level, profile.Equipment)
	if len(blocks) == 0 {
		return domain.Plan{}, newError(ErrorInternal, "no_matching_exercise_rules", nil)
	}

	schedule := make([]domain.PlanDay, 0, profile.DaysPerWeek)
	for i := 0; i < profile.DaysPerWeek; i++ {
		block := blocks[i%len(blocks)]
		schedule = append(schedule, domain.PlanDay{
			Day:       fmt.Sprintf("Day %d", i+1),
			Focus:     block.Focus,
			Exercises: block.Exercises,
		})
	}

	plan := domain.Plan{
		ID:        newUUID(),
		Profile:   profile,
		BMI:       bmi,
		BMIClass:  bmiClass,
		Schedule:  schedule,
		Diet:      s.table.DietSuggestions(profile.Goal, profile.DietPreference, bmiClass),
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.SavePlan(ctx, userID, plan); err != nil {
		return domain.Plan{}, newError(ErrorInternal, "plan_store_error", err)
	}
	return plan, nil
}

// Latest returns the user's most recently generated plan.
func (s *PlanService) Latest(ctx context.Context, userID string) (domain.Plan, error) {
	if userID == "" {
		return domain.Plan{}, newError(ErrorInvalidInput, "missing_user", nil)
	}
	plan, err := s.store.LatestPlan(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Plan{}, newError(ErrorNotFound, "no_plan", err)
	}
	if err != nil {
		return domain.Plan{}, newError(ErrorInternal, "plan_store_error", err)
	}
	return plan, nil
}

// computeBMI returns weight/height² in kg/m², rounded to one decimal.
func computeBMI(weightKg, heightCm float64) float64 {
	heightM := heightCm / 100
	return math.Round(weightKg/(heightM*heightM)*10) / 10
}

func classifyBMI(bmi float64) string {
	switch {
	case bmi < 18.5:
		return domain.BMIUnderweight
	case bmi < 25:
		return domain.BMINormal
	case bmi < 30:
		return domain.BMIOverweight
	default:
		return domain.BMIObese
	}
}

func validateProfile(p domain.Profile) (string, bool) {
	if p.HeightCm < 100 || p.HeightCm > 250 {
		return "height_out_of_range", false
	}
	if p.WeightKg < 25 || p.WeightKg > 350 {
		return "weight_out_of_range", false
	}
	if p.Age < 13 || p.Age > 100 {
		return "age_out_of_range", false
	}
	if p.DaysPerWeek < 1 || p.DaysPerWeek > 7 {
		return "days_out_of_range", false
	}
	switch p.Goal {
	case domain.GoalLoseWeight, domain.GoalGainMuscle, domain.GoalMaintain:
	default:
		return "unknown_goal", false
	}
	switch p.Level {
	case domain.LevelBeginner, domain.LevelIntermediate, domain.LevelAdvanced:
	default:
		return "unknown_level", false
	}
	switch p.Equipment {
	case domain.EquipmentNone, domain.EquipmentHome, domain.EquipmentGym:
	default:
		return "unknown_equipment", false
	}
	switch p.DietPreference {
	case domain.DietVegetarian, domain.DietNonVegetarian, domain.DietVegan:
	default:
		return "unknown_diet_preference", false
	}
	return "", true
}

var newUUID = func() string {
	return uuid.NewString()
}
