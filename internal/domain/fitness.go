package domain

import "time"

// Form selection enums. The handler validates raw input against these before
// anything reaches the rule engine.
const (
	GoalLoseWeight = "lose_weight"
	GoalGainMuscle = "gain_muscle"
	GoalMaintain   = "maintain"

	LevelBeginner     = "beginner"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"

	EquipmentNone = "none"
	EquipmentHome = "home"
	EquipmentGym  = "gym"

	DietVegetarian    = "vegetarian"
	DietNonVegetarian = "non_vegetarian"
	DietVegan         = "vegan"
)

// BMI classes as reported on generated plans.
const (
	BMIUnderweight = "underweight"
	BMINormal      = "normal"
	BMIOverweight  = "overweight"
	BMIObese       = "obese"
)

// Profile captures the plan-generator form selections for one request.
type Profile struct {
	HeightCm       float64 `json:"heightCm"`
	WeightKg       float64 `json:"weightKg"`
	Age            int     `json:"age"`
	Goal           string  `json:"goal"`
	Level          string  `json:"level"`
	DaysPerWeek    int     `json:"daysPerWeek"`
	Equipment      string  `json:"equipment"`
	DietPreference string  `json:"dietPreference"`
}

// PlanDay is one scheduled training day within a weekly plan.
type PlanDay struct {
	Day       string   `json:"day"`
	Focus     string   `json:"focus"`
	Exercises []string `json:"exercises"`
}

// Plan is a generated weekly exercise and diet plan.
type Plan struct {
	ID        string    `json:"id"`
	Profile   Profile   `json:"profile"`
	BMI       float64   `json:"bmi"`
	BMIClass  string    `json:"bmiClass"`
	Schedule  []PlanDay `json:"schedule"`
	Diet      []string  `json:"diet"`
	CreatedAt time.Time `json:"createdAt"`
}

// WorkoutEntry is a single logged workout.
type WorkoutEntry struct {
	ID          string    `json:"id"`
	Activity    string    `json:"activity"`
	DurationMin int       `json:"durationMinutes"`
	Calories    int       `json:"calories"`
	WeightKg    *float64  `json:"weightKg,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	PerformedAt time.Time `json:"performedAt"`
}

// ProgressReport aggregates a user's workout history for the dashboard.
type ProgressReport struct {
	Workouts       int      `json:"workouts"`
	TotalMinutes   int      `json:"totalMinutes"`
	TotalCalories  int      `json:"totalCalories"`
	StreakDays     int      `json:"streakDays"`
	FirstWeightKg  *float64 `json:"firstWeightKg,omitempty"`
	LatestWeightKg *float64 `json:"latestWeightKg,omitempty"`
	WeightChangeKg *float64 `json:"weightChangeKg,omitempty"`
}
