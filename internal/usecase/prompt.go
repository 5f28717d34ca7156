package usecase

import (
	"fmt"
	"strings"

	"fitness-agent/internal/domain"
)

type promptContext struct {
	pinnedPrompt string
	plan         *domain.Plan
	workouts     []domain.WorkoutEntry
}

func buildPromptMessages(ctx promptContext, question string, history []domain.Turn) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: buildPolicyPrompt()},
		{Role: domain.RoleSystem, Content: buildFitnessContextPrompt(ctx)},
	}

	for _, turn := range history {
		messages = append(messages, turnToPromptMessages(turn)...)
	}

	messages = append(messages, domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: question,
	})
	return messages
}

func buildPolicyPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You are a friendly fitness and nutrition coach inside a workout planning app.",
		"",
		"Task:",
		"Answer the user's question about training, diet, recovery, or their current plan.",
		"Use the plan and recent workout history provided in this request as context.",
		"",
		"Behavior Rules:",
		behaviorRules(),
	}, "\n")
}

func behaviorRules() string {
	return strings.Join([]string{
		"1) Answer only the current user question in this request.",
		"2) Keep responses encouraging, practical and concise.",
		"3) Ground advice in the user's plan and logged workouts when they are provided.",
		"4) Never give medical diagnoses; for pain, injury or health conditions, recommend seeing a doctor.",
		"5) If the question is unrelated to fitness, nutrition or the user's plan, say you can only help with those topics.",
	}, "\n")
}

func buildFitnessContextPrompt(ctx promptContext) string {
	var b strings.Builder
	if pinned := strings.TrimSpace(ctx.pinnedPrompt); pinned != "" {
		b.WriteString(pinned)
		b.WriteString("\n\n")
	}

	b.WriteString("User Context:\n")
	if ctx.plan != nil {
		b.WriteString("\nCurrent plan:\n")
		b.WriteString(summarizePlan(*ctx.plan))
	} else {
		b.WriteString("\nCurrent plan: none generated yet.\n")
	}

	if len(ctx.workouts) > 0 {
		b.WriteString("\nRecent workouts (newest first):\n")
		for _, w := range ctx.workouts {
			fmt.Fprintf(&b, "- %s: %s, %d min, %d kcal\n",
				w.PerformedAt.Format("2006-01-02"), w.Activity, w.DurationMin, w.Calories)
		}
	} else {
		b.WriteString("\nRecent workouts: none logged yet.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func summarizePlan(plan domain.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- Goal: %s, level: %s, equipment: %s, %d days/week\n",
		plan.Profile.Goal, plan.Profile.Level, plan.Profile.Equipment, plan.Profile.DaysPerWeek)
	fmt.Fprintf(&b, "- BMI: %.1f (%s)\n", plan.BMI, plan.BMIClass)
	for _, day := range plan.Schedule {
		fmt.Fprintf(&b, "- %s (%s): %s\n", day.Day, day.Focus, strings.Join(day.Exercises, ", "))
	}
	if len(plan.Diet) > 0 {
		fmt.Fprintf(&b, "- Diet: %s\n", strings.Join(plan.Diet, "; "))
	}
	return b.String()
}

func turnToPromptMessages(turn domain.Turn) []domain.ChatMessage {
	if turn.Status != domain.TurnStatusComplete {
		return nil
	}
	question := strings.TrimSpace(turn.Question)
	answer := strings.TrimSpace(turn.Answer)
	if question == "" || answer == "" {
		return nil
	}
	return []domain.ChatMessage{
		{Role: domain.RoleUser, Content: question},
		{Role: domain.RoleAssistant, Content: answer},
	}
}
