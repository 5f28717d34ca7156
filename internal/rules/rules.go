// Package rules evaluates the embedded exercise and diet rule tables against
// plan-generator form selections. The tables are data: selection is a scan of
// the table in declaration order, concatenating every matching entry.
package rules

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
)

//go:embed data/rules.json
var rawTable []byte

// ExerciseRule contributes a focus block to a plan when its selectors match.
// An empty selector matches any value.
type ExerciseRule struct {
	Goal      string   `json:"goal"`
	Level     string   `json:"level"`
	Equipment string   `json:"equipment"`
	Focus     string   `json:"focus"`
	Exercises []string `json:"exercises"`
}

// DietRule contributes diet suggestions when its selectors match.
// An empty selector matches any value.
type DietRule struct {
	Goal        string   `json:"goal"`
	Preference  string   `json:"preference"`
	BMIClass    string   `json:"bmiClass"`
	Suggestions []string `json:"suggestions"`
}

// Table holds the loaded rule tables.
type Table struct {
	Exercises []ExerciseRule `json:"exercises"`
	Diets     []DietRule     `json:"diets"`
}

// Load parses the embedded rule tables.
func Load() (*Table, error) {
	var t Table
	if err := json.Unmarshal(rawTable, &t); err != nil {
		return nil, fmt.Errorf("rules: parse embedded table: %w", err)
	}
	if len(t.Exercises) == 0 || len(t.Diets) == 0 {
		return nil, errors.New("rules: embedded table is empty")
	}
	return &t, nil
}

func match(selector, value string) bool {
	return selector == "" || selector == value
}

// ExerciseBlocks returns the focus blocks matching the given selections, in
// table order. Blocks sharing a focus are merged so a level-specific entry
// extends rather than duplicates the generic one.
func (t *Table) ExerciseBlocks(goal, level, equipment string) []ExerciseRule {
	var blocks []ExerciseRule
	index := map[string]int{}
	for _, r := range t.Exercises {
		if !match(r.Goal, goal) || !match(r.Level, level) || !match(r.Equipment, equipment) {
			continue
		}
		if i, ok := index[r.Focus]; ok {
			blocks[i].Exercises = appendUnique(blocks[i].Exercises, r.Exercises)
			continue
		}
		index[r.Focus] = len(blocks)
		blocks = append(blocks, ExerciseRule{
			Focus:     r.Focus,
			Exercises: appendUnique(nil, r.Exercises),
		})
	}
	return blocks
}

// DietSuggestions concatenates the suggestions of every matching diet rule,
// dropping duplicates.
func (t *Table) DietSuggestions(goal, preference, bmiClass string) []string {
	var out []string
	for _, r := range t.Diets {
		if !match(r.Goal, goal) || !match(r.Preference, preference) || !match(r.BMIClass, bmiClass) {
			continue
		}
		out = appendUnique(out, r.Suggestions)
	}
	return out
}

func appendUnique(dst []string, src []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range src {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		dst = append(dst, s)
	}
	return dst
}
