// Package sqlite persists user fitness data in a local SQLite database.
// It mirrors the dynamo package's behavior for local and self-hosted
// deployments. Every query filters on user_id, so callers only ever see
// their own rows.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"fitness-agent/internal/domain"
	"fitness-agent/internal/repository"
)

// Store implements the workout, plan and chat persistence consumed by the
// use cases.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path and runs
// migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dbPath, err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS workouts (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	activity     TEXT NOT NULL,
	duration_min INTEGER NOT NULL,
	calories     INTEGER NOT NULL,
	weight_kg    REAL,
	notes        TEXT NOT NULL DEFAULT '',
	performed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workouts_user ON workouts(user_id, performed_at DESC);

CREATE TABLE IF NOT EXISTS plans (
	user_id    TEXT PRIMARY KEY,
	plan_json  TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_turns (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id         TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	question        TEXT NOT NULL,
	answer          TEXT NOT NULL,
	status          TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_turns_conv ON chat_turns(user_id, conversation_id, created_at);

CREATE TABLE IF NOT EXISTS chat_meta (
	user_id         TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	turns           INTEGER NOT NULL,
	last_activity   TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, conversation_id)
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// AddWorkout appends one workout log entry for the user.
func (s *Store) AddWorkout(ctx context.Context, userID string, entry domain.WorkoutEntry) error {
	if userID == "" {
		return errors.New("sqlite: AddWorkout: user id is required")
	}
	if entry.ID == "" {
		return errors.New("sqlite: AddWorkout: entry id is required")
	}

	var weight any
	if entry.WeightKg != nil {
		weight = *entry.WeightKg
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workouts (id, user_id, activity, duration_min, calories, weight_kg, notes, performed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, userID, entry.Activity, entry.DurationMin, entry.Calories, weight, entry.Notes, entry.PerformedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: AddWorkout: %w", err)
	}
	return nil
}

// ListWorkouts returns the user's workout entries, newest first.
func (s *Store) ListWorkouts(ctx context.Context, userID string, limit int) ([]domain.WorkoutEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, activity, duration_min, calories, weight_kg, notes, performed_at
		FROM workouts
		WHERE user_id = ?
		ORDER BY performed_at DESC
		LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ListWorkouts: %w", err)
	}
	defer rows.Close()

	var entries []domain.WorkoutEntry
	for rows.Next() {
		var entry domain.WorkoutEntry
		var weight sql.NullFloat64
		if err := rows.Scan(&entry.ID, &entry.Activity, &entry.DurationMin, &entry.Calories, &weight, &entry.Notes, &entry.PerformedAt); err != nil {
			return nil, fmt.Errorf("sqlite: ListWorkouts scan: %w", err)
		}
		if weight.Valid {
			w := weight.Float64
			entry.WeightKg = &w
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SavePlan overwrites the user's latest plan.
func (s *Store) SavePlan(ctx context.Context, userID string, plan domain.Plan) error {
	if userID == "" {
		return errors.New("sqlite: SavePlan: user id is required")
	}
	blob, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("sqlite: SavePlan marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (user_id, plan_json, created_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET plan_json = excluded.plan_json, created_at = excluded.created_at`,
		userID, string(blob), plan.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: SavePlan: %w", err)
	}
	return nil
}

// LatestPlan returns the user's most recently saved plan.
func (s *Store) LatestPlan(ctx context.Context, userID string) (domain.Plan, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT plan_json FROM plans WHERE user_id = ?`, userID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Plan{}, repository.ErrNotFound
	}
	if err != nil {
		return domain.Plan{}, fmt.Errorf("sqlite: LatestPlan: %w", err)
	}

	var plan domain.Plan
	if err := json.Unmarshal([]byte(blob), &plan); err != nil {
		return domain.Plan{}, fmt.Errorf("sqlite: LatestPlan unmarshal: %w", err)
	}
	return plan, nil
}

// GetTurnCount returns the persisted successful turn count for a conversation.
func (s *Store) GetTurnCount(ctx context.Context, userID, conversationID string) (int, error) {
	var turns int
	err := s.db.QueryRowContext(ctx,
		`SELECT turns FROM chat_meta WHERE user_id = ? AND conversation_id = ?`,
		userID, conversationID,
	).Scan(&turns)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: GetTurnCount: %w", err)
	}
	return turns, nil
}

// GetHistory returns completed turns for a conversation in chronological
// order, capped at limit newest turns.
func (s *Store) GetHistory(ctx context.Context, userID, conversationID string, limit int) ([]domain.Turn, error) {
	// Newest first so LIMIT favors the most recent context, then reversed.
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, question, answer, status, created_at
		FROM chat_turns
		WHERE user_id = ? AND conversation_id = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		userID, conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: GetHistory: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var turn domain.Turn
		if err := rows.Scan(&turn.ConversationID, &turn.Question, &turn.Answer, &turn.Status, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: GetHistory scan: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// SaveCompletedTurn persists the completed exchange and updated conversation
// metadata in one transaction.
func (s *Store) SaveCompletedTurn(ctx context.Context, userID, conversationID, question, answer string, turns int) error {
	if userID == "" || conversationID == "" {
		return errors.New("sqlite: SaveCompletedTurn: user and conversation ids are required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: SaveCompletedTurn begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_turns (user_id, conversation_id, question, answer, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		userID, conversationID, question, answer, domain.TurnStatusComplete, now,
	); err != nil {
		return fmt.Errorf("sqlite: SaveCompletedTurn insert turn: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_meta (user_id, conversation_id, turns, last_activity) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, conversation_id) DO UPDATE SET turns = excluded.turns, last_activity = excluded.last_activity`,
		userID, conversationID, turns, now,
	); err != nil {
		return fmt.Errorf("sqlite: SaveCompletedTurn upsert meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: SaveCompletedTurn commit: %w", err)
	}
	return nil
}
