package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fitness-agent/internal/domain"
	"fitness-agent/internal/integrations/openai"
	"fitness-agent/internal/repository"
)

type mockParams struct {
	vals map[string]string
	err  error
}

func (m *mockParams) GetParameter(_ context.Context, name string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.vals[name]
	if !ok {
		return "", fmt.Errorf("param not found: %s", name)
	}
	return v, nil
}

type transientParams struct {
	*mockParams
	failOnce bool
}

func (p *transientParams) GetParameter(ctx context.Context, name string) (string, error) {
	if p.failOnce {
		p.failOnce = false
		return "", errors.New("temporary ssm failure")
	}
	return p.mockParams.GetParameter(ctx, name)
}

// fakeTurnStream replays a scripted event sequence, then terminates with
// finalErr (io.EOF unless set). Text accumulates like the real stream.
type fakeTurnStream struct {
	events   []domain.StreamEvent
	finalErr error
	text     strings.Builder
	closed   bool
}

func (f *fakeTurnStream) Next() (domain.StreamEvent, error) {
	if len(f.events) == 0 {
		if f.finalErr != nil {
			return nil, f.finalErr
		}
		return nil, io.EOF
	}
	evt := f.events[0]
	f.events = f.events[1:]
	if delta, ok := evt.(domain.ContentDelta); ok {
		f.text.WriteString(delta.Text)
	}
	return evt, nil
}

func (f *fakeTurnStream) Text() string { return f.text.String() }

func (f *fakeTurnStream) Close() error {
	f.closed = true
	return nil
}

type mockLLM struct {
	stream    *fakeTurnStream
	streamErr error

	flagged     bool
	moderateErr error

	streamCalls  int
	capturedMsgs []domain.ChatMessage
	capturedMdl  string
}

func (m *mockLLM) ChatStream(_ context.Context, model string, msgs []domain.ChatMessage) (TurnStream, error) {
	m.streamCalls++
	m.capturedMdl = model
	m.capturedMsgs = msgs
	if m.streamErr != nil {
		return nil, m.streamErr
	}
	return m.stream, nil
}

func (m *mockLLM) Moderate(_ context.Context, _ string) (bool, error) {
	return m.flagged, m.moderateErr
}

type mockChatState struct {
	history      []domain.Turn
	turnCount    int
	historyErr   error
	turnCountErr error
	saveErr      error

	turnCountCalls       int
	savedConversationID  string
	savedQuestion        string
	savedAnswer          string
	savedTurns           int
	saveCompletedInvoked bool
}

func (m *mockChatState) GetTurnCount(_ context.Context, _, _ string) (int, error) {
	m.turnCountCalls++
	return m.turnCount, m.turnCountErr
}

func (m *mockChatState) GetHistory(_ context.Context, _, _ string, _ int) ([]domain.Turn, error) {
	return m.history, m.historyErr
}

func (m *mockChatState) SaveCompletedTurn(_ context.Context, _, conversationID, question, answer string, turns int) error {
	m.savedConversationID = conversationID
	m.savedQuestion = question
	m.savedAnswer = answer
	m.savedTurns = turns
	m.saveCompletedInvoked = true
	return m.saveErr
}

type mockFitness struct {
	plan        domain.Plan
	planErr     error
	workouts    []domain.WorkoutEntry
	workoutsErr error
}

func (m *mockFitness) LatestPlan(_ context.Context, _ string) (domain.Plan, error) {
	return m.plan, m.planErr
}

func (m *mockFitness) ListWorkouts(_ context.Context, _ string, _ int) ([]domain.WorkoutEntry, error) {
	return m.workouts, m.workoutsErr
}

func defaultChatParams() *mockParams {
	return &mockParams{
		vals: map[string]string{
			"/prefix/pinned_prompt":       "You are FitCoach.",
			"/prefix/config/openai_model": "gpt-4o-mini",
		},
	}
}

func streamOf(deltas ...string) *fakeTurnStream {
	s := &fakeTurnStream{}
	for _, d := range deltas {
		s.events = append(s.events, domain.ContentDelta{Text: d})
	}
	s.events = append(s.events, domain.StreamEnd{})
	return s
}

func emptyFitness() *mockFitness {
	return &mockFitness{planErr: repository.ErrNotFound, workoutsErr: repository.ErrNotFound}
}

func newTestChatService(t *testing.T, p ParamGetter, llm LLMStreamer, state ChatStateStore, fitness FitnessContextStore) *ChatService {
	t.Helper()
	svc, err := NewChatService(p, llm, state, fitness, "/prefix", 20, 300)
	require.NoError(t, err)
	return svc
}

func collectSink() (func(string) error, *[]string) {
	var deltas []string
	return func(d string) error {
		deltas = append(deltas, d)
		return nil
	}, &deltas
}

func TestNewChatService_ValidatesDependencies(t *testing.T) {
	_, err := NewChatService(nil, &mockLLM{}, &mockChatState{}, emptyFitness(), "/prefix", 20, 300)
	require.Error(t, err)

	_, err = NewChatService(defaultChatParams(), nil, &mockChatState{}, emptyFitness(), "/prefix", 20, 300)
	require.Error(t, err)

	_, err = NewChatService(defaultChatParams(), &mockLLM{}, nil, emptyFitness(), "/prefix", 20, 300)
	require.Error(t, err)

	_, err = NewChatService(defaultChatParams(), &mockLLM{}, &mockChatState{}, nil, "/prefix", 20, 300)
	require.Error(t, err)

	_, err = NewChatService(defaultChatParams(), &mockLLM{}, &mockChatState{}, emptyFitness(), " ", 20, 300)
	require.Error(t, err)
}

func TestStream_HappyPath(t *testing.T) {
	state := &mockChatState{}
	llm := &mockLLM{stream: streamOf("Rest ", "one day ", "between sessions.")}
	svc := newTestChatService(t, defaultChatParams(), llm, state, emptyFitness())

	sink, deltas := collectSink()
	out, err := svc.Stream(context.Background(), "user-1", ChatInput{Question: "How often should I rest?", ConversationID: "conv-1"}, sink)
	require.NoError(t, err)
	require.Equal(t, "Rest one day between sessions.", out.Answer)
	require.Equal(t, "conv-1", out.ConversationID)
	require.Equal(t, []string{"Rest ", "one day ", "between sessions."}, *deltas)

	require.True(t, state.saveCompletedInvoked)
	require.Equal(t, "conv-1", state.savedConversationID)
	require.Equal(t, "How often should I rest?", state.savedQuestion)
	require.Equal(t, "Rest one day between sessions.", state.savedAnswer)
	require.Equal(t, 1, state.savedTurns)
	require.True(t, llm.stream.closed)
	require.Equal(t, "gpt-4o-mini", llm.capturedMdl)
}

func TestStream_MissingConversationID_GeneratesID(t *testing.T) {
	state := &mockChatState{}
	llm := &mockLLM{stream: streamOf("Sure.")}
	svc := newTestChatService(t, defaultChatParams(), llm, state, emptyFitness())

	out, err := svc.Stream(context.Background(), "user-1", ChatInput{Question: "Is cardio enough?"}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, out.ConversationID)
	// A fresh conversation has no persisted turns to count.
	require.Zero(t, state.turnCountCalls)
}

func TestStream_ValidationErrors(t *testing.T) {
	svc := newTestChatService(t, defaultChatParams(), &mockLLM{}, &mockChatState{}, emptyFitness())

	_, err := svc.Stream(context.Background(), "", ChatInput{Question: "hi"}, nil)
	expectUsecaseError(t, err, ErrorInvalidInput, "missing_user")

	_, err = svc.Stream(context.Background(), "user-1", ChatInput{Question: "   "}, nil)
	expectUsecaseError(t, err, ErrorInvalidInput, "empty_question")

	_, err = svc.Stream(context.Background(), "user-1", ChatInput{Question: strings.Repeat("a", 301)}, nil)
	expectUsecaseError(t, err, ErrorInvalidInput, "question_too_long")
}

func TestStream_SSMLoadError_IsRetriedOnNextRequest(t *testing.T) {
	p := &transientParams{mockParams: defaultChatParams(), failOnce: true}
	llm := &mockLLM{stream: streamOf("ok")}
	svc := newTestChatService(t, p, llm, &mockChatState{}, emptyFitness())

	_, err := svc.Stream(context.Background(), "user-1", ChatInput{Question: "hi"}, nil)
	expectUsecaseError(t, err, ErrorInternal, "ssm_load_error")

	out, err := svc.Stream(context.Background(), "user-1", ChatInput{Question: "hi"}, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", out.Answer)
}

func TestStream_ConversationTurnLimit(t *testing.T) {
	state := &mockChatState{turnCount: 10}
	llm := &mockLLM{stream: streamOf("ok")}
	svc := newTestChatService(t, defaultChatParams(), llm, state, emptyFitness())

	_, err := svc.Stream(context.Background(), "user-1", ChatInput{Question: "hi", ConversationID: "conv-1"}, nil)
	expectUsecaseError(t, err, ErrorInvalidInput, "conversation_turn_limit")
	require.Zero(t, llm.streamCalls)
	require.False(t, state.saveCompletedInvoked)
}

func TestStream_TurnCountError(t *testing.T) {
	state := &mockChatState{turnCountErr: errors.New("meta read failed")}
	svc := newTestChatService(t, defaultChatParams(), &mockLLM{stream: streamOf("ok")}, state, emptyFitness())

	_, err := svc.Stream(context.Background(), "user-1", ChatInput{Question: "hi", ConversationID: "conv-1"}, nil)
	expectUsecaseError(t, err, ErrorInternal, "turn_count_error")
}

func TestStream_ModerationOutcomes(t *testing.T) {
	svc := newTestChatService(t, defaultChatParams(), &mockLLM{flagged: true}, &mockChatState{}, emptyFitness())
	_, err := svc.Stream(context.Background(), "user-1", ChatInput{Question: "unsafe"}, nil)
	expectUsecaseError(t, err, ErrorInvalidQuestion, "moderation_flagged")

	llm := &mockLLM{moderateErr: &openai.HTTPStatusError{StatusCode: http.StatusTooManyRequests}}
	svc = newTestChatService(t, defaultChatParams(), llm, &mockChatState{}, emptyFitness())
	_, err = svc.Stream(context.Background(), "user-1", ChatInput{Question: "hi"}, nil)
	expectUsecaseError(t, err, ErrorRateLimited, "moderation_rate_limited")

	llm = &mockLLM{moderateErr: &openai.HTTPStatusError{StatusCode: http.StatusInternalServerError}}
	svc = newTestChatService(t, defaultChatParams(), llm, &mockChatState{}, emptyFitness())
	_, err = svc.Stream(context.Background(), "user-1", ChatInput{Question: "hi"}, nil)
	expectUsecaseError(t, err, ErrorUpstream, "moderation_error")
}

func TestStream_HistoryError(t *testing.T) {
	state := &mockChatState{historyErr: errors.New("dynamodb down")}
	svc := newTestChatService(t, defaultChatParams(), &mockLLM{stream: streamOf("ok")}, state, emptyFitness())

	_, err := svc.Stream(context.Background(), "user-1", ChatInput{Question: "hi"}, nil)
	expectUsecaseError(t, err, ErrorInternal, "history_error")
}

func TestStream_OpenAIErrors(t *testing.T) {
	llm := &mockLLM{streamErr: &openai.HTTPStatusError{StatusCode: http.StatusTooManyRequests}}
	svc := newTestChatService(t, defaultChatParams(), llm, &mockChatState{}, emptyFitness())
	_, err := svc.Stream(context.Background(), "user-1", ChatInput{Question: "hi"}, nil)
	expectUsecaseError(t, err, ErrorRateLimited, "openai_rate_limited")

	llm = &mockLLM{streamErr: &openai.HTTPStatusError{StatusCode: http.StatusInternalServerError}}
	svc = newTestChatService(t, defaultChatParams(), llm, &mockChatState{}, emptyFitness())
	_, err = svc.Stream(context.Background(), "user-1", ChatInput{Question: "hi"}, nil)
	expectUsecaseError(t, err, ErrorUpstream, "openai_error")
}

func TestStream_MidStreamError_NothingPersisted(t *testing.T) {
	stream := &fakeTurnStream{
		events:   []domain.StreamEvent{domain.ContentDelta{Text: "Rest "}},
		finalErr: errors.New("connection reset"),
	}
	state := &mockChatState{}
	svc := newTestChatService(t, defaultChatParams(), &mockLLM{stream: stream}, state, emptyFitness())

	sink, deltas := collectSink()
	_, err := svc.Stream(context.Background(), "user-1", ChatInput{Question: "hi"}, sink)
	expectUsecaseError(t, err, ErrorUpstream, "openai_stream_error")

	// Deltas already forwarded are the caller's problem to roll back; the
	// turn itself must never be saved.
	require.Equal(t, []string{"Rest "}, *deltas)
	require.False(t, state.saveCompletedInvoked)
	require.True(t, stream.closed)
}

func TestStream_SinkError_NothingPersisted(t *testing.T) {
	state := &mockChatState{}
	svc := newTestChatService(t, defaultChatParams(), &mockLLM{stream: streamOf("ok")}, state, emptyFitness())

	_, err := svc.Stream(context.Background(), "user-1", ChatInput{Question: "hi"}, func(string) error {
		return errors.New("client went away")
	})
	expectUsecaseError(t, err, ErrorInternal, "sink_write_error")
	require.False(t, state.saveCompletedInvoked)
}

func TestStream_EmptyAnswer(t *testing.T) {
	svc := newTestChatService(t, defaultChatParams(), &mockLLM{stream: streamOf()}, &mockChatState{}, emptyFitness())
	_, err := svc.Stream(context.Background(), "user-1", ChatInput{Question: "hi"}, nil)
	expectUsecaseError(t, err, ErrorUpstream, "openai_empty_answer")
}

func TestStream_SaveError(t *testing.T) {
	state := &mockChatState{saveErr: errors.New("write failed")}
	svc := newTestChatService(t, defaultChatParams(), &mockLLM{stream: streamOf("ok")}, state, emptyFitness())

	_, err := svc.Stream(context.Background(), "user-1", ChatInput{Question: "hi"}, nil)
	expectUsecaseError(t, err, ErrorInternal, "turn_write_error")
}

func TestStream_SaveTurn_UsesPersistedTurnCount(t *testing.T) {
	state := &mockChatState{turnCount: 9}
	svc := newTestChatService(t, defaultChatParams(), &mockLLM{stream: streamOf("great answer")}, state, emptyFitness())

	_, err := svc.Stream(context.Background(), "user-1", ChatInput{Question: "hi", ConversationID: "conv-1"}, nil)
	require.NoError(t, err)
	require.True(t, state.saveCompletedInvoked)
	require.Equal(t, 10, state.savedTurns)
}

func TestStream_FitnessContextErrorsAreSwallowed(t *testing.T) {
	fitness := &mockFitness{planErr: errors.New("plan read failed"), workoutsErr: errors.New("log read failed")}
	svc := newTestChatService(t, defaultChatParams(), &mockLLM{stream: streamOf("ok")}, &mockChatState{}, fitness)

	out, err := svc.Stream(context.Background(), "user-1", ChatInput{Question: "hi"}, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", out.Answer)
}

func TestStream_PromptIncludesPlanAndHistory(t *testing.T) {
	fitness := &mockFitness{
		plan: domain.Plan{
			Profile:  domain.Profile{Goal: domain.GoalLoseWeight, Level: domain.LevelBeginner, Equipment: domain.EquipmentHome, DaysPerWeek: 3},
			BMI:      27.5,
			BMIClass: domain.BMIOverweight,
			Schedule: []domain.PlanDay{{Day: "Day 1", Focus: "cardio", Exercises: []string{"jump rope"}}},
		},
		workouts: []domain.WorkoutEntry{{
			Activity: "morning run", DurationMin: 30, Calories: 300,
			PerformedAt: time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC),
		}},
	}
	history := []domain.Turn{
		{Question: "How do I start?", Answer: "Start slow.", Status: domain.TurnStatusComplete},
		{Question: "pending question", Status: domain.TurnStatusPending},
	}
	llm := &mockLLM{stream: streamOf("ok")}
	svc := newTestChatService(t, defaultChatParams(), llm, &mockChatState{history: history}, fitness)

	_, err := svc.Stream(context.Background(), "user-1", ChatInput{Question: "What next?", ConversationID: "conv-1"}, nil)
	require.NoError(t, err)

	// Two system messages, one completed turn replayed as a pair, the question.
	require.Len(t, llm.capturedMsgs, 5)
	require.Equal(t, domain.RoleSystem, llm.capturedMsgs[0].Role)
	require.Contains(t, llm.capturedMsgs[1].Content, "You are FitCoach.")
	require.Contains(t, llm.capturedMsgs[1].Content, "Current plan:")
	require.Contains(t, llm.capturedMsgs[1].Content, "BMI: 27.5 (overweight)")
	require.Contains(t, llm.capturedMsgs[1].Content, "2026-03-10: morning run, 30 min, 300 kcal")
	require.Equal(t, "How do I start?", llm.capturedMsgs[2].Content)
	require.Equal(t, "Start slow.", llm.capturedMsgs[3].Content)
	require.Equal(t, "What next?", llm.capturedMsgs[4].Content)
}

func TestBuildFitnessContextPrompt_NoContext(t *testing.T) {
	content := buildFitnessContextPrompt(promptContext{pinnedPrompt: "Pinned"})
	require.Contains(t, content, "Pinned")
	require.Contains(t, content, "Current plan: none generated yet.")
	require.Contains(t, content, "Recent workouts: none logged yet.")
}

func TestBuildPolicyPrompt_IncludesRules(t *testing.T) {
	content := buildPolicyPrompt()
	require.Contains(t, content, "Role:")
	require.Contains(t, content, "Behavior Rules:")
	require.Contains(t, content, "Answer only the current user question")
	require.Contains(t, content, "Never give medical diagnoses")
}
