package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"fitness-agent/internal/domain"
)

const (
	defaultMaxContext    = 20
	defaultMaxQuestion   = 300
	maxConversationTurns = 10
	// planContextWorkouts is how many recent log entries ground the coach.
	planContextWorkouts = 10
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// TurnStream is one in-flight streaming completion, pull-based. io.EOF from
// Next signals normal completion; any other error is terminal and the
// accumulated text must be discarded.
type TurnStream interface {
	Next() (domain.StreamEvent, error)
	Text() string
	Close() error
}

// LLMStreamer opens streaming completions and moderates input.
type LLMStreamer interface {
	ChatStream(ctx context.Context, model string, messages []domain.ChatMessage) (TurnStream, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

// ChatStateStore persists conversation turns per user.
type ChatStateStore interface {
	GetTurnCount(ctx context.Context, userID, conversationID string) (int, error)
	GetHistory(ctx context.Context, userID, conversationID string, limit int) ([]domain.Turn, error)
	SaveCompletedTurn(ctx context.Context, userID, conversationID, question, answer string, turns int) error
}

// FitnessContextStore supplies the user's plan and recent workouts so the
// coach can answer against them.
type FitnessContextStore interface {
	LatestPlan(ctx context.Context, userID string) (domain.Plan, error)
	ListWorkouts(ctx context.Context, userID string, limit int) ([]domain.WorkoutEntry, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ChatService runs one streaming coach exchange per call: moderation,
// context assembly, upstream streaming, and persistence of completed turns.
type ChatService struct {
	params          ParamGetter
	llm             LLMStreamer
	state           ChatStateStore
	fitness         FitnessContextStore
	paramPrefix     string
	maxContextItems int
	maxQuestionLen  int

	cacheMu      sync.RWMutex
	cacheLoaded  bool
	pinnedPrompt string
	openaiModel  string
}

type ChatInput struct {
	Question       string
	ConversationID string
}

type ChatOutput struct {
	Answer         string
	ConversationID string
}

func NewChatService(p ParamGetter, llm LLMStreamer, state ChatStateStore, fitness FitnessContextStore, paramPrefix string, maxContextItems, maxQuestionLen int) (*ChatService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm streamer must not be nil")
	}
	if state == nil {
		return nil, errors.New("usecase: chat state store must not be nil")
	}
	if fitness == nil {
		return nil, errors.New("usecase: fitness context store must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if maxContextItems <= 0 {
		maxContextItems = defaultMaxContext
	}
	if maxQuestionLen <= 0 {
		maxQuestionLen = defaultMaxQuestion
	}
	return &ChatService{
		params:          p,
		llm:             llm,
		state:           state,
		fitness:         fitness,
		paramPrefix:     paramPrefix,
		maxContextItems: maxContextItems,
		maxQuestionLen:  maxQuestionLen,
	}, nil
}

// Stream runs one exchange, invoking sink for every content delta in arrival
// order. On success the completed turn is persisted and the full answer
// returned. On any error nothing is persisted: deltas already delivered to
// the sink must be treated as discarded by the caller.
func (s *ChatService) Stream(ctx context.Context, userID string, in ChatInput, sink func(delta string) error) (ChatOutput, error) {
	if userID == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "missing_user", nil)
	}
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	if len(question) > s.maxQuestionLen {
		return ChatOutput{}, newError(ErrorInvalidInput, "question_too_long", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return ChatOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		convID = newUUID()
	}

	existingTurns := 0
	if strings.TrimSpace(in.ConversationID) != "" {
		turnCount, err := s.state.GetTurnCount(ctx, userID, convID)
		if err != nil {
			return ChatOutput{}, newError(ErrorInternal, "turn_count_error", err)
		}
		existingTurns = turnCount
		if existingTurns >= maxConversationTurns {
			return ChatOutput{}, newError(ErrorInvalidInput, "conversation_turn_limit", nil)
		}
	}

	flagged, err := s.llm.Moderate(ctx, question)
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return ChatOutput{}, newError(ErrorRateLimited, "moderation_rate_limited", err)
		}
		return ChatOutput{}, newError(ErrorUpstream, "moderation_error", err)
	}
	if flagged {
		return ChatOutput{}, newError(ErrorInvalidQuestion, "moderation_flagged", nil)
	}

	history, err := s.state.GetHistory(ctx, userID, convID, s.maxContextItems)
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "history_error", err)
	}

	fitnessCtx := s.loadFitnessContext(ctx, userID)

	stream, err := s.llm.ChatStream(ctx, s.openaiModel, buildPromptMessages(
		promptContext{
			pinnedPrompt: s.pinnedPrompt,
			plan:         fitnessCtx.plan,
			workouts:     fitnessCtx.workouts,
		},
		question,
		history,
	))
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return ChatOutput{}, newError(ErrorRateLimited, "openai_rate_limited", err)
		}
		return ChatOutput{}, newError(ErrorUpstream, "openai_error", err)
	}
	defer func() { _ = stream.Close() }()

	if err := drainStream(stream, sink); err != nil {
		return ChatOutput{}, err
	}

	answer := strings.TrimSpace(stream.Text())
	if answer == "" {
		return ChatOutput{}, newError(ErrorUpstream, "openai_empty_answer", nil)
	}

	if err := s.state.SaveCompletedTurn(ctx, userID, convID, question, answer, existingTurns+1); err != nil {
		return ChatOutput{}, newError(ErrorInternal, "turn_write_error", err)
	}

	return ChatOutput{Answer: answer, ConversationID: convID}, nil
}

// drainStream pulls events until completion, forwarding deltas to sink.
func drainStream(stream TurnStream, sink func(delta string) error) error {
	for {
		evt, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return newError(ErrorUpstream, "openai_stream_error", err)
		}
		switch e := evt.(type) {
		case domain.ContentDelta:
			if sink != nil {
				if sinkErr := sink(e.Text); sinkErr != nil {
					return newError(ErrorInternal, "sink_write_error", sinkErr)
				}
			}
		case domain.StreamEnd:
			return nil
		}
	}
}

type fitnessContext struct {
	plan     *domain.Plan
	workouts []domain.WorkoutEntry
}

// loadFitnessContext is best-effort: a coach without plan context is still a
// coach, so store errors here are swallowed rather than failing the exchange.
func (s *ChatService) loadFitnessContext(ctx context.Context, userID string) fitnessContext {
	var out fitnessContext
	if plan, err := s.fitness.LatestPlan(ctx, userID); err == nil {
		out.plan = &plan
	}
	if entries, err := s.fitness.ListWorkouts(ctx, userID, planContextWorkouts); err == nil {
		out.workouts = entries
	}
	return out
}

func (s *ChatService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	pinnedPrompt, openaiModel, err := s.loadSSMParams(ctx)
	if err != nil {
		return err
	}

	s.pinnedPrompt = pinnedPrompt
	s.openaiModel = openaiModel
	s.cacheLoaded = true
	return nil
}

func (s *ChatService) loadSSMParams(ctx context.Context) (pinnedPrompt, openaiModel string, err error) {
	prefix := strings.TrimRight(s.paramPrefix, "/")

	pinnedPrompt, err = s.params.GetParameter(ctx, prefix+"/pinned_prompt")
	if err != nil {
		return "", "", fmt.Errorf("usecase: load pinned prompt: %w", err)
	}
	openaiModel, err = s.params.GetParameter(ctx, prefix+"/config/openai_model")
	if err != nil {
		return "", "", fmt.Errorf("usecase: load openai model: %w", err)
	}
	return pinnedPrompt, openaiModel, nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
