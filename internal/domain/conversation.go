package domain

import "time"

// Turn statuses. Only complete turns feed back into prompt context.
const (
	TurnStatusComplete = "complete"
	TurnStatusPending  = "pending"
)

// Turn is a single persisted conversation exchange: the user's question and
// the assistant's full reply.
type Turn struct {
	ConversationID string
	Question       string
	Answer         string
	Status         string
	CreatedAt      time.Time
}

// ConversationMeta stores aggregate conversation state.
type ConversationMeta struct {
	ConversationID string
	Turns          int
	LastActivity   time.Time
}
