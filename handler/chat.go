package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"fitness-agent/internal/usecase"
)

// chatRequest is the chat widget payload.
type chatRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Relay frame shapes. Deltas stream as they decode; the done frame carries
// the conversation ID so the client can continue the thread.
type deltaFrame struct {
	Delta string `json:"delta"`
}

type doneFrame struct {
	ConversationID string `json:"conversationId"`
}

// handleChat relays the coach reply as a server-sent event stream:
//
//	data: {"delta":"..."}        one frame per decoded content delta
//	event: done
//	data: {"conversationId":..}  on success, followed by data: [DONE]
//	event: error
//	data: {"error":..}           upstream failed mid-stream; discard partial
//
// Errors before the first delta (validation, moderation, upstream refused)
// are plain JSON responses with the usual status mapping.
func (a *API) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_body"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Reason: "streaming_unsupported"})
		return
	}

	relay := &sseRelay{w: w, flusher: flusher}
	out, err := a.chat.Stream(r.Context(), userIDFrom(r.Context()), usecase.ChatInput{
		Question:       req.Question,
		ConversationID: req.ConversationID,
	}, relay.sendDelta)
	if err != nil {
		if !relay.started {
			a.writeError(w, r, err)
			return
		}
		// Headers are gone; the stream itself must carry the failure so the
		// client can roll back the partial assistant message.
		a.logger.Error("chat stream failed mid-flight",
			"err", err,
			"correlationId", correlationIDFrom(r.Context()),
		)
		relay.sendError(err)
		return
	}

	relay.sendDone(out.ConversationID)
}

// sseRelay writes relay frames, deferring headers until the first delta so
// early failures can still use a plain JSON error response.
type sseRelay struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseRelay) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
}

func (s *sseRelay) sendDelta(delta string) error {
	s.start()
	payload, err := json.Marshal(deltaFrame{Delta: delta})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseRelay) sendDone(conversationID string) {
	s.start()
	payload, _ := json.Marshal(doneFrame{ConversationID: conversationID})
	fmt.Fprintf(s.w, "event: done\ndata: %s\n\n", payload)
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}

func (s *sseRelay) sendError(err error) {
	_, body := mapError(err)
	payload, _ := json.Marshal(body)
	fmt.Fprintf(s.w, "event: error\ndata: %s\n\n", payload)
	s.flusher.Flush()
}
