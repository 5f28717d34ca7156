package openai

import (
	"errors"
	"io"
	"strings"

	"fitness-agent/internal/domain"
)

// ChatStream is the pull-based view of one in-flight streaming completion.
// It owns the HTTP response body and accumulates the assistant reply as
// deltas are consumed.
//
// A ChatStream is single-use and driven by one goroutine; the surrounding
// application never has more than one exchange in flight per stream.
type ChatStream struct {
	body io.ReadCloser
	dec  *Decoder
	text strings.Builder
	err  error // terminal error, sticky
}

func newChatStream(body io.ReadCloser) *ChatStream {
	return &ChatStream{body: body, dec: NewDecoder(body)}
}

// Next returns the next stream event. io.EOF signals normal completion,
// either via the [DONE] sentinel (after a StreamEnd event) or transport
// close. Any other error is terminal: the reply assembled so far must be
// treated as discarded.
func (s *ChatStream) Next() (domain.StreamEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	evt, err := s.dec.Next()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
		return nil, err
	}
	if delta, ok := evt.(domain.ContentDelta); ok {
		s.text.WriteString(delta.Text)
	}
	return evt, nil
}

// Text returns the reply accumulated so far.
func (s *ChatStream) Text() string {
	return s.text.String()
}

// Close closes the underlying response body. Closing mid-stream is the only
// cancellation mechanism besides the request context.
func (s *ChatStream) Close() error {
	return s.body.Close()
}
