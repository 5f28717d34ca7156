package domain

// StreamEvent is a sealed interface over decoded chat-completion stream
// events. Transport and protocol errors are reported out of band, via the
// error return of the decoder, never as events.
type StreamEvent interface {
	streamEvent()
}

// ContentDelta carries an incremental fragment of assistant text. The
// concatenation of all deltas, in arrival order, is the full reply.
type ContentDelta struct {
	Text string
}

func (ContentDelta) streamEvent() {}

// StreamEnd signals the completion sentinel. No further events follow.
type StreamEnd struct{}

func (StreamEnd) streamEvent() {}

// Interface compliance checks.
var (
	_ StreamEvent = ContentDelta{}
	_ StreamEvent = StreamEnd{}
)
