package openai

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"fitness-agent/internal/domain"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"

	readChunkSize = 4 << 10

	// maxPendingBytes bounds the partial-line buffer. A malformed data line
	// is held and re-tried as more fragments arrive; without a cap a stream
	// that never produces a parseable line would buffer forever.
	maxPendingBytes = 1 << 20
)

// ErrPendingOverflow reports a pending buffer that exceeded maxPendingBytes.
var ErrPendingOverflow = errors.New("openai: stream pending buffer exceeded limit")

// chatChunk is the minimal shape of one streamed completion chunk.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Decoder incrementally decodes a chat-completion event stream: newline
// delimited "data: " frames, comments prefixed ":", and a "[DONE]" sentinel.
//
// Fragments read from the transport carry no alignment guarantee, so the
// decoder buffers raw bytes and only ever splits on '\n'. Multi-byte UTF-8
// runes split across fragments reassemble in the buffer before any string
// conversion happens.
//
// A Decoder is single-use and not safe for concurrent use. Create one per
// request and discard it once Next returns io.EOF or an error.
type Decoder struct {
	r       io.Reader
	pending []byte
	scratch []byte

	// stalled is set when a malformed data line was pushed back onto the
	// buffer front. Line extraction resumes only after the next fragment
	// arrives; re-scanning the same bytes would loop forever.
	stalled bool

	done    bool  // [DONE] observed; no further input is consumed
	readErr error // deferred terminal reader state (io.EOF or transport error)
}

// NewDecoder creates a Decoder reading fragments from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, scratch: make([]byte, readChunkSize)}
}

// Next returns the next decoded event. It returns io.EOF once the [DONE]
// sentinel has been emitted or the input is exhausted. Any other error is a
// terminal transport or framing failure; Next must not be called again.
func (d *Decoder) Next() (domain.StreamEvent, error) {
	for {
		if d.done {
			return nil, io.EOF
		}
		if !d.stalled {
			if evt, ok := d.nextFromPending(); ok {
				return evt, nil
			}
		}
		if d.readErr != nil {
			// Input ended. A buffered partial (or held malformed) line can
			// never complete, so the event sequence ends here too.
			if errors.Is(d.readErr, io.EOF) {
				return nil, io.EOF
			}
			return nil, d.readErr
		}

		n, err := d.r.Read(d.scratch)
		if n > 0 {
			d.pending = append(d.pending, d.scratch[:n]...)
			d.stalled = false
			if len(d.pending) > maxPendingBytes {
				d.readErr = ErrPendingOverflow
				return nil, d.readErr
			}
		}
		if err != nil {
			d.readErr = err
		}
	}
}

// nextFromPending extracts complete lines from the buffer front until one
// yields an event. ok is false when more input is needed, either because no
// full line remains or because a malformed line was pushed back.
func (d *Decoder) nextFromPending() (domain.StreamEvent, bool) {
	for {
		idx := bytes.IndexByte(d.pending, '\n')
		if idx < 0 {
			return nil, false
		}
		raw := d.pending[:idx]
		d.pending = d.pending[idx+1:]

		line := strings.TrimSuffix(string(raw), "\r")
		if strings.HasPrefix(line, ":") {
			continue // comment
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if payload == doneSentinel {
			d.done = true
			return domain.StreamEnd{}, true
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// Treat the parse failure as an event that spans a boundary the
			// line splitter did not expect: restore the original line intact
			// and wait for the next fragment to complete it.
			d.pushBack(raw)
			d.stalled = true
			return nil, false
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			return domain.ContentDelta{Text: chunk.Choices[0].Delta.Content}, true
		}
		// Role announcements, empty deltas, usage chunks: nothing to emit.
	}
}

// pushBack restores a consumed line (plus its newline) to the buffer front.
func (d *Decoder) pushBack(line []byte) {
	restored := make([]byte, 0, len(line)+1+len(d.pending))
	restored = append(restored, line...)
	restored = append(restored, '\n')
	restored = append(restored, d.pending...)
	d.pending = restored
}
