// Package dialect translates between upstream wire dialects and the
// canonical model. One Adapter per dialect, selected by provider type, each
// covering request bodies and streaming chunk framing in both directions.
package dialect

import (
	"bytes"
	"fmt"

	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
)

// ProtocolError reports malformed upstream/downstream payloads. It is
// surfaced to the caller and the connection is terminated cleanly; the
// adapter never emits a half-written frame.
type ProtocolError struct {
	// Dialect is the adapter that rejected the payload.
	Dialect mux.ProviderType
	// Reason describes the malformation.
	Reason string
	// Err is the underlying parse error, if any.
	Err error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s protocol error: %s: %v", e.Dialect, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s protocol error: %s", e.Dialect, e.Reason)
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error { return e.Err }

// StreamDecoder reassembles dialect-specific chunk framing from transport
// reads. Frames may arrive fragmented; partial frames are buffered until
// complete. Implementations are stateful and serve exactly one stream.
type StreamDecoder interface {
	// Feed consumes raw transport bytes and returns the canonical chunks
	// completed by them, in order. The terminal chunk (Done() == true) is
	// returned exactly once; bytes after it are ignored.
	Feed(p []byte) ([]canon.Chunk, error)
	// Finish flags end of transport. A stream ending without a terminal
	// frame yields a synthesized terminal chunk so downstream framing can
	// close cleanly.
	Finish() ([]canon.Chunk, error)
}

// StreamEncoder renders canonical chunks in a dialect's exact framing,
// including the terminal sentinel, so unmodified client tooling keeps
// parsing the stream. Implementations are stateful and serve one stream.
type StreamEncoder interface {
	// Encode renders one chunk as zero or more complete frames.
	Encode(c canon.Chunk) ([]byte, error)
	// EncodeError renders a valid terminal error frame for mid-stream
	// failures. Partial or corrupt frames are never delivered.
	EncodeError(message string) []byte
}

// Adapter is one dialect's capability set.
type Adapter interface {
	// Type names the dialect.
	Type() mux.ProviderType
	// ParseRequest decodes a request body. Unknown fields are preserved in
	// the canonical request's pass-through bags.
	ParseRequest(raw []byte) (*canon.Request, error)
	// RenderRequest encodes a canonical request as a request body.
	RenderRequest(req *canon.Request) ([]byte, error)
	// NewStreamDecoder creates a decoder for one upstream response stream.
	NewStreamDecoder() StreamDecoder
	// NewStreamEncoder creates an encoder for one downstream response
	// stream.
	NewStreamEncoder(model string) StreamEncoder
	// RenderResponse encodes a fully assembled (non-streaming) response.
	RenderResponse(model, text string, finish canon.FinishReason, usage *canon.Usage) ([]byte, error)
	// ParseResponse decodes a non-streaming upstream response body.
	ParseResponse(raw []byte) (canon.Chunk, error)
}

// Registry selects adapters by provider type.
type Registry struct {
	adapters map[mux.ProviderType]Adapter
}

// NewRegistry creates a registry over the built-in dialects.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[mux.ProviderType]Adapter)}
	for _, a := range []Adapter{
		NewOpenAI(),
		NewAnthropic(),
		NewOllama(),
		NewGemini(),
	} {
		r.adapters[a.Type()] = a
	}
	return r
}

// ForType returns the adapter for a provider type.
func (r *Registry) ForType(t mux.ProviderType) (Adapter, error) {
	a, ok := r.adapters[t]
	if !ok {
		return nil, fmt.Errorf("no adapter for provider type %q", t)
	}
	return a, nil
}

// sseSplitter buffers transport bytes and yields complete server-sent-event
// frames (blocks separated by a blank line). Partial frames stay buffered.
type sseSplitter struct {
	buf bytes.Buffer
}

// feed appends transport bytes and returns the complete frames they finish.
func (s *sseSplitter) feed(p []byte) [][]byte {
	s.buf.Write(p)
	var frames [][]byte
	for {
		data := s.buf.Bytes()
		idx := bytes.Index(data, []byte("\n\n"))
		sep := 2
		if crlf := bytes.Index(data, []byte("\r\n\r\n")); crlf >= 0 && (idx < 0 || crlf < idx) {
			idx, sep = crlf, 4
		}
		if idx < 0 {
			return frames
		}
		frame := make([]byte, idx)
		copy(frame, data[:idx])
		s.buf.Next(idx + sep)
		if len(bytes.TrimSpace(frame)) > 0 {
			frames = append(frames, frame)
		}
	}
}

// rest returns any buffered partial frame.
func (s *sseSplitter) rest() []byte {
	return bytes.TrimSpace(s.buf.Bytes())
}

// sseDataLine extracts the payload of the "data:" line in a frame.
// Returns nil when the frame has no data line (e.g. comments).
func sseDataLine(frame []byte) []byte {
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if rest, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			return bytes.TrimSpace(rest)
		}
	}
	return nil
}

// sseEventName extracts the payload of the "event:" line in a frame.
func sseEventName(frame []byte) string {
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if rest, ok := bytes.CutPrefix(line, []byte("event:")); ok {
			return string(bytes.TrimSpace(rest))
		}
	}
	return ""
}
