package transformheaders

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// StreamState is the lifecycle position of a ContentStream
type StreamState int

const (
	// Accumulating accepts body chunks
	Accumulating StreamState = iota
	// ContextBound exposes the complete body to expressions
	ContextBound
	// Transforming runs the header transformation
	Transforming
	// Forwarding re-emits the buffered body; the stream is closed afterwards
	Forwarding
)

func (s StreamState) String() string {
	switch s {
	case Accumulating:
		return "ACCUMULATING"
	case ContextBound:
		return "CONTEXT_BOUND"
	case Transforming:
		return "TRANSFORMING"
	case Forwarding:
		return "FORWARDING"
	}
	return fmt.Sprintf("StreamState(%d)", int(s))
}

// ErrStreamSealed is returned when a ContentStream is used out of order
var ErrStreamSealed = errors.New("content stream no longer accepts this operation")

// ContentStream buffers a whole body so header expressions can read it, then
// re-emits it unchanged. States only move forward.
type ContentStream struct {
	state  StreamState
	buf    bytes.Buffer
	closed bool
}

// NewContentStream returns a stream in the Accumulating state
func NewContentStream() *ContentStream {
	return &ContentStream{}
}

// State returns the current state
func (s *ContentStream) State() StreamState {
	return s.state
}

// Write buffers p. It fails once the end of the body has been signaled.
func (s *ContentStream) Write(p []byte) (int, error) {
	if s.state != Accumulating {
		return 0, fmt.Errorf("write in state %s: %w", s.state, ErrStreamSealed)
	}
	return s.buf.Write(p)
}

// ReadFrom buffers everything read from r
func (s *ContentStream) ReadFrom(r io.Reader) (int64, error) {
	if s.state != Accumulating {
		return 0, fmt.Errorf("write in state %s: %w", s.state, ErrStreamSealed)
	}
	return s.buf.ReadFrom(r)
}

// End signals the end of the body and returns its content for binding
func (s *ContentStream) End() (string, error) {
	if s.state != Accumulating {
		return "", fmt.Errorf("end in state %s: %w", s.state, ErrStreamSealed)
	}
	s.state = ContextBound
	return s.buf.String(), nil
}

// Transform runs fn once the content is bound
func (s *ContentStream) Transform(fn func() error) error {
	if s.state != ContextBound {
		return fmt.Errorf("transform in state %s: %w", s.state, ErrStreamSealed)
	}
	s.state = Transforming
	return fn()
}

// Forward writes the buffered body to w, only when it is not empty, and closes the stream
func (s *ContentStream) Forward(w io.Writer) (int64, error) {
	if s.state != Transforming {
		return 0, fmt.Errorf("forward in state %s: %w", s.state, ErrStreamSealed)
	}
	s.state = Forwarding
	defer func() { s.closed = true }()
	if s.buf.Len() == 0 {
		return 0, nil
	}
	return s.buf.WriteTo(w)
}

// Closed reports whether the body has been forwarded
func (s *ContentStream) Closed() bool {
	return s.closed
}

// Len returns the number of buffered bytes
func (s *ContentStream) Len() int {
	return s.buf.Len()
}
