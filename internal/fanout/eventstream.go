package fanout

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

var (
	dataPrefix     = []byte("data: ")
	eventTerm      = []byte("\n")
	keepaliveEvent = []byte(": keepalive\n\n")
)

// EventStream is a Sink that frames writes as Server-Sent Events.
//
// It is safe for concurrent use. After Close every write fails with
// ErrSinkClosed, which makes the multiplexer evict it.
type EventStream struct {
	mu           sync.Mutex
	w            io.Writer
	flusher      http.Flusher
	rc           *http.ResponseController
	writeTimeout time.Duration
	closed       bool
}

// NewEventStream wraps w. If w is an http.Flusher it is flushed after every
// event.
func NewEventStream(w io.Writer) *EventStream {
	s := &EventStream{w: w}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	if rw, ok := w.(http.ResponseWriter); ok {
		s.rc = http.NewResponseController(rw)
	}
	return s
}

// SetWriteTimeout bounds every later write on an http.ResponseWriter with a
// connection write deadline. A client that stops reading then fails the
// write instead of blocking it. Zero disables the bound.
func (s *EventStream) SetWriteTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeTimeout = d
}

// WriteSnapshot writes data as one event. Each line of data becomes a
// "data:" field.
func (s *EventStream) WriteSnapshot(data []byte) error {
	var buf bytes.Buffer
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.Write(dataPrefix)
		buf.Write(line)
		buf.Write(eventTerm)
	}
	buf.Write(eventTerm)
	return s.write(buf.Bytes())
}

// WriteKeepalive writes an SSE comment line.
func (s *EventStream) WriteKeepalive() error {
	return s.write(keepaliveEvent)
}

// Flush sends any buffered output, committing response headers on an
// http.ResponseWriter.
func (s *EventStream) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && s.flusher != nil {
		s.flusher.Flush()
	}
}

// Close makes all further writes fail.
func (s *EventStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *EventStream) write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if s.rc != nil && s.writeTimeout > 0 {
		//nolint:errcheck // writers without deadline support keep the server timeout
		s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if _, err := s.w.Write(p); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
