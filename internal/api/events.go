package api

import (
	"net/http"
	"time"

	"github.com/nerrad567/guestlink-core/internal/fanout"
)

// handleGuestEvents streams registry snapshots as Server-Sent Events.
//
// The request holds a fan-out slot until the client disconnects or the
// stream is evicted. When every slot is taken the request gets 503.
func (s *Server) handleGuestEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		writeInternalError(w, "streaming not supported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")

	// The stream outlives the server write timeout; each event gets its
	// own deadline instead.
	rc := http.NewResponseController(w)
	rc.SetWriteDeadline(time.Time{}) //nolint:errcheck // unsupported writers keep the server timeout

	stream := fanout.NewEventStream(w)
	stream.SetWriteTimeout(streamWriteWait(s.wsCfg))
	sub, ok := s.fanout.Subscribe(stream)
	if !ok {
		writeUnavailable(w, "all event stream slots are busy")
		return
	}
	defer func() {
		stream.Close() //nolint:errcheck // always nil
		s.fanout.Unsubscribe(sub)
	}()

	// Commits the headers when no snapshot was sent on connect.
	stream.Flush()

	s.logger.Debug("event stream opened", "subscription", sub.ID(), "remote", r.RemoteAddr)

	select {
	case <-sub.Done():
		s.logger.Debug("event stream ended by server", "subscription", sub.ID())
	case <-r.Context().Done():
		s.logger.Debug("event stream closed by client", "subscription", sub.ID())
	}
}
