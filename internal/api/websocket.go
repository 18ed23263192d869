package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/guestlink-core/internal/infrastructure/config"
)

const (
	// defaultWSWriteWait bounds a single write when pong_timeout is unset.
	defaultWSWriteWait = 10 * time.Second

	// closeTryAgainLater is the close code sent when every slot is taken.
	closeTryAgainLater = 1013
)

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// wsSink is a fan-out Sink backed by a WebSocket connection. Snapshots are
// text messages; keepalives are ping control frames.
type wsSink struct {
	conn      *websocket.Conn
	writeWait time.Duration

	mu sync.Mutex // gorilla allows one concurrent writer
}

func newWSSink(conn *websocket.Conn, cfg config.WebSocketConfig) *wsSink {
	return &wsSink{conn: conn, writeWait: streamWriteWait(cfg)}
}

// streamWriteWait is the bound on one write to any event stream client.
func streamWriteWait(cfg config.WebSocketConfig) time.Duration {
	wait := time.Duration(cfg.PongTimeout) * time.Second
	if wait <= 0 {
		wait = defaultWSWriteWait
	}
	return wait
}

func (s *wsSink) WriteSnapshot(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	//nolint:errcheck // Best-effort deadline; write error caught below
	s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSink) WriteKeepalive() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeWait))
}

// handleGuestWebSocket upgrades the connection and subscribes it to registry
// snapshots. It returns once the client disconnects or the subscription is
// evicted.
func (s *Server) handleGuestWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.fanout.Active() >= s.fanout.MaxClients() {
		writeUnavailable(w, "all event stream slots are busy")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if s.wsCfg.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	}

	sink := newWSSink(conn, s.wsCfg)
	sub, ok := s.fanout.Subscribe(sink)
	if !ok {
		// Lost the race for the last slot.
		msg := websocket.FormatCloseMessage(closeTryAgainLater, "all slots busy")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(sink.writeWait)) //nolint:errcheck // closing anyway
		return
	}
	defer s.fanout.Unsubscribe(sub)

	s.logger.Debug("websocket subscriber connected", "subscription", sub.ID(), "remote", r.RemoteAddr)

	// Eviction closes the connection, which ends the read loop below.
	go func() {
		<-sub.Done()
		conn.Close()
	}()

	// The client sends nothing meaningful; reading services pong and close
	// frames and detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", "subscription", sub.ID(), "error", err)
			}
			return
		}
	}
}
