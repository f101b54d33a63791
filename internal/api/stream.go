package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/cagesim/internal/world"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Observation is public; CORS does not apply to WebSocket handshakes.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamMessage is one batch of samples pushed to a stream client.
// Reset is set when the topology was replaced and the series restarted.
type StreamMessage struct {
	Generation uint64         `json:"generation"`
	Reset      bool           `json:"reset,omitempty"`
	Samples    []world.Sample `json:"samples"`
}

// handleStream upgrades to a WebSocket and pushes every new sample. The
// client first receives the whole history so far.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.acquireStream() {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseStream()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		slog.Debug("stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	slog.Info("stream client connected", "remote", r.RemoteAddr)
	closed := make(chan struct{})
	go readPump(conn, closed)

	interval := s.StreamInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	poll := time.NewTicker(interval)
	defer poll.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	next := 0
	var gen uint64
	first := true
	for {
		samples, n, g := s.Sim.HistorySince(next)
		if !first && g != gen {
			// A replaced topology restarts the series from index 0.
			samples, n, g = s.Sim.HistorySince(0)
		}
		if first || len(samples) > 0 || g != gen {
			msg := StreamMessage{Generation: g, Reset: !first && g != gen, Samples: orEmpty(samples)}
			if err := writeMessage(conn, msg); err != nil {
				slog.Debug("stream write failed", "error", err)
				return
			}
		}
		next, gen, first = n, g, false

		select {
		case <-closed:
			slog.Info("stream client disconnected", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-poll.C:
		}
	}
}

func writeMessage(conn *websocket.Conn, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readPump consumes control frames so pongs and close frames are handled,
// and closes done when the peer goes away. Clients have nothing to send.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("stream read error", "error", err)
			}
			return
		}
	}
}
