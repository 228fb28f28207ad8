package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"pkt.systems/glimt/internal/protocol"
	"pkt.systems/pslog"
)

const (
	wsReadLimit    = 8 << 20 // frames carry whole screen captures
	wsPingInterval = 30 * time.Second
	wsPongTimeout  = 60 * time.Second
)

// HTTPServer exposes the broker WebSocket endpoint and a small read-only
// HTTP surface.
type HTTPServer struct {
	Broker *Broker
	Logger pslog.Logger
}

// NewHTTPServer constructs the broker HTTP surface.
func NewHTTPServer(b *Broker, logger pslog.Logger) *HTTPServer {
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	return &HTTPServer{Broker: b, Logger: logger}
}

// Handler returns the HTTP handler for broker endpoints.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/rooms/", s.handleRoomAction)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRoomAction serves GET /rooms/{roomID}/presence. Lookups on an
// absent room return an empty snapshot, never an error.
func (s *HTTPServer) handleRoomAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/rooms/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "presence" {
		writeError(w, http.StatusNotFound, "unsupported room action")
		return
	}
	writeJSON(w, http.StatusOK, s.Broker.Rooms.PresenceSnapshot(parts[0]))
}

func (s *HTTPServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // browser clients connect from any origin
	})
	if err != nil {
		return
	}
	conn.SetReadLimit(wsReadLimit)

	id := NewConnID()
	logger := s.Logger.With("conn", id)
	peer := newWSPeer(id, conn, logger)
	if _, err := s.Broker.Connect(peer); err != nil {
		peer.Close(err.Error())
		return
	}
	logger.Info("participant connected")
	defer func() {
		s.Broker.Disconnect(id)
		peer.Close("closing")
		logger.Info("participant disconnected")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go peer.writeLoop(ctx)
	go s.pingLoop(ctx, peer)

	s.readLoop(ctx, peer)
}

// readLoop dispatches inbound messages to the broker. Running it on the
// connection's own goroutine preserves per-viewer input ordering.
func (s *HTTPServer) readLoop(ctx context.Context, peer *wsPeer) {
	for {
		msgType, data, err := peer.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				peer.logger.Debug("read failed", "err", err)
			}
			return
		}
		switch msgType {
		case websocket.MessageBinary:
			s.Broker.HandleFrame(peer.id, data)
		case websocket.MessageText:
			var event protocol.Event
			if err := json.Unmarshal(data, &event); err != nil {
				s.Broker.sendError(peer.id, "malformed event")
				continue
			}
			event.From = peer.id
			s.Broker.HandleEvent(peer.id, event)
		}
	}
}

func (s *HTTPServer) pingLoop(ctx context.Context, peer *wsPeer) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsPongTimeout)
			if err := peer.ping(pingCtx); err != nil {
				peer.logger.Debug("websocket ping failed", "err", err)
			}
			cancel()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
