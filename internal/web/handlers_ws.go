package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var wsPingInterval = 30 * time.Second

type wsClientMessage struct {
	Type string `json:"type"`
}

type wsServerMessage struct {
	Type     string            `json:"type"` // snapshot, status, error
	Event    string            `json:"event,omitempty"`
	Code     string            `json:"code,omitempty"`
	Message  string            `json:"message,omitempty"`
	Snapshot *SessionsResponse `json:"snapshot,omitempty"`
	Time     time.Time         `json:"time"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	CheckOrigin:     allowWSOrigin,
}

// allowWSOrigin accepts non-browser clients and same-host pages only.
func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}

// wsConnWriter serializes writes; gorilla connections allow one writer.
type wsConnWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

func (w *wsConnWriter) Ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	detail := wantDetail(r)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	writer := &wsConnWriter{conn: conn}

	changes := s.subscribe()
	defer s.unsubscribe(changes)

	sendSnapshot := func() error {
		snap := s.snapshot()
		if snap == nil {
			return nil
		}
		resp := NewSessionsResponse(snap, detail)
		return writer.WriteJSON(wsServerMessage{Type: "snapshot", Snapshot: &resp, Time: time.Now().UTC()})
	}
	if err := sendSnapshot(); err != nil {
		return
	}

	// The reader owns conn reads; it ends the session when the client goes away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
					websocket.CloseNoStatusReceived,
				) {
					webLog.Warn("websocket_closed_unexpectedly", slog.String("error", err.Error()))
				}
				return
			}
			var msg wsClientMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				_ = writer.WriteJSON(wsServerMessage{Type: "error", Code: "INVALID_MESSAGE", Message: "invalid json payload", Time: time.Now().UTC()})
				continue
			}
			switch msg.Type {
			case "ping":
				_ = writer.WriteJSON(wsServerMessage{Type: "status", Event: "pong", Time: time.Now().UTC()})
			case "refresh":
				// A queued pass publishes its snapshot if anything changed.
				if s.cfg.Refresher != nil && s.cfg.Refresher.RequestRefresh() {
					_ = writer.WriteJSON(wsServerMessage{Type: "status", Event: "refresh_queued", Time: time.Now().UTC()})
				} else {
					_ = sendSnapshot()
				}
			default:
				_ = writer.WriteJSON(wsServerMessage{Type: "error", Code: "UNSUPPORTED_MESSAGE", Message: "supported message types: ping,refresh", Time: time.Now().UTC()})
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			_ = writer.WriteJSON(wsServerMessage{Type: "status", Event: "shutdown", Time: time.Now().UTC()})
			return
		case <-closed:
			return
		case <-changes:
			if err := sendSnapshot(); err != nil {
				return
			}
		case <-ping.C:
			if err := writer.Ping(); err != nil {
				return
			}
		}
	}
}
