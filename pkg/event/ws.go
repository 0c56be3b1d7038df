package event

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/vocalabs/voca/pkg/utils"
)

const (
	wsSendBuffer   = 64
	wsPingInterval = 30 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 5 * time.Second
)

// WSMessage is the JSON message sent over WebSocket.
type WSMessage struct {
	Event  string         `json:"event"`             // e.g. "call.statusChanged"
	CallID string         `json:"call_id,omitempty"` // set for call-scoped events
	Data   map[string]any `json:"data,omitempty"`
	TS     int64          `json:"ts"` // Unix ms
}

// CallScoped is implemented by events that belong to a single call.
type CallScoped interface {
	CallKey() string
}

func (e ConversationLogEvent) CallKey() string   { return e.CallID }
func (e TurnCompletedEvent) CallKey() string     { return e.CallID }
func (e CallStatusChangedEvent) CallKey() string { return e.CallID }

// wsFilter selects the events one client receives. Empty fields match
// everything.
type wsFilter struct {
	events map[string]bool
	callID string
}

func parseSubscription(q url.Values) wsFilter {
	var sub wsFilter
	if raw := q.Get("events"); raw != "" {
		sub.events = make(map[string]bool)
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				sub.events[name] = true
			}
		}
	}
	sub.callID = strings.TrimSpace(q.Get("call_id"))
	return sub
}

// matches reports whether ev passes the filter. With a call filter set,
// events that carry no call id (local voice state) are still delivered.
func (s wsFilter) matches(ev Event) bool {
	if s.events != nil && !s.events[ev.EventName()] {
		return false
	}
	if s.callID == "" {
		return true
	}
	scoped, ok := ev.(CallScoped)
	return !ok || scoped.CallKey() == s.callID
}

// WSHandler streams emitter events to dashboard clients.
type WSHandler struct {
	emitter  *Emitter
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler creates a WebSocket handler. A nil emitter selects the global one.
func NewWSHandler(emitter *Emitter) *WSHandler {
	if emitter == nil {
		emitter = Global()
	}
	return &WSHandler{
		emitter:  emitter,
		upgrader: websocket.Upgrader{CheckOrigin: localOrigin},
		logger:   utils.GetLogger(),
	}
}

// localOrigin accepts non-browser clients and pages served from localhost.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// Handle is the Gin handler for WebSocket connections.
// Query params:
//   - events: comma-separated event names (empty = all)
//   - call_id: only events of this call
//
// Example: /api/events/ws?events=conversation.log,turn.completed&call_id=CA123
func (h *WSHandler) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := parseSubscription(c.Request.URL.Query())
	sendCh := make(chan WSMessage, wsSendBuffer)

	unsubscribe := h.emitter.OnAny(func(ev Event) {
		if !sub.matches(ev) {
			return
		}
		select {
		case sendCh <- newWSMessage(ev):
		default:
			h.logger.Warn("Dropped event, client buffer full", "event", ev.EventName())
		}
	})
	defer unsubscribe()

	done := make(chan struct{})
	go readUntilClosed(conn, done)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	// Only this goroutine writes to conn.
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg := <-sendCh:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("WebSocket write failed", "event", msg.Event, "error", err)
				return
			}
		}
	}
}

// readUntilClosed drains client frames so pongs are processed, and closes
// done when the connection goes away.
func readUntilClosed(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func newWSMessage(ev Event) WSMessage {
	msg := WSMessage{
		Event: ev.EventName(),
		Data:  eventToData(ev),
		TS:    time.Now().UnixMilli(),
	}
	if scoped, ok := ev.(CallScoped); ok {
		msg.CallID = scoped.CallKey()
	}
	return msg
}

// eventToData converts an Event to a map via its JSON form.
func eventToData(ev Event) map[string]any {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}
