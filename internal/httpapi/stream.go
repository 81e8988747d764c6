package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/schuttebj/ampro-platform-sub001/internal/eventbus"
	logx "github.com/schuttebj/ampro-platform-sub001/pkg/logx"
)

const (
	streamBuffer  = 64
	writeWait     = 10 * time.Second
	pingPeriod    = 30 * time.Second
	pongWait      = pingPeriod + 10*time.Second
	maxClientRead = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type streamMessage struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// stream forwards bus events to a websocket client. ?types=a,b limits the
// forwarded events to those type prefixes.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "event stream disabled")
		return
	}
	types := strings.TrimSpace(r.URL.Query().Get("types"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logx.Err(err))
		return
	}
	events, unsub := h.bus.Subscribe(streamBuffer)
	defer unsub()
	defer conn.Close()

	log := h.log.With(logx.String("request_id", requestIDFromContext(r.Context())))
	log.Debug("stream client connected", logx.String("types", types))

	// Reader: handles pongs and notices the client going away.
	gone := make(chan struct{})
	conn.SetReadLimit(maxClientRead)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			log.Debug("stream client disconnected")
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !eventbus.MatchType(types, ev.Type) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(streamMessage{Type: ev.Type, Time: ev.Time, Data: ev.Data}); err != nil {
				log.Debug("stream write failed", logx.Err(err))
				return
			}
		}
	}
}
