package httpapi

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/halagel/prodtrack/internal/prodtrack"
)

// Event is one change notification on the websocket feed.
type Event struct {
	Type  string `json:"type"`
	Table string `json:"table"`
	At    string `json:"at"`
}

// EventHub fans table-change notifications out to websocket subscribers.
// Slow subscribers drop events rather than blocking mutations; the feed is
// a refresh hint, not a data channel.
type EventHub struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{subscribers: map[chan Event]struct{}{}}
}

func (h *EventHub) Publish(event Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *EventHub) subscribe() (chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		h.mu.Unlock()
	}
}

func (h *EventHub) subscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	}
	if _, authErr := authorizeToken(token, s.cfg.SessionSecret, "", time.Now().UTC()); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "feed closed")

	events, cancel := s.hub.subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-events:
			if err := wsjson.Write(ctx, conn, event); err != nil {
				return
			}
		}
	}
}

// publishChange is installed as the storage service's change listener.
func (s *Server) publishChange(table string) {
	s.hub.Publish(Event{
		Type:  "change",
		Table: table,
		At:    prodtrack.DBTimestamp(time.Now()),
	})
}
