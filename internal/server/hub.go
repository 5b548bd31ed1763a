package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"zkbattle/internal/game"
	"zkbattle/internal/notify"
)

// Event is one message on the /v1/events stream.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Seq       uint64    `json:"seq,omitempty"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	At        time.Time `json:"at"`
}

const (
	eventTransition = "transition"
	eventAlert      = "alert"

	subscriberBuffer = 32
	writeTimeout     = 5 * time.Second
)

// Hub fans session transitions and alerts out to websocket subscribers. A
// slow subscriber loses events rather than stalling the session.
type Hub struct {
	log *slog.Logger
	now func() time.Time

	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, now: time.Now, subs: make(map[chan Event]struct{})}
}

// Observe implements session.Observer.
func (h *Hub) Observe(ctx context.Context, s game.State, e game.LogEntry) {
	h.publish(Event{
		Type:      eventTransition,
		SessionID: s.SessionID,
		Seq:       e.Seq,
		Kind:      e.Kind,
		Detail:    e.Detail,
		Phase:     s.Phase.String(),
		At:        h.now().UTC(),
	})
}

// Alert implements notify.Alerter.
func (h *Hub) Alert(ctx context.Context, t notify.Type, sessionID, detail string) {
	h.publish(Event{
		Type:      eventAlert,
		SessionID: sessionID,
		Kind:      string(t),
		Detail:    detail,
		At:        h.now().UTC(),
	})
}

func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.log.Warn("event dropped for slow subscriber", "kind", ev.Kind, "seq", ev.Seq)
		}
	}
}

func (h *Hub) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

// Subscribers reports the number of connected streams.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // dev: any origin
	})
	if err != nil {
		h.log.ErrorContext(r.Context(), "accept events stream", "err", err)
		return
	}
	defer conn.CloseNow()

	events, cancel := h.subscribe()
	defer cancel()
	ctx := conn.CloseRead(r.Context())
	h.log.DebugContext(ctx, "events subscriber connected")

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			wctx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, b)
			cancelWrite()
			if err != nil {
				h.log.DebugContext(ctx, "events subscriber gone", "err", err)
				return
			}
		}
	}
}
