package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/davidahmann/steward/pkg/types"
)

// Hub fans committed audit events out to stream subscribers. It is
// registered as an audit mirror. Slow subscribers miss events rather than
// block the audit path.
type Hub struct {
	mu   sync.Mutex
	subs map[chan types.AuditEvent]struct{}

	OriginPatterns []string
}

func NewHub(originPatterns ...string) *Hub {
	return &Hub{subs: make(map[chan types.AuditEvent]struct{}), OriginPatterns: originPatterns}
}

func (h *Hub) Subscribe(buffer int) chan types.AuditEvent {
	ch := make(chan types.AuditEvent, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan types.AuditEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Mirror(_ context.Context, ev types.AuditEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

type streamMessage struct {
	Type  string            `json:"type"`
	Event *types.AuditEvent `json:"event,omitempty"`
}

// StreamAudit upgrades to a websocket and forwards audit events as they
// are committed.
func (h *Handler) StreamAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireHuman(w, r); !ok {
		return
	}
	if h.Stream == nil {
		notConfigured(w, "audit stream")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.Stream.OriginPatterns})
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := h.Stream.Subscribe(64)
	defer h.Stream.Unsubscribe(sub)

	_ = wsjson.Write(ctx, conn, streamMessage{Type: "ready"})
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case ev, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, streamMessage{Type: "audit", Event: &ev})
			cancelWrite()
			if err != nil {
				h.logger().Debug("audit stream write failed", zap.Error(err))
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}
