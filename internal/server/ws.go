package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/HerbHall/netreach/internal/version"
	"github.com/HerbHall/netreach/pkg/plugin"
)

const (
	wsSendBuffer   = 32
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// wsMessage is one frame on the status stream.
type wsMessage struct {
	Topic     string    `json:"topic"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

type wsClient struct {
	send   chan wsMessage
	topics map[string]bool
}

func (c *wsClient) wants(topic string) bool {
	return len(c.topics) == 0 || c.topics[topic]
}

// statusHub fans bus events out to websocket clients. A client that falls
// behind loses messages rather than blocking the bus.
type statusHub struct {
	logger      *zap.Logger
	unsubscribe func()

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

func newStatusHub(bus plugin.EventBus, logger *zap.Logger) *statusHub {
	h := &statusHub{
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
	h.unsubscribe = bus.SubscribeAll(h.broadcast)
	return h
}

func (h *statusHub) broadcast(_ context.Context, ev plugin.Event) {
	msg := wsMessage{Topic: ev.Topic, Source: ev.Source, Timestamp: ev.Timestamp.UTC(), Payload: ev.Payload}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(ev.Topic) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("status client too slow, dropping message", zap.String("topic", ev.Topic))
		}
	}
}

func (h *statusHub) add(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.send)
		return
	}
	h.clients[c] = struct{}{}
}

func (h *statusHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (h *statusHub) close() {
	h.unsubscribe()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
	}
	h.clients = map[*wsClient]struct{}{}
}

// serveWS streams bus events as JSON. The optional "topics" query parameter
// is a comma-separated allow list.
func (h *statusHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	c := &wsClient{send: make(chan wsMessage, wsSendBuffer), topics: parseTopics(r.URL.Query().Get("topics"))}
	hello := wsMessage{Topic: "hello", Timestamp: time.Now().UTC(), Payload: version.Map()}
	h.add(c)
	defer h.remove(c)

	ctx := conn.CloseRead(r.Context())
	if err := h.write(ctx, conn, hello); err != nil {
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := h.write(ctx, conn, msg); err != nil {
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *statusHub) write(ctx context.Context, conn *websocket.Conn, msg wsMessage) error {
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, conn, msg); err != nil {
		h.logger.Debug("websocket write failed", zap.Error(err))
		return err
	}
	return nil
}

func parseTopics(raw string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out[t] = true
		}
	}
	return out
}
