// Package pubsub bridges committed ChangeEvents (spec §6, domain.Subscriber)
// to both other engine replicas (Redis pub/sub) and operator-facing
// WebSocket clients, grounded on the ping/pong connection-keepalive pattern
// the pack uses for its own WebSocket spokes (see
// Generativebots-ocx-backend-go-svc's internal/fabric/websocket.go).
package pubsub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/opena2a/wot/internal/domain"
)

const changeEventChannel = "wot:changes"

// wireEvent is the JSON wire shape of a domain.ChangeEvent; Before/After are
// carried as raw JSON since their concrete type varies by Kind.
type wireEvent struct {
	Kind   domain.ChangeKind `json:"kind"`
	Before json.RawMessage   `json:"before,omitempty"`
	After  json.RawMessage   `json:"after,omitempty"`
}

// RedisPublisher publishes committed ChangeEvents to every replica
// subscribed to the same Redis instance.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wraps an existing Redis client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish serializes and publishes one ChangeEvent. Errors are logged, not
// returned: a dropped notification must never fail the commit that produced
// it (spec §6 "subscribers ... must not block" — the inverse also holds,
// publishing must not block commits).
func (p *RedisPublisher) Publish(ctx context.Context, event domain.ChangeEvent) {
	before, err := json.Marshal(event.Before)
	if err != nil {
		log.Printf("pubsub: marshal before: %v", err)
		return
	}
	after, err := json.Marshal(event.After)
	if err != nil {
		log.Printf("pubsub: marshal after: %v", err)
		return
	}
	payload, err := json.Marshal(wireEvent{Kind: event.Kind, Before: before, After: after})
	if err != nil {
		log.Printf("pubsub: marshal event: %v", err)
		return
	}
	if err := p.client.Publish(ctx, changeEventChannel, payload).Err(); err != nil {
		log.Printf("pubsub: publish: %v", err)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // operator-only surface, not public
}

// WebSocketHub relays the Redis change-event stream to connected operator
// WebSocket clients. It implements domain.Subscriber for a local,
// in-process fan-out path (no Redis round trip needed when publisher and
// hub share a process).
type WebSocketHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

// NewWebSocketHub constructs an empty hub.
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{clients: make(map[*websocket.Conn]chan []byte)}
}

// Notify implements domain.Subscriber: broadcasts the event to every
// connected client's bounded send queue, disconnecting any client whose
// queue is full rather than blocking the caller.
func (h *WebSocketHub) Notify(event domain.ChangeEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- payload:
		default:
			// Slow client: disconnect rather than block the publishing side.
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// Disconnect implements domain.Subscriber; no-op at the hub level, since
// disconnection is driven by the per-connection handler's own read loop.
func (h *WebSocketHub) Disconnect() {}

// ServeHTTP upgrades the request and relays the change-event stream until
// the client disconnects.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("pubsub: upgrade failed: %v", err)
		return
	}

	send := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[conn] = send
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	const (
		pongWait   = 60 * time.Second
		pingPeriod = 30 * time.Second
		writeWait  = 10 * time.Second
	)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case payload, ok := <-send:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	// Drain inbound frames; operators never send application data on this
	// connection, only control frames (pong/close).
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// SubscribeRedis runs until ctx is cancelled, relaying every message on the
// change-event channel into the hub's local fan-out (for a replica that did
// not originate the mutation).
func SubscribeRedis(ctx context.Context, client *redis.Client, hub *WebSocketHub) {
	sub := client.Subscribe(ctx, changeEventChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var we wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &we); err != nil {
				continue
			}
			hub.Notify(domain.ChangeEvent{Kind: we.Kind, Before: we.Before, After: we.After})
		}
	}
}
