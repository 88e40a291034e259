package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains event_id -> set of connections and fans realtime messages out
// to them. Delivery is at-most-once per connection: a client whose send buffer
// is full has the message dropped rather than blocking the publisher, and it
// self-heals through its reconnect re-fetch. Uses Redis pub/sub for
// horizontal scaling: local broadcast + publish to Redis.
type Hub struct {
	// eventID -> map[clientID]*Client
	rooms    map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func() // cancel Redis subscription per event
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishEventMessage(eventID uuid.UUID, payload []byte) error
}

// RedisSubscriber subscribes to event channels and invokes handler for incoming messages.
type RedisSubscriber interface {
	SubscribeEvent(eventID uuid.UUID, handler func(payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. The redis arguments may be nil for a
// single-instance deployment.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:    make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to an event room. Starts the Redis subscription for
// this event when the first client joins.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.rooms[c.EventID] == nil {
		h.rooms[c.EventID] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeEvent(c.EventID, func(payload []byte) {
				var msg Message
				if err := json.Unmarshal(payload, &msg); err != nil {
					return
				}
				h.broadcastLocal(c.EventID, msg)
			})
			if err == nil {
				h.subs[c.EventID] = cancel
			}
		}
	}
	h.rooms[c.EventID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined event room",
		zap.String("client_id", c.ID),
		zap.String("event_id", c.EventID.String()))
}

// Unregister removes a client from its event room. Cancels the Redis
// subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.rooms[c.EventID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.rooms, c.EventID)
			if cancel, ok := h.subs[c.EventID]; ok {
				cancel()
				delete(h.subs, c.EventID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client left event room",
		zap.String("client_id", c.ID),
		zap.String("event_id", c.EventID.String()))
}

// Publish delivers the message to every subscriber of the event, locally and
// on other instances via Redis. Never blocks; subscriber failures are
// swallowed here and never reach the voter whose action produced the message.
func (h *Hub) Publish(eventID uuid.UUID, msg Message) {
	h.broadcastLocal(eventID, msg)
	if h.redis != nil {
		payload, err := json.Marshal(msg)
		if err != nil {
			return
		}
		if err := h.redis.PublishEventMessage(eventID, payload); err != nil {
			h.logger.Warn("redis publish failed", zap.Error(err))
		}
	}
}

func (h *Hub) broadcastLocal(eventID uuid.UUID, msg Message) {
	h.mu.RLock()
	clients := h.rooms[eventID]
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip; the client recovers on its next fetch
		}
	}
}

// SubscriberCount returns the number of connected clients in an event room.
func (h *Hub) SubscriberCount(eventID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[eventID])
}
