package gateway

import (
	"sync"

	"go.uber.org/zap"

	"github.com/lobbyd/lobbyd/internal/match"
)

// Hub tracks all connected clients and bridges them to the Matchmaker:
// inbound intents are dispatched to matchmaker operations, and the hub
// implements match.Notifier for the outbound direction. All methods are
// safe for concurrent use.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[string]*Client

	matchmaker *match.Matchmaker
}

// NewHub creates an empty Hub.
//
// Precondition: logger must be non-nil.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// Bind attaches the matchmaker. The hub and the matchmaker reference each
// other (the matchmaker notifies through the hub), so the link is completed
// after both are constructed.
//
// Precondition: must be called exactly once before any client connects.
func (h *Hub) Bind(mm *match.Matchmaker) {
	h.matchmaker = mm
}

// add registers a client and its connection with the matchmaker.
func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()

	h.matchmaker.Register(c.id)
	h.logger.Info("client connected",
		zap.String("conn_id", c.id),
		zap.String("username", c.username),
		zap.Int("clients", total),
	)
}

// drop removes a client, closes its send channel, and unregisters the
// connection from the matchmaker. Safe to call more than once per client.
func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	_, present := h.clients[c.id]
	if present {
		delete(h.clients, c.id)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !present {
		return
	}

	// Outside the lock: the matchmaker broadcasts back through sendTo.
	h.matchmaker.Unregister(c.id)
	h.logger.Info("client disconnected",
		zap.String("conn_id", c.id),
		zap.Int("clients", total),
	)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// dispatch routes one inbound message to the matchmaker.
func (h *Hub) dispatch(c *Client, msg *Message) {
	switch msg.Type {
	case TypeJoinQueue:
		h.matchmaker.Join(c.id)

	case TypeLeaveQueue:
		h.matchmaker.Leave(c.id, msg.ConnectionID)
		// Ack the caller with the post-mutation state; the caller is no
		// longer queued and would otherwise miss the broadcast.
		h.sendTo(c.id, &Message{Type: TypeQueueState, Waiting: h.matchmaker.Snapshot()})

	case TypeConfirmSession:
		if err := h.matchmaker.Confirm(c.id, msg.Token); err != nil {
			h.logger.Warn("session confirmation rejected",
				zap.String("conn_id", c.id),
				zap.Error(err),
			)
			h.sendTo(c.id, &Message{Type: TypeError, Error: err.Error()})
		}

	default:
		h.logger.Warn("unknown message type",
			zap.String("conn_id", c.id),
			zap.String("type", msg.Type),
		)
		h.sendTo(c.id, &Message{Type: TypeError, Error: "unknown message type: " + msg.Type})
	}
}

// sendTo queues a message for one client. Delivery is best-effort: a full
// send buffer or an unknown id drops the message with a log entry, and
// never blocks the caller. The read lock is held across the send so that
// drop cannot close the channel mid-delivery.
func (h *Hub) sendTo(id string, msg *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[id]
	if !ok {
		h.logger.Debug("delivery to unknown client",
			zap.String("conn_id", id),
			zap.String("type", msg.Type),
		)
		return
	}

	select {
	case c.send <- msg:
	default:
		h.logger.Warn("client send buffer full, dropping message",
			zap.String("conn_id", id),
			zap.String("type", msg.Type),
		)
	}
}

// BroadcastQueueState implements match.Notifier. The snapshot is pushed to
// every queued connection.
func (h *Hub) BroadcastQueueState(snapshot []string) {
	msg := &Message{Type: TypeQueueState, Waiting: snapshot}
	for _, id := range snapshot {
		h.sendTo(id, msg)
	}
}

// DeliverToken implements match.Notifier.
func (h *Hub) DeliverToken(connID, token string) {
	h.sendTo(connID, &Message{Type: TypeSessionToken, Token: token})
}

// NotifyMatchAborted implements match.Notifier.
func (h *Hub) NotifyMatchAborted(connID string) {
	h.sendTo(connID, &Message{Type: TypeMatchAborted})
}
