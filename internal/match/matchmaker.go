package match

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lobbyd/lobbyd/internal/config"
)

// Sentinel errors surfaced by Matchmaker operations.
var (
	// ErrUnknownConnection is returned when an operation names an id that
	// was never registered or has already been unregistered.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrNoPendingMatch is returned by Confirm for a connection that has
	// no pairing awaiting confirmation.
	ErrNoPendingMatch = errors.New("no pending match for connection")
	// ErrTokenMismatch is returned by Confirm when the supplied token does
	// not match the connection's pending pairing.
	ErrTokenMismatch = errors.New("token does not match pending match")
	// ErrTokenExhausted is returned when a unique room token could not be
	// generated within the retry budget.
	ErrTokenExhausted = errors.New("room token space exhausted")
)

// State describes where a connection sits in the matchmaking flow.
type State int

const (
	// StateIdle: registered, not waiting for a match.
	StateIdle State = iota
	// StateQueued: waiting in the queue for a peer.
	StateQueued
	// StatePending: matched, holding a token, awaiting confirmation.
	StatePending
	// StateInRoom: pairing confirmed by both members.
	StateInRoom
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQueued:
		return "queued"
	case StatePending:
		return "pending"
	case StateInRoom:
		return "in_room"
	default:
		return "unknown"
	}
}

// connection is the registry entry for one live transport session.
type connection struct {
	id    string
	state State
	token string // room token while pending or in a room
}

// pendingPair is a formed pairing awaiting confirmation from both members.
type pendingPair struct {
	token     string
	members   [2]string
	confirmed [2]bool
	timer     *time.Timer
}

// room is a confirmed pairing. The token stays reserved until both members
// have disconnected.
type room struct {
	token   string
	members [2]string
	present int
}

// Matchmaker owns the connection registry, the waiting queue, and all
// pairing state for one waiting pool. Every operation is serialized under
// one mutex so pairing is never evaluated against a stale queue; callers on
// independent transport goroutines may invoke any method concurrently.
//
// Matchmaker implements the lifecycle Service interface: Start blocks until
// Stop is called, and Stop cancels all outstanding confirmation timers.
type Matchmaker struct {
	notifier       Notifier
	logger         *zap.Logger
	gen            *tokenGenerator
	confirmTimeout time.Duration

	mu      sync.Mutex
	conns   map[string]*connection
	queue   *waitingQueue
	pending map[string]*pendingPair // token → pair
	rooms   map[string]*room        // token → room

	done     chan struct{}
	stopOnce sync.Once
}

// NewMatchmaker creates a Matchmaker for a single waiting pool.
//
// Precondition: src, notifier, and logger must be non-nil;
// cfg must have been validated.
// Postcondition: Returns a Matchmaker with an empty registry and queue.
func NewMatchmaker(cfg config.MatchmakerConfig, src Source, notifier Notifier, logger *zap.Logger) *Matchmaker {
	return &Matchmaker{
		notifier:       notifier,
		logger:         logger,
		gen:            newTokenGenerator(src, cfg.TokenLength),
		confirmTimeout: cfg.ConfirmTimeout,
		conns:          make(map[string]*connection),
		queue:          newWaitingQueue(),
		pending:        make(map[string]*pendingPair),
		rooms:          make(map[string]*room),
		done:           make(chan struct{}),
	}
}

// Start blocks until Stop is called. The Matchmaker itself is passive;
// this exists so it can be managed by the server lifecycle.
func (m *Matchmaker) Start() error {
	<-m.done
	return nil
}

// Stop cancels all pending confirmation timers and releases pairing state.
//
// Postcondition: No timer callback will mutate state after Stop returns.
func (m *Matchmaker) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)

		m.mu.Lock()
		defer m.mu.Unlock()
		for token, p := range m.pending {
			p.timer.Stop()
			delete(m.pending, token)
		}
		m.logger.Info("matchmaker stopped",
			zap.Int("connections", len(m.conns)),
			zap.Int("waiting", m.queue.len()),
			zap.Int("rooms", len(m.rooms)),
		)
	})
}

// Register adds a connection to the registry in the idle state.
// Registering an already-known id is a no-op.
func (m *Matchmaker) Register(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conns[id]; exists {
		return
	}
	m.conns[id] = &connection{id: id, state: StateIdle}
	m.logger.Debug("connection registered",
		zap.String("conn_id", id),
		zap.Int("connections", len(m.conns)),
	)
}

// Unregister removes a connection and reconciles whatever it was doing:
// a queued connection is dequeued and the new snapshot broadcast; a pending
// pairing is aborted and the peer restored to the head of the queue; a room
// member's departure releases the room token once both members are gone.
// Unknown ids are ignored.
func (m *Matchmaker) Unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conns[id]
	if !ok {
		m.logger.Debug("unregister for unknown connection", zap.String("conn_id", id))
		return
	}

	switch c.state {
	case StateQueued:
		m.queue.dequeue(id)
		m.broadcastLocked()
	case StatePending:
		if p := m.pending[c.token]; p != nil {
			m.abortPairLocked(p, id, "peer disconnected")
		}
	case StateInRoom:
		m.leaveRoomLocked(c)
	}

	delete(m.conns, id)
	m.logger.Debug("connection unregistered",
		zap.String("conn_id", id),
		zap.Int("connections", len(m.conns)),
	)
}

// Join adds the connection to the waiting queue and evaluates pairing.
// A connection that is already queued, pending, or in a room is left
// untouched. Unknown ids are logged and ignored.
func (m *Matchmaker) Join(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conns[id]
	if !ok {
		m.logger.Warn("join from unknown connection", zap.String("conn_id", id))
		return
	}
	if c.state != StateIdle {
		m.logger.Debug("join ignored",
			zap.String("conn_id", id),
			zap.String("state", c.state.String()),
		)
		return
	}

	m.queue.enqueue(id)
	c.state = StateQueued
	m.logger.Info("connection joined queue",
		zap.String("conn_id", id),
		zap.Int("waiting", m.queue.len()),
	)

	m.broadcastLocked()
	m.evaluateLocked()
}

// Leave removes the connection from the waiting pool at its own request.
// requestedID is the id the client supplied in its payload; it is never
// trusted: when it names a different connection the request is logged and
// applied to the caller's own id. A pending member that leaves aborts the
// pairing and restores its peer to the head of the queue.
func (m *Matchmaker) Leave(connID, requestedID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if requestedID != "" && requestedID != connID {
		m.logger.Warn("leave request named a foreign connection id, using caller's own",
			zap.String("conn_id", connID),
			zap.String("requested_id", requestedID),
		)
	}

	c, ok := m.conns[connID]
	if !ok {
		m.logger.Debug("leave from unknown connection", zap.String("conn_id", connID))
		return
	}

	switch c.state {
	case StateQueued:
		m.queue.dequeue(connID)
		c.state = StateIdle
		m.logger.Info("connection left queue",
			zap.String("conn_id", connID),
			zap.Int("waiting", m.queue.len()),
		)
		m.broadcastLocked()
	case StatePending:
		if p := m.pending[c.token]; p != nil {
			m.abortPairLocked(p, connID, "member left during confirmation")
		}
	default:
		// Idle or already in a room: idempotent no-op.
	}
}

// Confirm records that the connection received its room token. When both
// members of the pairing have confirmed, the pair becomes an active room
// and the confirmation timer is cancelled.
//
// Postcondition: Returns nil on success, ErrUnknownConnection,
// ErrNoPendingMatch, or ErrTokenMismatch.
func (m *Matchmaker) Confirm(connID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if c.state != StatePending {
		return ErrNoPendingMatch
	}
	p := m.pending[c.token]
	if p == nil {
		return ErrNoPendingMatch
	}
	if token != p.token {
		return ErrTokenMismatch
	}

	for i, member := range p.members {
		if member == connID {
			p.confirmed[i] = true
		}
	}
	if !p.confirmed[0] || !p.confirmed[1] {
		return nil
	}

	// Both confirmed: the pairing is final.
	p.timer.Stop()
	delete(m.pending, p.token)
	m.rooms[p.token] = &room{token: p.token, members: p.members, present: 2}
	for _, member := range p.members {
		if mc := m.conns[member]; mc != nil {
			mc.state = StateInRoom
		}
	}
	m.logger.Info("pairing confirmed",
		zap.String("token", p.token),
		zap.String("member_a", p.members[0]),
		zap.String("member_b", p.members[1]),
		zap.Int("rooms", len(m.rooms)),
	)
	return nil
}

// Snapshot returns the current ordered waiting queue.
func (m *Matchmaker) Snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.snapshot()
}

// WaitingCount returns the number of queued connections.
func (m *Matchmaker) WaitingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.len()
}

// RoomCount returns the number of active (confirmed) rooms.
func (m *Matchmaker) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// StateOf reports the matchmaking state of a connection.
//
// Postcondition: Returns (state, true) if the id is registered,
// or (StateIdle, false) otherwise.
func (m *Matchmaker) StateOf(id string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return StateIdle, false
	}
	return c.state, true
}

// evaluateLocked forms pairs while at least two connections wait.
// Caller must hold m.mu.
func (m *Matchmaker) evaluateLocked() {
	for m.queue.len() >= 2 {
		a, b, _ := m.queue.takePair()

		token, err := m.gen.generate(m.tokenLiveLocked)
		if err != nil {
			// Restore the pair in original order and give up for now.
			m.queue.pushFront(b)
			m.queue.pushFront(a)
			m.logger.Error("generating room token", zap.Error(err))
			return
		}

		p := &pendingPair{token: token, members: [2]string{a, b}}
		m.pending[token] = p
		for _, member := range p.members {
			c := m.conns[member]
			c.state = StatePending
			c.token = token
		}
		p.timer = time.AfterFunc(m.confirmTimeout, func() {
			m.expirePair(token)
		})

		m.notifier.DeliverToken(a, token)
		m.notifier.DeliverToken(b, token)
		m.logger.Info("pair formed",
			zap.String("token", token),
			zap.String("member_a", a),
			zap.String("member_b", b),
			zap.Int("waiting", m.queue.len()),
		)

		m.broadcastLocked()
	}
}

// tokenLiveLocked reports whether token is reserved by a pending pair or an
// active room. Caller must hold m.mu.
func (m *Matchmaker) tokenLiveLocked(token string) bool {
	_, inPending := m.pending[token]
	_, inRoom := m.rooms[token]
	return inPending || inRoom
}

// abortPairLocked cancels a pending pairing: the departing member returns to
// idle, the surviving member (if still connected) is restored to the head of
// the queue and notified, and the token is released. Caller must hold m.mu.
func (m *Matchmaker) abortPairLocked(p *pendingPair, departing, reason string) {
	p.timer.Stop()
	delete(m.pending, p.token)

	for _, member := range p.members {
		c := m.conns[member]
		if c == nil || c.token != p.token {
			continue
		}
		c.token = ""
		if member == departing {
			c.state = StateIdle
			continue
		}
		c.state = StateQueued
		m.queue.pushFront(member)
		m.notifier.NotifyMatchAborted(member)
	}

	m.logger.Warn("pairing aborted",
		zap.String("token", p.token),
		zap.String("departing", departing),
		zap.String("reason", reason),
	)

	m.broadcastLocked()
	m.evaluateLocked()
}

// expirePair is the confirmation-timer callback. A member that confirmed in
// time is restored to the head of the queue; a member that never confirmed
// returns to idle and must re-issue a join.
func (m *Matchmaker) expirePair(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.pending[token]
	if p == nil {
		// Confirmed or aborted before the timer fired.
		return
	}
	delete(m.pending, token)

	for i, member := range p.members {
		c := m.conns[member]
		if c == nil || c.token != token {
			continue
		}
		c.token = ""
		if p.confirmed[i] {
			c.state = StateQueued
			m.queue.pushFront(member)
		} else {
			c.state = StateIdle
		}
		m.notifier.NotifyMatchAborted(member)
	}

	m.logger.Warn("pairing confirmation timed out",
		zap.String("token", token),
		zap.String("member_a", p.members[0]),
		zap.String("member_b", p.members[1]),
		zap.Duration("window", m.confirmTimeout),
	)

	m.broadcastLocked()
	m.evaluateLocked()
}

// leaveRoomLocked records a room member's departure and releases the token
// once the room is empty. Caller must hold m.mu.
func (m *Matchmaker) leaveRoomLocked(c *connection) {
	r := m.rooms[c.token]
	if r == nil {
		return
	}
	r.present--
	if r.present <= 0 {
		delete(m.rooms, r.token)
		m.logger.Info("room released",
			zap.String("token", r.token),
			zap.Int("rooms", len(m.rooms)),
		)
	}
}

// broadcastLocked pushes the current queue snapshot to all queued
// connections. Caller must hold m.mu; the snapshot therefore reflects the
// mutation that triggered it and can never be stale.
func (m *Matchmaker) broadcastLocked() {
	m.notifier.BroadcastQueueState(m.queue.snapshot())
}
