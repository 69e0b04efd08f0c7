// Package gateway provides the websocket transport for the matchmaking
// core: per-connection read/write pumps, a hub that routes client intents
// to the Matchmaker, and the HTTP surface (websocket upgrade, health,
// auth routes).
package gateway

// Client → server message types.
const (
	TypeJoinQueue      = "join_queue"
	TypeLeaveQueue     = "leave_queue"
	TypeConfirmSession = "confirm_session"
)

// Server → client message types.
const (
	TypeWelcome      = "welcome"
	TypeQueueState   = "queue_state"
	TypeSessionToken = "session_token"
	TypeMatchAborted = "match_aborted"
	TypeError        = "error"
)

// Message is the wire format for all websocket traffic in both directions.
// Only the fields relevant to a given Type are populated.
type Message struct {
	Type string `json:"type"`
	// ConnectionID carries the caller's own connection id on leave_queue,
	// and the minted id on welcome.
	ConnectionID string `json:"connection_id,omitempty"`
	// Token carries the room token on session_token and confirm_session.
	Token string `json:"token,omitempty"`
	// Waiting is the ordered waiting-queue snapshot on queue_state.
	Waiting []string `json:"waiting,omitempty"`
	// Error is a human-readable description on error messages.
	Error string `json:"error,omitempty"`
}
