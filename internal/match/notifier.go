package match

// Notifier delivers matchmaking events to connected clients.
//
// The Matchmaker invokes these methods while holding its internal lock so
// that notifications observe the queue in mutation order; implementations
// must hand the payload to the transport without blocking and must never
// call back into the Matchmaker from the same goroutine.
type Notifier interface {
	// BroadcastQueueState pushes the ordered waiting-queue snapshot to
	// every currently-queued connection.
	BroadcastQueueState(snapshot []string)

	// DeliverToken pushes the room token to one matched connection.
	// Called exactly once per connection per pairing.
	DeliverToken(connID, token string)

	// NotifyMatchAborted informs a connection that its pending pairing
	// was cancelled (peer left, peer disconnected, or confirmation
	// window expired).
	NotifyMatchAborted(connID string)
}
