package match

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lobbyd/lobbyd/internal/config"
)

// recordingNotifier captures every delivery for assertions.
type recordingNotifier struct {
	mu         sync.Mutex
	broadcasts [][]string
	tokens     map[string][]string
	aborted    []string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{tokens: make(map[string][]string)}
}

func (n *recordingNotifier) BroadcastQueueState(snapshot []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts = append(n.broadcasts, snapshot)
}

func (n *recordingNotifier) DeliverToken(connID, token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens[connID] = append(n.tokens[connID], token)
}

func (n *recordingNotifier) NotifyMatchAborted(connID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.aborted = append(n.aborted, connID)
}

func (n *recordingNotifier) broadcastLog() [][]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([][]string, len(n.broadcasts))
	copy(out, n.broadcasts)
	return out
}

func (n *recordingNotifier) tokensFor(connID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.tokens[connID]...)
}

func (n *recordingNotifier) abortedIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.aborted...)
}

func testMatchmakerConfig() config.MatchmakerConfig {
	return config.MatchmakerConfig{
		ConfirmTimeout: time.Minute,
		TokenLength:    8,
	}
}

func newTestMatchmaker(t *testing.T) (*Matchmaker, *recordingNotifier) {
	t.Helper()
	notifier := newRecordingNotifier()
	mm := NewMatchmaker(testMatchmakerConfig(), NewCryptoSource(), notifier, zaptest.NewLogger(t))
	t.Cleanup(mm.Stop)
	return mm, notifier
}

func TestJoinBroadcastsSnapshot(t *testing.T) {
	mm, notifier := newTestMatchmaker(t)
	mm.Register("A")
	mm.Join("A")

	assert.Equal(t, [][]string{{"A"}}, notifier.broadcastLog())
	state, ok := mm.StateOf("A")
	require.True(t, ok)
	assert.Equal(t, StateQueued, state)
}

func TestJoinUnknownConnectionIgnored(t *testing.T) {
	mm, notifier := newTestMatchmaker(t)
	mm.Join("ghost")

	assert.Empty(t, notifier.broadcastLog())
	assert.Equal(t, 0, mm.WaitingCount())
}

func TestDuplicateJoinIgnored(t *testing.T) {
	mm, notifier := newTestMatchmaker(t)
	mm.Register("A")
	mm.Join("A")
	mm.Join("A")

	assert.Equal(t, 1, mm.WaitingCount())
	assert.Len(t, notifier.broadcastLog(), 1, "duplicate join must not re-broadcast")
}

// Scenario: A and B join in order; queue-state broadcasts [A], then [A,B],
// a pairing fires, both receive the identical token, and [] is broadcast.
func TestPairFormation(t *testing.T) {
	mm, notifier := newTestMatchmaker(t)
	mm.Register("A")
	mm.Register("B")
	mm.Join("A")
	mm.Join("B")

	assert.Equal(t, [][]string{{"A"}, {"A", "B"}, {}}, notifier.broadcastLog())

	tokensA := notifier.tokensFor("A")
	tokensB := notifier.tokensFor("B")
	require.Len(t, tokensA, 1, "token delivered exactly once")
	require.Len(t, tokensB, 1, "token delivered exactly once")
	assert.Equal(t, tokensA[0], tokensB[0], "both members receive the identical token")
	assert.Len(t, tokensA[0], 8)

	for _, id := range []string{"A", "B"} {
		state, ok := mm.StateOf(id)
		require.True(t, ok)
		assert.Equal(t, StatePending, state)
	}
	assert.Equal(t, 0, mm.WaitingCount())
}

// Scenario: A, B, C join in quick succession; the earliest two pair and C
// remains queued with queue-state [C].
func TestThirdWaiterRemainsQueued(t *testing.T) {
	mm, notifier := newTestMatchmaker(t)
	for _, id := range []string{"A", "B", "C"} {
		mm.Register(id)
		mm.Join(id)
	}

	log := notifier.broadcastLog()
	require.NotEmpty(t, log)
	assert.Equal(t, []string{"C"}, log[len(log)-1])
	assert.Empty(t, notifier.tokensFor("C"))

	state, _ := mm.StateOf("C")
	assert.Equal(t, StateQueued, state)
}

// Scenario: A joins then leaves before B joins; queue-state sequence is
// [A], [] and no pairing ever fires.
func TestLeaveBeforePairing(t *testing.T) {
	mm, notifier := newTestMatchmaker(t)
	mm.Register("A")
	mm.Join("A")
	mm.Leave("A", "A")

	assert.Equal(t, [][]string{{"A"}, {}}, notifier.broadcastLog())
	assert.Empty(t, notifier.tokensFor("A"))

	state, ok := mm.StateOf("A")
	require.True(t, ok, "leaving the queue does not unregister")
	assert.Equal(t, StateIdle, state)
}

func TestLeaveIdempotent(t *testing.T) {
	mm, notifier := newTestMatchmaker(t)
	mm.Register("A")
	mm.Join("A")
	mm.Leave("A", "")
	before := len(notifier.broadcastLog())

	mm.Leave("A", "")
	mm.Leave("never-registered", "")

	assert.Equal(t, before, len(notifier.broadcastLog()), "repeat leave must not mutate or broadcast")
	assert.Equal(t, 0, mm.WaitingCount())
}

// A leave request naming a foreign id must be applied to the caller's own
// connection, leaving the named peer untouched.
func TestLeaveForeignIDNotTrusted(t *testing.T) {
	mm, _ := newTestMatchmaker(t)
	mm.Register("A")
	mm.Register("B")
	mm.Join("A")

	// B is not queued and asks to remove A.
	mm.Leave("B", "A")

	assert.Equal(t, []string{"A"}, mm.Snapshot(), "A must remain queued")
}

func TestUnregisterQueuedConnection(t *testing.T) {
	mm, notifier := newTestMatchmaker(t)
	mm.Register("A")
	mm.Register("B")
	mm.Join("A")
	mm.Unregister("A")

	assert.Equal(t, [][]string{{"A"}, {}}, notifier.broadcastLog())
	_, ok := mm.StateOf("A")
	assert.False(t, ok)

	// A disconnected waiter never appears in later snapshots.
	mm.Join("B")
	assert.Equal(t, []string{"B"}, mm.Snapshot())
}

func TestUnregisterIdempotent(t *testing.T) {
	mm, _ := newTestMatchmaker(t)
	mm.Register("A")
	mm.Unregister("A")
	mm.Unregister("A")
	mm.Unregister("ghost")
}

func pairUp(t *testing.T, mm *Matchmaker, notifier *recordingNotifier, a, b string) string {
	t.Helper()
	mm.Register(a)
	mm.Register(b)
	mm.Join(a)
	mm.Join(b)
	tokens := notifier.tokensFor(a)
	require.Len(t, tokens, 1)
	return tokens[0]
}

func TestConfirmFinalizesPair(t *testing.T) {
	mm, notifier := newTestMatchmaker(t)
	token := pairUp(t, mm, notifier, "A", "B")

	require.NoError(t, mm.Confirm("A", token))
	state, _ := mm.StateOf("A")
	assert.Equal(t, StatePending, state, "one confirmation is not enough")

	require.NoError(t, mm.Confirm("B", token))
	for _, id := range []string{"A", "B"} {
		state, _ := mm.StateOf(id)
		assert.Equal(t, StateInRoom, state)
	}
	assert.Equal(t, 1, mm.RoomCount())
}

func TestConfirmErrors(t *testing.T) {
	mm, notifier := newTestMatchmaker(t)
	token := pairUp(t, mm, notifier, "A", "B")

	assert.ErrorIs(t, mm.Confirm("ghost", token), ErrUnknownConnection)
	assert.ErrorIs(t, mm.Confirm("A", "WRONG"), ErrTokenMismatch)

	mm.Register("C")
	assert.ErrorIs(t, mm.Confirm("C", token), ErrNoPendingMatch)
}

func TestRoomReleasedWhenBothMembersGone(t *testing.T) {
	mm, notifier := newTestMatchmaker(t)
	token := pairUp(t, mm, notifier, "A", "B")
	require.NoError(t, mm.Confirm("A", token))
	require.NoError(t, mm.Confirm("B", token))
	require.Equal(t, 1, mm.RoomCount())

	mm.Unregister("A")
	assert.Equal(t, 1, mm.RoomCount(), "room persists while one member remains")
	mm.Unregister("B")
	assert.Equal(t, 0, mm.RoomCount())
}

func TestPendingLeaveRestoresPeerToHead(t *testing.T) {
	mm, notifier := newTestMatchmaker(t)
	token := pairUp(t, mm, notifier, "A", "B")
	_ = token

	mm.Leave("B", "B")

	assert.Equal(t, []string{"A"}, mm.Snapshot(), "peer returns to the head of the queue")
	assert.Equal(t, []string{"A"}, notifier.abortedIDs())

	stateA, _ := mm.StateOf("A")
	assert.Equal(t, StateQueued, stateA)
	stateB, _ := mm.StateOf("B")
	assert.Equal(t, StateIdle, stateB)
}

func TestPendingDisconnectRestoresPeer(t *testing.T) {
	mm, notifier := newTestMatchmaker(t)
	pairUp(t, mm, notifier, "A", "B")

	mm.Unregister("B")

	assert.Equal(t, []string{"A"}, mm.Snapshot())
	assert.Equal(t, []string{"A"}, notifier.abortedIDs())
}

// A peer restored after an aborted pairing is paired with the next waiter,
// and receives a fresh token.
func TestRestoredPeerRepairsWithNextWaiter(t *testing.T) {
	mm, notifier := newTestMatchmaker(t)
	first := pairUp(t, mm, notifier, "A", "B")

	mm.Register("C")
	mm.Join("C")
	require.Equal(t, []string{"C"}, mm.Snapshot())

	mm.Unregister("B")

	tokensA := notifier.tokensFor("A")
	require.Len(t, tokensA, 2)
	assert.NotEqual(t, first, tokensA[1], "aborted token must not be reissued to the new pair")
	assert.Equal(t, tokensA[1], notifier.tokensFor("C")[0])
	assert.Equal(t, 0, mm.WaitingCount())
}

func TestConfirmationTimeout(t *testing.T) {
	notifier := newRecordingNotifier()
	cfg := config.MatchmakerConfig{ConfirmTimeout: 50 * time.Millisecond, TokenLength: 8}
	mm := NewMatchmaker(cfg, NewCryptoSource(), notifier, zaptest.NewLogger(t))
	t.Cleanup(mm.Stop)

	token := pairUp(t, mm, notifier, "A", "B")
	require.NoError(t, mm.Confirm("A", token))

	require.Eventually(t, func() bool {
		state, _ := mm.StateOf("A")
		return state == StateQueued
	}, 2*time.Second, 10*time.Millisecond, "confirmed member is requeued after the window expires")

	stateB, _ := mm.StateOf("B")
	assert.Equal(t, StateIdle, stateB, "unresponsive member must rejoin explicitly")
	assert.ElementsMatch(t, []string{"A", "B"}, notifier.abortedIDs())
	assert.Equal(t, []string{"A"}, mm.Snapshot())
	assert.Equal(t, 0, mm.RoomCount())
}

func TestConfirmedPairUnaffectedByTimer(t *testing.T) {
	notifier := newRecordingNotifier()
	cfg := config.MatchmakerConfig{ConfirmTimeout: 30 * time.Millisecond, TokenLength: 8}
	mm := NewMatchmaker(cfg, NewCryptoSource(), notifier, zaptest.NewLogger(t))
	t.Cleanup(mm.Stop)

	token := pairUp(t, mm, notifier, "A", "B")
	require.NoError(t, mm.Confirm("A", token))
	require.NoError(t, mm.Confirm("B", token))

	time.Sleep(100 * time.Millisecond)
	for _, id := range []string{"A", "B"} {
		state, _ := mm.StateOf(id)
		assert.Equal(t, StateInRoom, state)
	}
	assert.Empty(t, notifier.abortedIDs())
}

// With a constant random source every generated token collides with the one
// reserved by the first room, so the second pairing cannot commit and both
// waiters are restored in order.
func TestTokenCollisionLeavesQueueIntact(t *testing.T) {
	notifier := newRecordingNotifier()
	cfg := testMatchmakerConfig()
	mm := NewMatchmaker(cfg, constSource{v: 0}, notifier, zaptest.NewLogger(t))
	t.Cleanup(mm.Stop)

	token := pairUp(t, mm, notifier, "A", "B")
	require.NoError(t, mm.Confirm("A", token))
	require.NoError(t, mm.Confirm("B", token))

	mm.Register("C")
	mm.Register("D")
	mm.Join("C")
	mm.Join("D")

	assert.Equal(t, []string{"C", "D"}, mm.Snapshot(), "pair restored in original order")
	assert.Empty(t, notifier.tokensFor("C"))
	assert.Empty(t, notifier.tokensFor("D"))
}

func TestFourWaitersFormTwoPairs(t *testing.T) {
	mm, notifier := newTestMatchmaker(t)
	for _, id := range []string{"A", "B", "C", "D"} {
		mm.Register(id)
	}
	mm.Join("A")
	mm.Join("B")
	mm.Join("C")
	mm.Join("D")

	assert.Equal(t, notifier.tokensFor("A"), notifier.tokensFor("B"))
	assert.Equal(t, notifier.tokensFor("C"), notifier.tokensFor("D"))
	assert.NotEqual(t, notifier.tokensFor("A"), notifier.tokensFor("C"))
	assert.Equal(t, 0, mm.WaitingCount())
}

// Concurrent joins and disconnects across many transports must preserve the
// queue invariants: no duplicates, every delivered pairing has exactly two
// members with the same token.
func TestConcurrentChurn(t *testing.T) {
	mm, notifier := newTestMatchmaker(t)

	const workers = 32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		id := fmt.Sprintf("conn-%02d", i)
		go func(id string, i int) {
			defer wg.Done()
			mm.Register(id)
			mm.Join(id)
			if i%3 == 0 {
				mm.Leave(id, id)
			}
			if i%5 == 0 {
				mm.Unregister(id)
			}
		}(id, i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, id := range mm.Snapshot() {
		assert.False(t, seen[id], "snapshot contains duplicate %s", id)
		seen[id] = true
	}

	// Each pairing delivered exactly once per member, identical per pair.
	counts := make(map[string]int)
	notifier.mu.Lock()
	for _, tokens := range notifier.tokens {
		for _, tok := range tokens {
			counts[tok]++
		}
	}
	notifier.mu.Unlock()
	for tok, n := range counts {
		assert.Equal(t, 2, n, "token %s delivered to %d connections", tok, n)
	}
}
