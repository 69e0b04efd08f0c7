// Package match implements the matchmaking core: a registry of live
// connections, an ordered waiting queue, and a pairing engine that hands
// each matched pair a shared room token.
package match

// waitingQueue is an ordered, duplicate-free sequence of connection ids.
// Insertion order determines pairing eligibility: the two earliest-enqueued
// ids are paired first.
//
// Invariant: no id appears twice; members mirrors ids exactly.
// Not safe for concurrent use; the Matchmaker serializes all access.
type waitingQueue struct {
	ids     []string
	members map[string]bool
}

func newWaitingQueue() *waitingQueue {
	return &waitingQueue{
		members: make(map[string]bool),
	}
}

// enqueue appends id to the back of the queue.
// Reports whether the id was added; a duplicate is a silent no-op.
func (q *waitingQueue) enqueue(id string) bool {
	if q.members[id] {
		return false
	}
	q.ids = append(q.ids, id)
	q.members[id] = true
	return true
}

// pushFront inserts id at the head of the queue, ahead of all waiters.
// Used to restore a connection whose pairing was aborted.
// Reports whether the id was added; a duplicate is a silent no-op.
func (q *waitingQueue) pushFront(id string) bool {
	if q.members[id] {
		return false
	}
	q.ids = append([]string{id}, q.ids...)
	q.members[id] = true
	return true
}

// dequeue removes id wherever it sits in the queue.
// Reports whether the id was present; an absent id is a silent no-op.
func (q *waitingQueue) dequeue(id string) bool {
	if !q.members[id] {
		return false
	}
	for i, v := range q.ids {
		if v == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			break
		}
	}
	delete(q.members, id)
	return true
}

// takePair removes and returns the two earliest-enqueued ids.
//
// Postcondition: ok is false and the queue is unchanged when fewer than
// two ids are waiting.
func (q *waitingQueue) takePair() (a, b string, ok bool) {
	if len(q.ids) < 2 {
		return "", "", false
	}
	a, b = q.ids[0], q.ids[1]
	q.ids = q.ids[2:]
	delete(q.members, a)
	delete(q.members, b)
	return a, b, true
}

// contains reports whether id is queued.
func (q *waitingQueue) contains(id string) bool {
	return q.members[id]
}

func (q *waitingQueue) len() int {
	return len(q.ids)
}

// snapshot returns a read-only copy of the queued ids in order.
func (q *waitingQueue) snapshot() []string {
	out := make([]string, len(q.ids))
	copy(out, q.ids)
	return out
}
