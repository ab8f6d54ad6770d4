package relay

import "sync"

// queue is the Bounded Queue of spec §4.2: an ordered FIFO of pending
// entries for one session. Overflow policy is the caller's (Session's)
// concern — enqueue never drops, it only reports the new length so Session
// can decide.
type queue struct {
	mu      sync.Mutex
	entries []Entry
	empty   *OneShot[struct{}]
}

func newQueue() *queue {
	return &queue{empty: NewOneShot[struct{}]()}
}

// enqueue appends one entry and returns the queue's length afterward.
func (q *queue) enqueue(e Entry) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
	return len(q.entries)
}

// takeBatch detaches up to n entries from the head, FIFO order preserved.
// If the queue becomes empty as a result, the onEmpty signal fires.
func (q *queue) takeBatch(n int) []Entry {
	q.mu.Lock()
	if n > len(q.entries) {
		n = len(q.entries)
	}
	batch := make([]Entry, n)
	copy(batch, q.entries[:n])
	q.entries = q.entries[n:]
	becameEmpty := len(q.entries) == 0 && n > 0
	empty := q.empty
	q.mu.Unlock()

	if becameEmpty {
		empty.Fire(struct{}{})
	}
	return batch
}

// size returns the current queue length.
func (q *queue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// onEmpty returns a one-shot signal for the next size()-transitions-to-0
// edge.
func (q *queue) onEmpty() (done <-chan struct{}, value func() struct{}) {
	q.mu.Lock()
	empty := q.empty
	q.mu.Unlock()
	return empty.Take()
}
