// Package lobby implements the matchmaking queue: a FIFO of usernames
// awaiting an opponent. The two oldest entries are paired into a game.
package lobby

import "sync"

// Queue is the shared matchmaking queue. Mutation is serialized; a lone
// waiting player stays queued indefinitely until a second joins.
type Queue struct {
	mu      sync.Mutex
	waiting []string
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends a player unless it is already waiting.
func (q *Queue) Enqueue(username string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, w := range q.waiting {
		if w == username {
			return
		}
	}
	q.waiting = append(q.waiting, username)
}

// Remove drops a player from the queue (disconnect while waiting).
func (q *Queue) Remove(username string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, w := range q.waiting {
		if w == username {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return
		}
	}
}

// TryPair removes and returns the two oldest waiting players, FIFO, no
// priority. The second return is false while fewer than two players wait.
func (q *Queue) TryPair() (string, string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiting) < 2 {
		return "", "", false
	}
	a, b := q.waiting[0], q.waiting[1]
	q.waiting = q.waiting[2:]
	return a, b, true
}

// Len returns the number of waiting players.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}
