package fixchain

import (
	"sync"

	"fixhunt/internal/backends"
)

// taskPhase is where a traversal task is in its life
type taskPhase int

const (
	// phaseSearch looks up the commits matching an input subject
	phaseSearch taskPhase = iota
	// phaseExpand looks up the commits fixing an already reported commit
	phaseExpand
)

func (p taskPhase) String() string {
	if p == phaseSearch {
		return "search"
	}
	return "expand"
}

// task is one unit of traversal work
type task struct {
	phase   taskPhase
	subject string
	commit  backends.Commit
	depth   int
}

// workQueue is an unbounded LIFO of tasks shared by all workers. Tasks
// spawned while processing a task are pushed before that task is marked
// done, so the queue drains exactly when no task is queued or running.
// LIFO order finishes a chain before starting the next subject, which
// keeps related output close together.
type workQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []task
	pending int // queued or running
	closed  bool
}

func newWorkQueue() *workQueue {
	q := &workQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push adds t; it is a no-op once the queue is closed
func (q *workQueue) push(t task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, t)
	q.pending++
	q.cond.Signal()
	return true
}

// pop blocks until a task is available or the queue is closed
func (q *workQueue) pop() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return task{}, false
	}
	last := len(q.items) - 1
	t := q.items[last]
	q.items[last] = task{}
	q.items = q.items[:last]
	return t, true
}

// done marks a popped task finished and closes the queue when it was
// the last outstanding one
func (q *workQueue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending--
	if q.pending <= 0 {
		q.closed = true
		q.cond.Broadcast()
	}
}

// close drops queued tasks and wakes every waiting worker
func (q *workQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
}

// size returns the number of queued tasks
func (q *workQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
