// shared/mongodb/queue.go
package mongodb

import (
	"sync"
	"time"
)

// queueResult carries the outcome of a queued operation back to its submitter.
type queueResult struct {
	value interface{}
	err   error
}

// queuedOperation is one deferred operation parked during an outage.
type queuedOperation struct {
	name       string
	op         Operation
	result     chan queueResult
	enqueuedAt time.Time

	mu        sync.Mutex
	abandoned bool
}

// deliver hands the result to the waiting submitter, unless they gave up.
func (q *queuedOperation) deliver(res queueResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.abandoned {
		return
	}
	q.result <- res
}

// abandon marks the operation as no longer awaited. The drain loop may still
// execute it, but the result is dropped.
func (q *queuedOperation) abandon() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.abandoned = true
}

// operationQueue is a bounded FIFO of operations submitted while the
// connection is unhealthy. Ordering is guaranteed only within the queue.
type operationQueue struct {
	mu    sync.Mutex
	items []*queuedOperation
	cap   int
}

func newOperationQueue(capacity int) *operationQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &operationQueue{cap: capacity}
}

func (oq *operationQueue) push(op *queuedOperation) error {
	oq.mu.Lock()
	defer oq.mu.Unlock()
	if len(oq.items) >= oq.cap {
		return ErrQueueFull
	}
	oq.items = append(oq.items, op)
	return nil
}

func (oq *operationQueue) pop() *queuedOperation {
	oq.mu.Lock()
	defer oq.mu.Unlock()
	if len(oq.items) == 0 {
		return nil
	}
	op := oq.items[0]
	oq.items = oq.items[1:]
	return op
}

func (oq *operationQueue) depth() int {
	oq.mu.Lock()
	defer oq.mu.Unlock()
	return len(oq.items)
}
