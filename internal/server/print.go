package server

import (
	"context"
	"sync"

	"github.com/marmos91/varbus/pkg/status"
	"github.com/marmos91/varbus/pkg/wire"
)

// printJob is one brokered print session. The requestor's dispatch
// goroutine parks on done; the renderer reports its verdict there.
type printJob struct {
	requestor uint32
	handle    wire.Handle
	done      chan error
}

// printQueueDepth bounds the per-renderer backlog. A renderer that
// stops polling makes further requests fail fast instead of piling up.
const printQueueDepth = 16

// printBroker routes print requests to the renderer that registered the
// variable and correlates the open/close handshake back to the blocked
// requestor.
type printBroker struct {
	mu     sync.Mutex
	queues map[uint32]chan *printJob

	// active sessions keyed by requestor pid: the protocol allows one
	// outstanding print per requesting process.
	active map[uint32]*printJob
}

func newPrintBroker() *printBroker {
	return &printBroker{
		queues: make(map[uint32]chan *printJob),
		active: make(map[uint32]*printJob),
	}
}

func (b *printBroker) queue(renderer uint32) chan *printJob {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[renderer]
	if !ok {
		q = make(chan *printJob, printQueueDepth)
		b.queues[renderer] = q
	}
	return q
}

// Request enqueues a job for the renderer and blocks until the renderer
// closes the session. This is the server half of the requestor's
// unbounded wait.
func (b *printBroker) Request(ctx context.Context, renderer, requestor uint32, h wire.Handle) error {
	job := &printJob{requestor: requestor, handle: h, done: make(chan error, 1)}

	select {
	case b.queue(renderer) <- job:
	default:
		// Renderer backlog full: it registered the variable but is not
		// servicing polls.
		return status.ErrNotSupported
	}

	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return status.ErrTimedOut
	}
}

// Poll blocks the renderer until a job arrives and marks the session
// active so the open/close handshake can find it.
func (b *printBroker) Poll(ctx context.Context, renderer uint32) (*printJob, error) {
	select {
	case job := <-b.queue(renderer):
		b.mu.Lock()
		b.active[job.requestor] = job
		b.mu.Unlock()
		return job, nil
	case <-ctx.Done():
		return nil, status.ErrTimedOut
	}
}

// Open validates the renderer's open request against the active session.
func (b *printBroker) Open(requestor uint32, h wire.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.active[requestor]
	if !ok || job.handle != h {
		return status.ErrNotFound
	}
	return nil
}

// Close finishes the session: the verdict unblocks the requestor.
func (b *printBroker) Close(requestor uint32, verdict error) error {
	b.mu.Lock()
	job, ok := b.active[requestor]
	delete(b.active, requestor)
	b.mu.Unlock()
	if !ok {
		return status.ErrNotFound
	}
	job.done <- verdict
	return nil
}

// DropSession releases broker state tied to a departing pid: its active
// session as requestor is aborted and its renderer queue is drained so
// blocked requestors fail instead of hanging.
func (b *printBroker) DropSession(pid uint32) {
	b.mu.Lock()
	job, ok := b.active[pid]
	delete(b.active, pid)
	q := b.queues[pid]
	delete(b.queues, pid)
	b.mu.Unlock()

	if ok {
		job.done <- status.ErrNotSupported
	}
	if q != nil {
		for {
			select {
			case j := <-q:
				j.done <- status.ErrNotSupported
			default:
				return
			}
		}
	}
}
