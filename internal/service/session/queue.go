package session

import (
	"context"
	"errors"
	"sync"

	"kharomchat/internal/observability"
)

const queueLen = 16

var (
	errQueueFull    = errors.New("session write queue full")
	errQueueStopped = errors.New("session write queue stopped")
)

type writeJob struct {
	ctx      context.Context
	run      func(ctx context.Context) error
	resultCh chan error
}

// sessionQueue runs the writes of one session strictly one after another.
type sessionQueue struct {
	jobs   chan writeJob
	stopCh chan struct{}
	done   chan struct{}
}

type writeQueues struct {
	mu     sync.Mutex
	queues map[string]*sessionQueue
}

func newWriteQueues() *writeQueues {
	return &writeQueues{queues: make(map[string]*sessionQueue)}
}

// submit runs fn on the queue of sessionID and waits for its result.
func (w *writeQueues) submit(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	q := w.ensure(sessionID)
	job := writeJob{ctx: ctx, run: fn, resultCh: make(chan error, 1)}

	select {
	case <-q.stopCh:
		return errQueueStopped
	default:
	}
	select {
	case q.jobs <- job:
	default:
		return errQueueFull
	}

	select {
	case err := <-job.resultCh:
		return err
	case <-q.done:
		// The worker may have finished the job right before stopping.
		select {
		case err := <-job.resultCh:
			return err
		default:
			return errQueueStopped
		}
	}
}

func (w *writeQueues) ensure(sessionID string) *sessionQueue {
	w.mu.Lock()
	defer w.mu.Unlock()

	if q, ok := w.queues[sessionID]; ok {
		return q
	}
	q := &sessionQueue{
		jobs:   make(chan writeJob, queueLen),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	w.queues[sessionID] = q
	go w.run(sessionID, q)
	return q
}

func (w *writeQueues) run(sessionID string, q *sessionQueue) {
	defer close(q.done)
	for {
		select {
		case <-q.stopCh:
			observability.Debug("session write queue stopped", "session_id", sessionID)
			for {
				select {
				case job := <-q.jobs:
					job.resultCh <- errQueueStopped
				default:
					return
				}
			}
		case job := <-q.jobs:
			ctx := job.ctx
			if ctx == nil {
				ctx = context.Background()
			}
			job.resultCh <- job.run(ctx)
		}
	}
}

// purge stops the queue of a deleted session. A later submit starts a fresh one.
func (w *writeQueues) purge(sessionID string) {
	w.mu.Lock()
	q, ok := w.queues[sessionID]
	delete(w.queues, sessionID)
	w.mu.Unlock()
	if ok {
		close(q.stopCh)
	}
}

func (w *writeQueues) size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queues)
}

func (w *writeQueues) close() {
	w.mu.Lock()
	queues := w.queues
	w.queues = make(map[string]*sessionQueue)
	w.mu.Unlock()
	for _, q := range queues {
		close(q.stopCh)
		<-q.done
	}
}
