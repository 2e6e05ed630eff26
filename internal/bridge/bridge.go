package bridge

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
)

// DefaultQueueSize is the bounded-queue high-water mark; past it new work
// is rejected with ErrSystemBusy.
const DefaultQueueSize = 100

// DefaultTimeout bounds an operation when the caller does not specify one.
const DefaultTimeout = 30 * time.Second

// ErrNestedCall is returned when an operation already running on the bridge
// worker tries to dispatch through the bridge again.
var ErrNestedCall = errors.New("bridge: nested Run call from the owning worker")

type workerKey struct{}

// Op is a unit of Telegram work. It must honor ctx cancellation: on timeout
// the bridge cancels ctx and the affected client gets evicted by the caller
// so no half-open handle survives.
type Op func(ctx context.Context) error

type job struct {
	ctx  context.Context
	fn   Op
	done chan error
}

// Bridge executes Telegram operations on a single owning goroutine.
// Telegram client objects are not safe for concurrent use; confining every
// call to one worker removes the scheduler-conflict class of bugs, and the
// bounded queue applies backpressure to the HTTP layer.
type Bridge struct {
	jobs chan job
	log  *zap.Logger

	stopC chan struct{}
	doneC chan struct{}
}

// New creates and starts a bridge with the given queue capacity.
func New(queueSize int, log *zap.Logger) *Bridge {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bridge{
		jobs:  make(chan job, queueSize),
		log:   log,
		stopC: make(chan struct{}),
		doneC: make(chan struct{}),
	}
	go b.worker()
	return b
}

// Run executes fn on the owning worker and waits for it to finish, at most
// timeout. A full queue yields ErrSystemBusy immediately; a nested call
// from inside the worker yields ErrNestedCall.
func (b *Bridge) Run(ctx context.Context, timeout time.Duration, fn Op) error {
	if ctx.Value(workerKey{}) != nil {
		return ErrNestedCall
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	opCtx, cancel := context.WithTimeout(context.WithValue(ctx, workerKey{}, struct{}{}), timeout)
	defer cancel()

	j := job{ctx: opCtx, fn: fn, done: make(chan error, 1)}

	select {
	case b.jobs <- j:
	default:
		b.log.Warn("bridge queue full, rejecting operation")
		return apperrors.ErrSystemBusy
	}

	select {
	case err := <-j.done:
		return err
	case <-opCtx.Done():
		// The worker will observe the cancelled context; the caller must
		// treat the handle as unusable and evict it.
		return apperrors.Wrap(apperrors.ErrTransportDisconnected, opCtx.Err())
	}
}

// Stop drains no further work and waits for the worker to exit.
func (b *Bridge) Stop() {
	close(b.stopC)
	<-b.doneC
}

func (b *Bridge) worker() {
	defer close(b.doneC)
	for {
		select {
		case <-b.stopC:
			return
		case j := <-b.jobs:
			if err := j.ctx.Err(); err != nil {
				j.done <- err
				continue
			}
			j.done <- j.fn(j.ctx)
		}
	}
}
