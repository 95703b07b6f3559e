package workspace

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/logging"
	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/metrics"
	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/storage"
)

// defaultQueueSize bounds the background write queue when no size is given.
const defaultQueueSize = 2048

// syncWriteTimeout bounds a fallback write performed on the caller's
// goroutine so a stalled store cannot hang a request forever.
const syncWriteTimeout = 10 * time.Second

// WriteQueue decouples activity-record persistence from request latency.
// One worker goroutine drains a bounded channel for the process lifetime.
// When the channel is full or the worker is gone, the producer writes
// synchronously instead: backpressure degrades latency, never durability.
type WriteQueue struct {
	store storage.Store
	ch    chan storage.Record
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// NewWriteQueue creates the queue and starts its worker.
func NewWriteQueue(store storage.Store, size int) *WriteQueue {
	if size <= 0 {
		size = defaultQueueSize
	}
	q := &WriteQueue{
		store: store,
		ch:    make(chan storage.Record, size),
		done:  make(chan struct{}),
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

// Submit hands a record to the worker without blocking. If the queue is
// saturated or closed, the record is written in the caller's context so it
// is never dropped.
func (q *WriteQueue) Submit(ctx context.Context, rec storage.Record) {
	select {
	case <-q.done:
		metrics.RecordWriteQueueFallback()
		q.write(context.WithoutCancel(ctx), rec)
		return
	default:
	}

	select {
	case q.ch <- rec:
		metrics.SetWriteQueueDepth(len(q.ch))
	default:
		// A canceled request must not lose the record it already produced.
		metrics.RecordWriteQueueFallback()
		q.write(context.WithoutCancel(ctx), rec)
	}
}

// Depth returns the current number of queued records.
func (q *WriteQueue) Depth() int {
	return len(q.ch)
}

// Close stops the worker. Records still queued are best-effort: the worker
// finishes its in-flight write and exits.
func (q *WriteQueue) Close() {
	q.once.Do(func() { close(q.done) })
	q.wg.Wait()
}

func (q *WriteQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case rec := <-q.ch:
			metrics.SetWriteQueueDepth(len(q.ch))
			q.write(context.Background(), rec)
		case <-q.done:
			return
		}
	}
}

// write applies one record to the store. Failures are logged, not retried;
// activity records are telemetry, not transactional state.
func (q *WriteQueue) write(ctx context.Context, rec storage.Record) {
	ctx, cancel := context.WithTimeout(ctx, syncWriteTimeout)
	defer cancel()
	if err := q.store.Append(ctx, rec); err != nil {
		metrics.RecordWriteQueueError()
		logging.Error("activity record write failed",
			zap.String("kind", string(rec.Kind)),
			zap.String("scope", rec.Scope),
			zap.Error(err))
	}
}
