package pipeline

import (
	"context"
	"sync"
	"time"

	"camdvr/internal/logging"
	"camdvr/internal/models"
)

// BulkInserter is the database side of the index queue.
type BulkInserter interface {
	InsertBatch(ctx context.Context, entries []models.IndexEntry) error
}

type flushAction int

const (
	actionNoop flushAction = iota
	actionFlushNow
	actionArmTimer
)

// onEnqueue decides what an enqueue triggers: an immediate flush once
// the batch threshold is reached, a delayed flush timer if none is
// armed, or nothing.
func onEnqueue(buffered, batchSize int, timerArmed bool) flushAction {
	switch {
	case buffered >= batchSize:
		return actionFlushNow
	case !timerArmed:
		return actionArmTimer
	default:
		return actionNoop
	}
}

// IndexQueue batches index entries and flushes them to the store in bulk.
// The buffer is unbounded; this is the one stage with at-least-once
// delivery: a failed flush puts the batch back at the front and the
// worker retries after a backoff, up to maxRetries before the batch is
// dead-lettered to the log.
type IndexQueue struct {
	inserter   BulkInserter
	batchSize  int
	flushDelay time.Duration
	backoff    time.Duration
	maxRetries int

	mu           sync.Mutex
	buf          []models.IndexEntry
	timer        *time.Timer
	timerArmed   bool
	inserted     uint64
	deadLettered uint64

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func NewIndexQueue(batchSize int, flushDelay, backoff time.Duration, maxRetries int, inserter BulkInserter) *IndexQueue {
	return &IndexQueue{
		inserter:   inserter,
		batchSize:  batchSize,
		flushDelay: flushDelay,
		backoff:    backoff,
		maxRetries: maxRetries,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Enqueue appends the task's index entry and arms the flush machinery.
func (q *IndexQueue) Enqueue(t models.IndexTask) {
	entry := models.IndexEntry{
		CamNo:    t.CamNo,
		Key:      models.KeyFromMillis(t.Timestamp),
		Location: t.Location,
	}

	q.mu.Lock()
	q.buf = append(q.buf, entry)
	act := onEnqueue(len(q.buf), q.batchSize, q.timerArmed)
	if act == actionArmTimer {
		q.timerArmed = true
		q.timer = time.AfterFunc(q.flushDelay, func() {
			q.mu.Lock()
			q.timerArmed = false
			q.mu.Unlock()
			q.signal()
		})
	}
	q.mu.Unlock()

	if act == actionFlushNow {
		q.signal()
	}
}

func (q *IndexQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Buffered returns the number of entries awaiting flush.
func (q *IndexQueue) Buffered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Inserted returns the lifetime count of entries flushed to the store.
func (q *IndexQueue) Inserted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inserted
}

// DeadLettered returns the lifetime count of entries abandoned after
// exhausting retries.
func (q *IndexQueue) DeadLettered() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.deadLettered
}

// Start launches the flush worker.
func (q *IndexQueue) Start() {
	go q.run()
}

// Stop terminates the worker after a best-effort final flush.
func (q *IndexQueue) Stop() {
	close(q.stop)
	<-q.done
}

// Flush makes one bulk-insert attempt with up to batchSize entries taken
// from the front of the buffer, clearing any armed timer. On failure the
// attempted batch goes back to the front in its original order.
func (q *IndexQueue) Flush() (int, error) {
	q.mu.Lock()
	if len(q.buf) == 0 {
		q.mu.Unlock()
		return 0, nil
	}
	n := len(q.buf)
	if n > q.batchSize {
		n = q.batchSize
	}
	batch := make([]models.IndexEntry, n)
	copy(batch, q.buf[:n])
	q.buf = q.buf[n:]
	if q.timerArmed {
		q.timer.Stop()
		q.timerArmed = false
	}
	q.mu.Unlock()

	if err := q.inserter.InsertBatch(context.Background(), batch); err != nil {
		q.mu.Lock()
		restored := make([]models.IndexEntry, 0, len(batch)+len(q.buf))
		restored = append(restored, batch...)
		restored = append(restored, q.buf...)
		q.buf = restored
		q.mu.Unlock()
		return 0, err
	}

	q.mu.Lock()
	q.inserted += uint64(n)
	q.mu.Unlock()
	return n, nil
}

func (q *IndexQueue) run() {
	defer close(q.done)
	failures := 0
	for {
		select {
		case <-q.stop:
			q.finalFlush()
			return
		case <-q.wake:
		}

		for {
			n, err := q.Flush()
			if err != nil {
				failures++
				if failures > q.maxRetries {
					q.deadLetter()
					failures = 0
					continue
				}
				logging.Warnf("[index] flush failed (attempt %d/%d), retrying in %s: %v",
					failures, q.maxRetries, q.backoff, err)
				select {
				case <-q.stop:
					q.finalFlush()
					return
				case <-time.After(q.backoff):
				}
				continue
			}
			failures = 0
			if n == 0 {
				break
			}

			q.mu.Lock()
			remaining := len(q.buf)
			rearm := remaining > 0 && remaining < q.batchSize && !q.timerArmed
			if rearm {
				q.timerArmed = true
				q.timer = time.AfterFunc(q.flushDelay, func() {
					q.mu.Lock()
					q.timerArmed = false
					q.mu.Unlock()
					q.signal()
				})
			}
			q.mu.Unlock()
			if remaining < q.batchSize {
				break
			}
		}
	}
}

// deadLetter drops the head batch after retries are exhausted, logging
// every abandoned entry once.
func (q *IndexQueue) deadLetter() {
	q.mu.Lock()
	n := len(q.buf)
	if n > q.batchSize {
		n = q.batchSize
	}
	batch := q.buf[:n]
	q.buf = q.buf[n:]
	q.deadLettered += uint64(n)
	q.mu.Unlock()

	for _, e := range batch {
		logging.Errorf("[index] dead-letter: cam=%s location=%s key=%v", e.CamNo, e.Location, e.Key)
	}
	logging.Errorf("[index] abandoned batch of %d entries after %d failed attempts", n, q.maxRetries+1)
}

func (q *IndexQueue) finalFlush() {
	for {
		n, err := q.Flush()
		if err != nil {
			logging.Errorf("[index] final flush failed, %d entries lost: %v", q.Buffered(), err)
			return
		}
		if n == 0 {
			return
		}
	}
}
