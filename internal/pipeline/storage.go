package pipeline

import (
	"errors"
	"sync"
	"time"

	"camdvr/internal/logging"
	"camdvr/internal/models"
	"camdvr/internal/store"
)

// ErrQueueFull is the backpressure signal: the task was dropped, ingest
// was not blocked.
var ErrQueueFull = errors.New("storage queue full")

// BlobWriter is the disk side of the storage queue.
type BlobWriter interface {
	Write(camNo, name string, payload []byte) (location string, err error)
}

// IndexEnqueuer receives completed writes for index insertion.
type IndexEnqueuer interface {
	Enqueue(task models.IndexTask)
}

// StorageQueue is a bounded FIFO of pending disk writes. Enqueue never
// blocks; a single background worker drains the whole queue on a fixed
// tick so bursts coalesce into one pass. Failed writes are dropped, not
// retried.
type StorageQueue struct {
	writer BlobWriter
	index  IndexEnqueuer
	cap    int
	tick   time.Duration

	mu      sync.Mutex
	tasks   []models.StorageTask
	dropped uint64
	written uint64

	stop chan struct{}
	done chan struct{}
}

func NewStorageQueue(capacity int, tick time.Duration, writer BlobWriter, index IndexEnqueuer) *StorageQueue {
	return &StorageQueue{
		writer: writer,
		index:  index,
		cap:    capacity,
		tick:   tick,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Enqueue appends a task, or drops it and returns ErrQueueFull when the
// queue is at capacity.
func (q *StorageQueue) Enqueue(t models.StorageTask) error {
	q.mu.Lock()
	if len(q.tasks) >= q.cap {
		q.dropped++
		n := q.dropped
		q.mu.Unlock()
		logging.Warnf("[storage] queue full (cap %d), frame dropped (total dropped %d)", q.cap, n)
		return ErrQueueFull
	}
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
	return nil
}

func (q *StorageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Dropped returns the lifetime count of tasks rejected at capacity.
func (q *StorageQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Written returns the lifetime count of completed disk writes.
func (q *StorageQueue) Written() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.written
}

// Start launches the drain worker.
func (q *StorageQueue) Start() {
	go q.run()
}

// Stop terminates the worker after one final drain.
func (q *StorageQueue) Stop() {
	close(q.stop)
	<-q.done
}

func (q *StorageQueue) run() {
	defer close(q.done)
	ticker := time.NewTicker(q.tick)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			q.Drain()
			return
		case <-ticker.C:
			q.Drain()
		}
	}
}

// Drain writes out every queued task. Exposed for tests and the final
// shutdown flush; the worker calls it on each tick.
func (q *StorageQueue) Drain() {
	q.mu.Lock()
	batch := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	for _, t := range batch {
		name := t.Filename
		if name == "" {
			name = store.FrameFilename(t.Timestamp)
		}
		location, err := q.writer.Write(t.CamNo, name, t.Payload)
		if err != nil {
			// Disk failures are rare; a retry storm costs more than one
			// lost frame.
			logging.Errorf("[storage] write %s/%s failed, frame dropped: %v", t.CamNo, name, err)
			continue
		}
		q.mu.Lock()
		q.written++
		q.mu.Unlock()
		q.index.Enqueue(models.IndexTask{CamNo: t.CamNo, Timestamp: t.Timestamp, Location: location})
	}
}
