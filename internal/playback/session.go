package playback

import (
	"context"
	"sync"
	"time"

	"camdvr/internal/logging"
	"camdvr/internal/models"
	"camdvr/internal/wire"
)

// Events sent to the viewer over its control channel.
const (
	EventStarted      = "playback-started"
	EventNoData       = "playback-no-data"
	EventComplete     = "playback-complete"
	EventNoFrames     = "playback-no-frames"
	EventFrameMissing = "frame-missing"
	EventError        = "error"
)

// State of a playback session.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StatePaused
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// IndexPager pages the frame index in capture-key order.
type IndexPager interface {
	PageFrom(ctx context.Context, camNo string, from models.TimeKey, inclusive bool, limit int) ([]models.IndexEntry, error)
}

// BlobReader loads stored frame bytes by index location.
type BlobReader interface {
	Read(location string) ([]byte, error)
}

// Viewer is the send target of a session. SendFrame failing means the
// viewer is gone and the session terminates.
type Viewer interface {
	SendFrame(msg []byte) error
	SendEvent(event string, fields map[string]interface{}) error
	Open() bool
}

// Config tunes prefetch and pacing.
type Config struct {
	PageSize      int
	LowWater      int
	BaseDelay     time.Duration
	MissThreshold int
}

const idleWait = 50 * time.Millisecond

// Session streams historical frames for one camera to one viewer at a
// paced rate, prefetching index pages ahead of the pacing loop.
type Session struct {
	id     string
	camNo  string
	speed  float64
	cfg    Config
	pager  IndexPager
	blobs  BlobReader
	viewer Viewer
	onDone func()

	mu       sync.Mutex
	state    State
	queue    []models.IndexEntry // prefetched (location, key) pairs, FIFO
	cursor   models.TimeKey      // last key handed out by the index, keyset pagination
	fetching bool
	finished bool // index exhausted
	paused   bool
	stopping bool
	sent     int

	stopped chan struct{}
}

func (s *Session) ID() string    { return s.id }
func (s *Session) CamNo() string { return s.camNo }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Sent returns the number of frames delivered so far.
func (s *Session) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Stop requests termination. Idempotent; the pacing loop observes it
// within one pacing interval.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	if s.state != StateFailed {
		s.state = StateStopping
	}
	close(s.stopped)
	s.mu.Unlock()
}

// Pause suspends frame delivery. The prefetch queue is untouched.
func (s *Session) Pause() {
	s.mu.Lock()
	s.paused = true
	if s.state == StateRunning {
		s.state = StatePaused
	}
	s.mu.Unlock()
}

// Resume reverses Pause.
func (s *Session) Resume() {
	s.mu.Lock()
	s.paused = false
	if s.state == StatePaused {
		s.state = StateRunning
	}
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Session) isStopping() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

// sleep waits d, returning false if the session was stopped meanwhile.
func (s *Session) sleep(d time.Duration) bool {
	select {
	case <-s.stopped:
		return false
	case <-time.After(d):
		return true
	}
}

// pop takes the head prefetch entry. The second result reports whether
// an entry was available, the third whether the index is exhausted.
func (s *Session) pop() (models.IndexEntry, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return models.IndexEntry{}, false, s.finished
	}
	e := s.queue[0]
	s.queue = s.queue[1:]
	return e, true, false
}

// maybePrefetch starts a background fetch when the queue is at or below
// the low-water mark, no fetch is in flight and the index still has
// rows. Single-flight per session.
func (s *Session) maybePrefetch() {
	s.mu.Lock()
	if len(s.queue) > s.cfg.LowWater || s.fetching || s.finished {
		s.mu.Unlock()
		return
	}
	s.fetching = true
	after := s.cursor
	s.mu.Unlock()
	go s.fetch(after)
}

func (s *Session) fetch(after models.TimeKey) {
	entries, err := s.pager.PageFrom(context.Background(), s.camNo, after, false, s.cfg.PageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetching = false
	if err != nil {
		// Transient; the pacing loop re-triggers the fetch.
		logging.Warnf("[playback] %s: index fetch failed: %v", s.id, err)
		return
	}
	if len(entries) == 0 {
		s.finished = true
		return
	}
	s.queue = append(s.queue, entries...)
	s.cursor = entries[len(entries)-1].Key
}

// run is the pacing loop. One per session, started by the manager after
// a successful first fetch.
func (s *Session) run() {
	defer s.onDone()

	delay := time.Duration(float64(s.cfg.BaseDelay) / s.speed)
	misses := 0

	for {
		if s.isStopping() {
			s.setState(StateStopped)
			return
		}
		if s.isPaused() {
			if !s.sleep(idleWait) {
				s.setState(StateStopped)
				return
			}
			continue
		}

		s.maybePrefetch()

		entry, ok, finished := s.pop()
		if !ok {
			if finished {
				s.viewer.SendEvent(EventComplete, map[string]interface{}{"camNo": s.camNo, "sent": s.Sent()})
				logging.Infof("[playback] %s: complete, %d frames sent", s.id, s.Sent())
				s.setState(StateStopped)
				return
			}
			// Queue empty, fetch in flight: wait for rows.
			if !s.sleep(idleWait) {
				s.setState(StateStopped)
				return
			}
			continue
		}

		data, err := s.blobs.Read(entry.Location)
		if err != nil {
			misses++
			logging.Warnf("[playback] %s: missing frame file %s (%d consecutive)", s.id, entry.Location, misses)
			s.viewer.SendEvent(EventFrameMissing, map[string]interface{}{"camNo": s.camNo, "location": entry.Location})
			if misses >= s.cfg.MissThreshold {
				// Index rows exist but the files are gone; distinct from
				// an empty index.
				s.viewer.SendEvent(EventNoFrames, map[string]interface{}{"camNo": s.camNo, "missing": misses})
				logging.Errorf("[playback] %s: %d consecutive missing files, terminating", s.id, misses)
				s.setState(StateFailed)
				return
			}
			continue
		}
		misses = 0

		msg, err := wire.Encode(s.camNo, entry.Key.Millis(), wire.TypePlayback, data)
		if err != nil {
			logging.Errorf("[playback] %s: encode failed: %v", s.id, err)
			continue
		}
		if err := s.viewer.SendFrame(msg); err != nil {
			logging.Infof("[playback] %s: viewer gone: %v", s.id, err)
			s.setState(StateStopped)
			return
		}
		s.mu.Lock()
		s.sent++
		s.mu.Unlock()

		if !s.sleep(delay) {
			s.setState(StateStopped)
			return
		}
	}
}
