package playback

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"camdvr/internal/logging"
	"camdvr/internal/models"
)

// ErrBadSpeed rejects non-positive speed multipliers.
var ErrBadSpeed = errors.New("playback speed must be > 0")

// Manager owns the camera -> session registry. One session per camera:
// starting a new one preempts the old one, newest wins.
type Manager struct {
	pager IndexPager
	blobs BlobReader
	cfg   Config

	mu    sync.Mutex
	byCam map[string]*Session
}

func NewManager(pager IndexPager, blobs BlobReader, cfg Config) *Manager {
	return &Manager{
		pager: pager,
		blobs: blobs,
		cfg:   cfg,
		byCam: make(map[string]*Session),
	}
}

// Start creates and launches a session for camNo beginning at-or-after
// start. An existing session for the same camera is stopped first. When
// the index has nothing at or after start, the viewer gets a no-data
// event and no session is returned.
func (m *Manager) Start(camNo string, start models.TimeKey, speed float64, viewer Viewer) (*Session, error) {
	if speed <= 0 {
		return nil, ErrBadSpeed
	}

	s := &Session{
		id:      uuid.NewString()[:8],
		camNo:   camNo,
		speed:   speed,
		cfg:     m.cfg,
		pager:   m.pager,
		blobs:   m.blobs,
		viewer:  viewer,
		state:   StateStarting,
		cursor:  start,
		stopped: make(chan struct{}),
	}
	s.onDone = func() { m.remove(camNo, s) }

	m.mu.Lock()
	if old := m.byCam[camNo]; old != nil {
		logging.Infof("[playback] cam %s: preempting session %s with %s", camNo, old.id, s.id)
		old.Stop()
	}
	m.byCam[camNo] = s
	m.mu.Unlock()

	// First fetch happens before the pacing loop so "no data" can be
	// reported immediately.
	entries, err := m.pager.PageFrom(context.Background(), camNo, start, true, m.cfg.PageSize)
	if err != nil {
		m.remove(camNo, s)
		return nil, err
	}
	if len(entries) == 0 {
		m.remove(camNo, s)
		s.setState(StateStopped)
		viewer.SendEvent(EventNoData, map[string]interface{}{"camNo": camNo})
		logging.Infof("[playback] cam %s: no data at requested start time", camNo)
		return nil, nil
	}

	s.mu.Lock()
	s.queue = entries
	s.cursor = entries[len(entries)-1].Key
	s.state = StateRunning
	s.mu.Unlock()

	viewer.SendEvent(EventStarted, map[string]interface{}{"camNo": camNo, "speed": speed})
	logging.Infof("[playback] cam %s: session %s started, speed %.1fx, first page %d rows",
		camNo, s.id, speed, len(entries))
	go s.run()
	return s, nil
}

// StopCam stops the camera's session, if any. Idempotent.
func (m *Manager) StopCam(camNo string) {
	m.mu.Lock()
	s := m.byCam[camNo]
	m.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byCam)
}

func (m *Manager) remove(camNo string, s *Session) {
	m.mu.Lock()
	if m.byCam[camNo] == s {
		delete(m.byCam, camNo)
	}
	m.mu.Unlock()
}
