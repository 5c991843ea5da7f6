package playback

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"camdvr/internal/models"
	"camdvr/internal/wire"
)

// fakePager serves keyset pages from an in-memory, key-sorted slice.
type fakePager struct {
	mu      sync.Mutex
	entries []models.IndexEntry
}

func newFakePager(camNo string, stamps ...int64) *fakePager {
	p := &fakePager{}
	for _, ts := range stamps {
		p.entries = append(p.entries, models.IndexEntry{
			CamNo:    camNo,
			Key:      models.KeyFromMillis(ts),
			Location: camNo + "/" + strconv.FormatInt(ts, 10) + ".bmp",
		})
	}
	sort.Slice(p.entries, func(i, j int) bool { return p.entries[i].Key.Less(p.entries[j].Key) })
	return p
}

func (p *fakePager) PageFrom(_ context.Context, camNo string, from models.TimeKey, inclusive bool, limit int) ([]models.IndexEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var page []models.IndexEntry
	for _, e := range p.entries {
		if e.CamNo != camNo {
			continue
		}
		after := from.Less(e.Key) || (inclusive && e.Key == from)
		if !after {
			continue
		}
		page = append(page, e)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

type fakeBlobs struct {
	mu      sync.Mutex
	data    map[string][]byte
	missing bool
}

func (b *fakeBlobs) Read(location string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.missing {
		return nil, errors.New("file gone")
	}
	if d, ok := b.data[location]; ok {
		return d, nil
	}
	return []byte(location), nil
}

// fakeViewer records delivered frame timestamps and events.
type fakeViewer struct {
	mu     sync.Mutex
	stamps []int64
	events []string
}

func (v *fakeViewer) SendFrame(msg []byte) error {
	hdr, _, err := wire.DecodeOutbound(msg)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.stamps = append(v.stamps, hdr.Timestamp)
	v.mu.Unlock()
	return nil
}

func (v *fakeViewer) SendEvent(event string, _ map[string]interface{}) error {
	v.mu.Lock()
	v.events = append(v.events, event)
	v.mu.Unlock()
	return nil
}

func (v *fakeViewer) Open() bool { return true }

func (v *fakeViewer) snapshot() ([]int64, []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]int64(nil), v.stamps...), append([]string(nil), v.events...)
}

func (v *fakeViewer) hasEvent(name string) bool {
	_, events := v.snapshot()
	for _, e := range events {
		if e == name {
			return true
		}
	}
	return false
}

func testConfig() Config {
	return Config{PageSize: 200, LowWater: 3, BaseDelay: time.Millisecond, MissThreshold: 20}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// TestPlaybackFromStartTime: with entries at 100, 150, 300 and a start
// of 150, the viewer gets 150 then 300, never 100, then completion.
func TestPlaybackFromStartTime(t *testing.T) {
	pager := newFakePager("CAM0", 100, 150, 300)
	viewer := &fakeViewer{}
	m := NewManager(pager, &fakeBlobs{}, testConfig())

	sess, err := m.Start("CAM0", models.KeyFromMillis(150), 1.0, viewer)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if sess == nil {
		t.Fatal("expected a session")
	}

	waitFor(t, "completion", func() bool { return viewer.hasEvent(EventComplete) })

	stamps, _ := viewer.snapshot()
	if len(stamps) != 2 || stamps[0] != 150 || stamps[1] != 300 {
		t.Fatalf("expected [150 300], got %v", stamps)
	}
	if !viewer.hasEvent(EventStarted) {
		t.Error("missing playback-started event")
	}
	if sess.State() != StateStopped {
		t.Errorf("expected stopped state, got %v", sess.State())
	}
	waitFor(t, "registry cleanup", func() bool { return m.Count() == 0 })
}

// TestPlaybackOrder: frames arrive in non-decreasing timestamp order
// with no re-delivery across pages.
func TestPlaybackOrder(t *testing.T) {
	var stamps []int64
	for i := int64(0); i < 25; i++ {
		stamps = append(stamps, 1000+i*100)
	}
	pager := newFakePager("CAM0", stamps...)
	viewer := &fakeViewer{}
	cfg := testConfig()
	cfg.PageSize = 4 // force several keyset pages
	m := NewManager(pager, &fakeBlobs{}, cfg)

	if _, err := m.Start("CAM0", models.KeyFromMillis(0), 4.0, viewer); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "completion", func() bool { return viewer.hasEvent(EventComplete) })

	got, _ := viewer.snapshot()
	if len(got) != len(stamps) {
		t.Fatalf("expected %d frames, got %d", len(stamps), len(got))
	}
	seen := make(map[int64]bool)
	for i, ts := range got {
		if i > 0 && ts < got[i-1] {
			t.Fatalf("timestamp order violated at %d: %v", i, got)
		}
		if seen[ts] {
			t.Fatalf("frame %d re-delivered", ts)
		}
		seen[ts] = true
	}
}

// TestPlaybackNoData: an empty index at the requested start reports
// no-data and leaves no session behind.
func TestPlaybackNoData(t *testing.T) {
	pager := newFakePager("CAM0", 100, 200)
	viewer := &fakeViewer{}
	m := NewManager(pager, &fakeBlobs{}, testConfig())

	sess, err := m.Start("CAM0", models.KeyFromMillis(5000), 1.0, viewer)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if sess != nil {
		t.Fatal("expected no session for empty range")
	}
	if !viewer.hasEvent(EventNoData) {
		t.Error("missing playback-no-data event")
	}
	if viewer.hasEvent(EventComplete) {
		t.Error("no-data must not be followed by playback-complete")
	}
	if m.Count() != 0 {
		t.Errorf("registry should be empty, has %d", m.Count())
	}
}

// TestPreemption: a second session for the same camera stops the first
// and starts from its own requested time.
func TestPreemption(t *testing.T) {
	var stamps []int64
	for i := int64(0); i < 500; i++ {
		stamps = append(stamps, 1000+i*100)
	}
	pager := newFakePager("CAM0", stamps...)
	first := &fakeViewer{}
	second := &fakeViewer{}
	cfg := testConfig()
	cfg.BaseDelay = 20 * time.Millisecond // keep the first session busy
	m := NewManager(pager, &fakeBlobs{}, cfg)

	s1, err := m.Start("CAM0", models.KeyFromMillis(1000), 1.0, first)
	if err != nil || s1 == nil {
		t.Fatalf("first Start failed: %v", err)
	}
	waitFor(t, "first frame", func() bool { n, _ := first.snapshot(); return len(n) > 0 })

	s2, err := m.Start("CAM0", models.KeyFromMillis(31000), 1.0, second)
	if err != nil || s2 == nil {
		t.Fatalf("second Start failed: %v", err)
	}

	waitFor(t, "first session stop", func() bool {
		st := s1.State()
		return st == StateStopped || st == StateStopping
	})
	waitFor(t, "second session frames", func() bool { n, _ := second.snapshot(); return len(n) > 0 })

	got, _ := second.snapshot()
	if got[0] != 31000 {
		t.Errorf("second session should start at its own time, got %d", got[0])
	}
	if m.Count() != 1 {
		t.Errorf("exactly one session per camera, have %d", m.Count())
	}
	s2.Stop()
}

// TestPauseResume: no frames flow while paused.
func TestPauseResume(t *testing.T) {
	var stamps []int64
	for i := int64(0); i < 200; i++ {
		stamps = append(stamps, 1000+i*100)
	}
	pager := newFakePager("CAM0", stamps...)
	viewer := &fakeViewer{}
	m := NewManager(pager, &fakeBlobs{}, testConfig())

	sess, err := m.Start("CAM0", models.KeyFromMillis(0), 1.0, viewer)
	if err != nil || sess == nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "first frame", func() bool { n, _ := viewer.snapshot(); return len(n) > 0 })

	sess.Pause()
	waitFor(t, "paused state", func() bool { return sess.State() == StatePaused })
	before, _ := viewer.snapshot()
	time.Sleep(100 * time.Millisecond)
	after, _ := viewer.snapshot()
	// One in-flight frame may land right after Pause.
	if len(after) > len(before)+1 {
		t.Errorf("frames flowed while paused: %d -> %d", len(before), len(after))
	}

	sess.Resume()
	waitFor(t, "resumed delivery", func() bool { n, _ := viewer.snapshot(); return len(n) > len(after) })
	sess.Stop()
	waitFor(t, "stop observed", func() bool { return sess.State() == StateStopped })
}

// TestMissingFilesThreshold: 25 missing files with threshold 20 ends
// the session with playback-no-frames after the 20th failure.
func TestMissingFilesThreshold(t *testing.T) {
	var stamps []int64
	for i := int64(0); i < 25; i++ {
		stamps = append(stamps, 1000+i*100)
	}
	pager := newFakePager("CAM0", stamps...)
	viewer := &fakeViewer{}
	m := NewManager(pager, &fakeBlobs{missing: true}, testConfig())

	sess, err := m.Start("CAM0", models.KeyFromMillis(0), 1.0, viewer)
	if err != nil || sess == nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "no-frames event", func() bool { return viewer.hasEvent(EventNoFrames) })
	waitFor(t, "failed state", func() bool { return sess.State() == StateFailed })

	_, events := viewer.snapshot()
	missing := 0
	for _, e := range events {
		if e == EventFrameMissing {
			missing++
		}
	}
	if missing != 20 {
		t.Errorf("expected exactly 20 frame-missing events before termination, got %d", missing)
	}
	if sess.Sent() != 0 {
		t.Errorf("no frames should have been sent, got %d", sess.Sent())
	}
	if viewer.hasEvent(EventComplete) {
		t.Error("failed session must not report playback-complete")
	}
}

// TestBadSpeed: non-positive speed is rejected.
func TestBadSpeed(t *testing.T) {
	m := NewManager(newFakePager("CAM0", 100), &fakeBlobs{}, testConfig())
	if _, err := m.Start("CAM0", models.TimeKey{}, 0, &fakeViewer{}); !errors.Is(err, ErrBadSpeed) {
		t.Fatalf("expected ErrBadSpeed, got %v", err)
	}
}

// TestViewerDisconnect: a failing send target terminates the session.
func TestViewerDisconnect(t *testing.T) {
	pager := newFakePager("CAM0", 100, 200, 300)
	viewer := &dyingViewer{}
	m := NewManager(pager, &fakeBlobs{}, testConfig())

	sess, err := m.Start("CAM0", models.KeyFromMillis(0), 1.0, viewer)
	if err != nil || sess == nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "session end", func() bool { return sess.State() == StateStopped })
	waitFor(t, "registry cleanup", func() bool { return m.Count() == 0 })
}

type dyingViewer struct{}

func (d *dyingViewer) SendFrame([]byte) error                         { return errors.New("gone") }
func (d *dyingViewer) SendEvent(string, map[string]interface{}) error { return nil }
func (d *dyingViewer) Open() bool                                     { return false }
