package live

import (
	"sync"

	"camdvr/internal/logging"
	"camdvr/internal/wire"
)

// Subscriber is a live viewer connection. SendFrame must be bounded or
// non-blocking so one stalled viewer cannot stall ingest; the websocket
// implementation uses a short write deadline.
type Subscriber interface {
	ID() string
	Ready() bool
	SendFrame(msg []byte) error
}

// Broadcaster fans freshly ingested frames out to the current live
// viewers. It holds no frame state of its own.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]Subscriber
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]Subscriber)}
}

func (b *Broadcaster) Subscribe(s Subscriber) {
	b.mu.Lock()
	b.subs[s.ID()] = s
	n := len(b.subs)
	b.mu.Unlock()
	logging.Infof("[live] viewer %s subscribed (%d total)", s.ID(), n)
}

func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	n := len(b.subs)
	b.mu.Unlock()
	logging.Infof("[live] viewer %s unsubscribed (%d total)", id, n)
}

func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Broadcast sends one frame to every open subscriber. With no viewers it
// returns before encoding; with viewers the message is encoded once and
// shared. Subscribers that are not ready are skipped, and a failed send
// is the subscriber's problem, not the camera's.
func (b *Broadcaster) Broadcast(camNo string, timestamp int64, payload []byte) {
	b.mu.RLock()
	if len(b.subs) == 0 {
		b.mu.RUnlock()
		return
	}
	targets := make([]Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	msg, err := wire.Encode(camNo, timestamp, wire.TypeLive, payload)
	if err != nil {
		logging.Errorf("[live] encode failed for cam %s: %v", camNo, err)
		return
	}
	for _, s := range targets {
		if !s.Ready() {
			continue
		}
		if err := s.SendFrame(msg); err != nil {
			logging.Debugf("[live] send to %s failed: %v", s.ID(), err)
		}
	}
}
