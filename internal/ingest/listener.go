package ingest

import (
	"errors"
	"net"
	"sync"

	"camdvr/internal/logging"
	"camdvr/internal/models"
	"camdvr/internal/wire"
)

const readBufSize = 64 * 1024

// FrameHandler receives every decoded frame, in arrival order per
// connection. It is called synchronously from the connection's decode
// loop and must not block on storage (live broadcast first, then a
// non-blocking storage enqueue).
type FrameHandler func(models.Frame)

// Listener accepts long-lived camera connections and decodes each one's
// frame stream with a private codec state. No reconnection logic: a
// dropped camera simply dials back in.
type Listener struct {
	addr    string
	handler FrameHandler

	ln net.Listener
	wg sync.WaitGroup

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

func NewListener(addr string, handler FrameHandler) *Listener {
	return &Listener{
		addr:    addr,
		handler: handler,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start binds the ingest port and launches the accept loop.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.ln = ln
	logging.Infof("[ingest] listening on %s", ln.Addr())
	l.wg.Add(1)
	go l.acceptLoop()
	return nil
}

// Addr returns the bound address (useful with ":0").
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting and tears down every camera connection.
func (l *Listener) Close() {
	l.mu.Lock()
	l.closed = true
	conns := make([]net.Conn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	if l.ln != nil {
		l.ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	l.wg.Wait()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Warnf("[ingest] accept: %v", err)
			continue
		}

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			conn.Close()
			return
		}
		l.conns[conn] = struct{}{}
		l.mu.Unlock()

		l.wg.Add(1)
		go l.serve(conn)
	}
}

func (l *Listener) serve(conn net.Conn) {
	defer l.wg.Done()
	defer func() {
		conn.Close()
		l.mu.Lock()
		delete(l.conns, conn)
		l.mu.Unlock()
	}()

	remote := conn.RemoteAddr()
	logging.Infof("[ingest] camera connected: %s", remote)

	dec := wire.NewDecoder()
	buf := make([]byte, readBufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, f := range dec.Feed(buf[:n]) {
				l.handler(f)
			}
		}
		if err != nil {
			logging.Infof("[ingest] camera disconnected: %s (%v)", remote, err)
			return
		}
	}
}
