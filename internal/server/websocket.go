package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kataras/iris/v12"

	"camdvr/internal/logging"
	"camdvr/internal/models"
	"camdvr/internal/playback"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	frameWriteTimeout = 100 * time.Millisecond
	eventWriteTimeout = time.Second
)

var errViewerClosed = errors.New("viewer connection closed")

// controlMessage is an inbound viewer command.
type controlMessage struct {
	Action    string    `json:"action"`
	CamNo     string    `json:"camNo"`
	Speed     float64   `json:"speed"`
	StartTime startTime `json:"startTime"`
}

type startTime struct {
	Year   int `json:"year"`
	Month  int `json:"month"`
	Day    int `json:"day"`
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Second int `json:"second"`
}

func (t startTime) key() models.TimeKey {
	return models.TimeKey{
		Year: t.Year, Month: t.Month, Day: t.Day,
		Hour: t.Hour, Minute: t.Minute, Second: t.Second,
	}
}

// viewerConn is one viewer websocket. It is a live subscriber for its
// whole lifetime and owns at most one playback session; starting a
// second playback preempts the first.
type viewerConn struct {
	id   string
	ws   *websocket.Conn
	core *Core

	mu   sync.Mutex // serializes writes and guards open
	open bool

	sessMu  sync.Mutex
	session *playback.Session
}

func (v *viewerConn) ID() string { return v.id }

func (v *viewerConn) Ready() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.open
}

func (v *viewerConn) Open() bool { return v.Ready() }

// SendFrame pushes one binary frame message with a short write deadline
// so a stalled viewer cannot hold up the sender.
func (v *viewerConn) SendFrame(msg []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.open {
		return errViewerClosed
	}
	v.ws.SetWriteDeadline(time.Now().Add(frameWriteTimeout))
	if err := v.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		v.open = false
		return err
	}
	return nil
}

// SendEvent pushes one JSON event on the control channel.
func (v *viewerConn) SendEvent(event string, fields map[string]interface{}) error {
	payload := map[string]interface{}{"event": event}
	for k, val := range fields {
		payload[k] = val
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.open {
		return errViewerClosed
	}
	v.ws.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
	if err := v.ws.WriteJSON(payload); err != nil {
		v.open = false
		return err
	}
	return nil
}

func (v *viewerConn) setSession(s *playback.Session) {
	v.sessMu.Lock()
	v.session = s
	v.sessMu.Unlock()
}

func (v *viewerConn) getSession() *playback.Session {
	v.sessMu.Lock()
	defer v.sessMu.Unlock()
	return v.session
}

func (v *viewerConn) stopOwnSession() {
	v.sessMu.Lock()
	s := v.session
	v.session = nil
	v.sessMu.Unlock()
	if s != nil {
		s.Stop()
	}
}

// HandleViewerSocket upgrades a viewer connection and runs its control
// loop until disconnect.
func (h *Handlers) HandleViewerSocket(ctx iris.Context) {
	ws, err := upgrader.Upgrade(ctx.ResponseWriter(), ctx.Request(), nil)
	if err != nil {
		logging.Warnf("[ws] upgrade failed: %v", err)
		return
	}

	v := &viewerConn{
		id:   uuid.NewString()[:8],
		ws:   ws,
		core: h.core,
		open: true,
	}
	logging.Infof("[ws] viewer %s connected", v.id)
	h.core.Live.Subscribe(v)

	defer func() {
		v.stopOwnSession()
		h.core.Live.Unsubscribe(v.id)
		v.mu.Lock()
		v.open = false
		v.mu.Unlock()
		ws.Close()
		logging.Infof("[ws] viewer %s disconnected", v.id)
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warnf("[ws] viewer %s read: %v", v.id, err)
			}
			return
		}

		var msg controlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			v.SendEvent(playback.EventError, map[string]interface{}{"message": "invalid JSON"})
			continue
		}
		h.dispatch(v, msg)
	}
}

func (h *Handlers) dispatch(v *viewerConn, msg controlMessage) {
	switch msg.Action {
	case "playback-start":
		if msg.CamNo == "" {
			v.SendEvent(playback.EventError, map[string]interface{}{"message": "camNo required"})
			return
		}
		speed := msg.Speed
		if speed == 0 {
			speed = 1.0
		}
		v.stopOwnSession()
		sess, err := h.core.Sessions.Start(msg.CamNo, msg.StartTime.key(), speed, v)
		if err != nil {
			v.SendEvent(playback.EventError, map[string]interface{}{"message": err.Error()})
			return
		}
		// sess is nil when the index had no data; the manager already
		// told the viewer.
		v.setSession(sess)

	case "playback-stop":
		v.stopOwnSession()

	case "playback-pause":
		if s := v.getSession(); s != nil {
			s.Pause()
		}

	case "playback-resume":
		if s := v.getSession(); s != nil {
			s.Resume()
		}

	default:
		v.SendEvent(playback.EventError, map[string]interface{}{"message": "unknown action: " + msg.Action})
	}
}
