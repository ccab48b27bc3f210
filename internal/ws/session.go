// Package ws serves the chat and notification websockets.
package ws

import (
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Gopher0727/TeamLoom/config"
	"github.com/Gopher0727/TeamLoom/internal/protocol"
)

// State is the lifecycle stage of a session.
type State int32

const (
	StateConnecting State = iota
	StateAuthorized
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorized:
		return "authorized"
	case StateActive:
		return "active"
	default:
		return "closed"
	}
}

// Options tunes socket buffers and keepalive.
type Options struct {
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	AllowedOrigins  []string
}

func OptionsFrom(cfg config.WebsocketConfig, origins []string) Options {
	return Options{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		SendBufferSize:  cfg.SendBufferSize,
		MaxMessageSize:  cfg.MaxMessageSize,
		WriteWait:       cfg.WriteWait,
		PongWait:        cfg.PongWait,
		AllowedOrigins:  origins,
	}
}

func (o Options) withDefaults() Options {
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 256
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	return o
}

func (o Options) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  o.ReadBufferSize,
		WriteBufferSize: o.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(o.AllowedOrigins) == 0 {
				return true
			}
			return slices.Contains(o.AllowedOrigins, "*") || slices.Contains(o.AllowedOrigins, origin)
		},
	}
}

// session is one live connection. It is the fanout.Subscriber handed to the
// router; the write pump is the only goroutine writing to conn.
type session struct {
	id     string
	userID uint
	name   string
	conn   *websocket.Conn
	opts   Options
	log    *zap.Logger

	send      chan []byte
	quit      chan struct{}
	quitOnce  sync.Once
	pumpDone  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
}

func newSession(conn *websocket.Conn, userID uint, name string, opts Options, log *zap.Logger) *session {
	id := uuid.NewString()
	return &session{
		id:       id,
		userID:   userID,
		name:     name,
		conn:     conn,
		opts:     opts,
		log:      log.With(zap.String("session_id", id), zap.Uint("user_id", userID)),
		send:     make(chan []byte, opts.SendBufferSize),
		quit:     make(chan struct{}),
		pumpDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *session) SessionID() string {
	return s.id
}

// Deliver queues payload without blocking. A full buffer drops the payload.
func (s *session) Deliver(payload []byte) bool {
	select {
	case <-s.done:
		return false
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) setState(st State) {
	s.state.Store(int32(st))
}

// reply sends an event to this session only.
func (s *session) reply(ev protocol.Outbound) {
	payload, err := protocol.Encode(ev)
	if err != nil {
		s.log.Error("encode reply", zap.String("type", ev.Type()), zap.Error(err))
		return
	}
	if !s.Deliver(payload) {
		s.log.Debug("reply dropped", zap.String("type", ev.Type()))
	}
}

func (s *session) fail(message string) {
	s.reply(protocol.ErrorEvent{Message: message})
}

// shutdown lets the write pump flush what is queued and send a close frame,
// then tears down the socket. The pump gets at most WriteWait to finish.
func (s *session) shutdown() {
	s.quitOnce.Do(func() { close(s.quit) })
	timer := time.NewTimer(s.opts.WriteWait)
	defer timer.Stop()
	select {
	case <-s.pumpDone:
	case <-timer.C:
	}
	s.close()
}

// close stops the write pump and tears down the socket. Safe to call twice.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		close(s.done)
		_ = s.conn.Close()
	})
}

// readLoop feeds every text frame to handle until the peer goes away or
// handle returns false.
func (s *session) readLoop(handle func(data []byte) bool) {
	s.conn.SetReadLimit(s.opts.MaxMessageSize)
	if s.opts.PongWait > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		})
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.log.Info("socket read failed", zap.Error(err))
			}
			return
		}
		if !handle(data) {
			return
		}
	}
}

// writePump drains the send buffer onto the socket, one frame per event.
// On quit it flushes the buffer and ends with a normal close frame.
func (s *session) writePump() {
	defer close(s.pumpDone)
	var ping <-chan time.Time
	if s.opts.PongWait > 0 {
		ticker := time.NewTicker(s.opts.PongWait * 9 / 10)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer s.close()

	for {
		select {
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.Debug("socket write failed", zap.Error(err))
				return
			}
		case <-ping:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.quit:
			s.flush()
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-s.done:
			return
		}
	}
}

func (s *session) flush() {
	for {
		select {
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			return
		}
	}
}
