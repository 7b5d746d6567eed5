package http

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/voicelink/internal/app/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

const (
	snapshotBuffer = 64
	writeWait      = 5 * time.Second
)

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// SnapshotStream pushes session snapshots to one UI client as JSON text frames.
// A client that cannot keep up is disconnected.
type SnapshotStream struct {
	id         string
	conn       WSConn
	pingPeriod time.Duration
	send       chan []byte
	done       chan struct{}
	once       sync.Once
}

func NewSnapshotStream(id string, conn WSConn, pingPeriod time.Duration) *SnapshotStream {
	return &SnapshotStream{
		id:         id,
		conn:       conn,
		pingPeriod: pingPeriod,
		send:       make(chan []byte, snapshotBuffer),
		done:       make(chan struct{}),
	}
}

func (s *SnapshotStream) Done() <-chan struct{} { return s.done }

// TrySend queues snap without blocking.
func (s *SnapshotStream) TrySend(snap session.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case s.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (s *SnapshotStream) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Run pumps snapshots until the client goes away or Close is called.
// Inbound frames are read and discarded so control frames are processed.
func (s *SnapshotStream) Run() {
	go func() {
		defer s.Close()
		for {
			if _, _, err := s.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()
	defer s.Close()
	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "adapters.http").Str("client", s.id).Msg("snapshot write")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
