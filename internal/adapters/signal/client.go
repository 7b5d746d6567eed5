// Package signal is the websocket client for the media server's signaling channel.
package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/voicelink/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultReadLimit  = 64 * 1024
	defaultSendBuffer = 32
)

type Options struct {
	Codec      Codec
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
	ReadLimit  int64
	Dialer     *websocket.Dialer
}

func (o Options) withDefaults() Options {
	if o.Codec == nil {
		o.Codec = JSONCodec{}
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = defaultReadLimit
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	return o
}

// Client owns one websocket connection. Replies to requests are routed by ID,
// everything else arrives on Incoming in the order it was read.
type Client struct {
	conn  *websocket.Conn
	opts  Options
	send  chan []byte
	inbox chan Message
	done  chan struct{}

	mu      sync.Mutex
	pending map[string]chan Message
	err     error
	closed  bool
}

// Dial opens the signaling websocket, authenticating with token as a bearer credential.
func Dial(ctx context.Context, serverAddress, token string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	u, err := url.Parse(serverAddress)
	if err != nil {
		return nil, domain.NewError("signal dial", domain.ErrProtocol, fmt.Errorf("invalid server address: %w", err))
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := opts.Dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, handshakeError(err, resp)
	}

	c := &Client{
		conn:    conn,
		opts:    opts,
		send:    make(chan []byte, defaultSendBuffer),
		inbox:   make(chan Message, defaultSendBuffer),
		done:    make(chan struct{}),
		pending: make(map[string]chan Message),
	}
	conn.SetReadLimit(opts.ReadLimit)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	go c.readPump()
	go c.writePump()

	log.Info().Str("module", "signal").Str("addr", u.Host).Str("codec", opts.Codec.Name()).Msg("signal connected")
	return c, nil
}

// Incoming carries server-initiated messages. Watch Done for the end of the connection.
func (c *Client) Incoming() <-chan Message { return c.inbox }

// Done is closed when the connection ends for any reason.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err is the reason the connection ended, nil while it is open or after Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send queues m without waiting for a reply.
func (c *Client) Send(ctx context.Context, m Message) error {
	data, err := c.opts.Codec.Marshal(&m)
	if err != nil {
		return domain.NewError("signal send", domain.ErrProtocol, err)
	}
	select {
	case <-c.done:
		return domain.NewError("signal send", domain.ErrNetwork, ErrClosed)
	case <-ctx.Done():
		return ctx.Err()
	case c.send <- data:
		return nil
	}
}

// Request sends m with a fresh ID and waits for the reply carrying the same ID.
// An error reply is returned as a classified error.
func (c *Client) Request(ctx context.Context, m Message) (Message, error) {
	m.ID = uuid.NewString()
	reply := make(chan Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Message{}, domain.NewError(m.Type, domain.ErrNetwork, ErrClosed)
	}
	c.pending[m.ID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, m.ID)
		c.mu.Unlock()
	}()

	if err := c.Send(ctx, m); err != nil {
		return Message{}, err
	}
	select {
	case r := <-reply:
		if r.Type == TypeError {
			return r, ServerError(m.Type, r)
		}
		return r, nil
	case <-c.done:
		return Message{}, domain.NewError(m.Type, domain.ErrNetwork, ErrClosed)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Message{}, domain.NewError(m.Type, domain.ErrNetwork, ctx.Err())
		}
		return Message{}, ctx.Err()
	}
}

func (c *Client) readPump() {
	defer c.shutdown(nil)

	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.shutdown(domain.NewError("signal read", domain.ErrNetwork, ErrClosed))
			} else {
				c.shutdown(domain.NewError("signal read", domain.ErrNetwork, err))
			}
			return
		}
		var m Message
		if err := c.opts.Codec.Unmarshal(data, &m); err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("bad frame")
			continue
		}
		if m.Type == TypePong {
			continue
		}
		if m.ID != "" && c.deliverReply(m) {
			continue
		}
		select {
		case c.inbox <- m:
		case <-c.done:
			return
		}
	}
}

func (c *Client) deliverReply(m Message) bool {
	c.mu.Lock()
	ch, ok := c.pending[m.ID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- m:
	default:
	}
	return true
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(c.opts.Codec.FrameType(), data); err != nil {
				c.shutdown(domain.NewError("signal write", domain.ErrNetwork, err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(domain.NewError("signal ping", domain.ErrNetwork, err))
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			c.flush()
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes what is still queued, e.g. a leave sent right before Close.
func (c *Client) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.conn.WriteMessage(c.opts.Codec.FrameType(), data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// shutdown records the first cause and closes Done exactly once.
func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = cause
	c.mu.Unlock()

	close(c.done)
	if cause != nil {
		log.Warn().Err(cause).Str("module", "signal").Msg("signal connection lost")
	}
}

// Close ends the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}
