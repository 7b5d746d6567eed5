package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/voicelink/internal/app"
	"github.com/dkeye/voicelink/internal/app/tracks"
	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/pion/webrtc/v4"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	err   error
	cred  domain.Credential
}

func (f *fakeFetcher) Fetch(_ context.Context, req domain.CredentialRequest) (domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.Credential{}, f.err
	}
	cred := f.cred
	cred.Room = req.Room
	return cred, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func validCredential() domain.Credential {
	return domain.Credential{
		Token:         " \"tok-1\" ",
		ServerAddress: "ws://media.local/rtc",
		Capabilities:  domain.Capabilities{CanPublish: true, CanSubscribe: true},
	}
}

type fakeConn struct {
	local   domain.Identity
	remotes []domain.ParticipantInfo
	events  chan core.Event
	// When set, Publish signals entered and waits for release.
	entered chan struct{}
	release chan struct{}

	mu          sync.Mutex
	published   []domain.TrackKind
	unpublished []domain.TrackKind
	closed      int
	closeOnce   sync.Once
}

func newFakeConn(local domain.Identity, remotes ...domain.ParticipantInfo) *fakeConn {
	return &fakeConn{local: local, remotes: remotes, events: make(chan core.Event, 16)}
}

func (c *fakeConn) LocalIdentity() domain.Identity         { return c.local }
func (c *fakeConn) Participants() []domain.ParticipantInfo { return c.remotes }
func (c *fakeConn) Events() <-chan core.Event              { return c.events }
func (c *fakeConn) Publish(_ context.Context, t core.LocalTrack) error {
	if c.release != nil {
		c.entered <- struct{}{}
		<-c.release
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, t.Kind())
	return nil
}

func (c *fakeConn) Unpublish(_ context.Context, t core.LocalTrack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unpublished = append(c.unpublished, t.Kind())
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.events) })
	return nil
}

func (c *fakeConn) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Published() []domain.TrackKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.TrackKind(nil), c.published...)
}

func (c *fakeConn) Unpublished() []domain.TrackKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.TrackKind(nil), c.unpublished...)
}

type fakeTransport struct {
	mu      sync.Mutex
	calls   int
	delay   time.Duration
	err     error
	newConn func() *fakeConn
	conns   []*fakeConn
	tokens  []string
}

func (t *fakeTransport) Connect(_ context.Context, _ string, token string) (core.Conn, error) {
	t.mu.Lock()
	t.calls++
	t.tokens = append(t.tokens, token)
	delay, err := t.delay, t.err
	t.mu.Unlock()

	// The delay ignores ctx on purpose: a slow server answers late regardless.
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	conn := t.newConn()
	t.mu.Lock()
	t.conns = append(t.conns, conn)
	t.mu.Unlock()
	return conn, nil
}

func (t *fakeTransport) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func (t *fakeTransport) Conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.conns) {
		return nil
	}
	return t.conns[i]
}

type fakeCapture struct {
	id     string
	kind   domain.TrackKind
	mu     sync.Mutex
	closed bool
}

func (c *fakeCapture) ID() string               { return c.id }
func (c *fakeCapture) Kind() domain.TrackKind   { return c.kind }
func (c *fakeCapture) Media() webrtc.TrackLocal { return nil }
func (c *fakeCapture) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeCapture) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeSource struct {
	mu       sync.Mutex
	n        int
	err      error
	onOpen   func(kind domain.TrackKind)
	captures []*fakeCapture
}

func (s *fakeSource) Open(_ context.Context, kind domain.TrackKind, _ core.Constraints) (core.Capture, error) {
	if s.onOpen != nil {
		s.onOpen(kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.n++
	c := &fakeCapture{id: fmt.Sprintf("%s-%d", kind, s.n), kind: kind}
	s.captures = append(s.captures, c)
	return c, nil
}

func (s *fakeSource) AllClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.captures {
		if !c.Closed() {
			return false
		}
	}
	return true
}

type harness struct {
	fetcher   *fakeFetcher
	transport *fakeTransport
	source    *fakeSource
	registry  *app.Registry
	tracks    *tracks.Manager
	conn      *Connection

	mu        sync.Mutex
	snapshots []Snapshot
}

func newHarness(opts Options, remotes ...domain.ParticipantInfo) *harness {
	h := &harness{
		fetcher: &fakeFetcher{cred: validCredential()},
		source:  &fakeSource{},
	}
	h.transport = &fakeTransport{newConn: func() *fakeConn { return newFakeConn(opts.Identity, remotes...) }}
	h.registry = app.NewRegistry()
	h.tracks = tracks.NewManager(h.source, tracks.DefaultOptions())
	if opts.After == nil {
		opts.After = func(time.Duration) <-chan time.Time { return immediate() }
	}
	h.conn = NewConnection(h.fetcher, h.transport, h.tracks, h.registry, opts)
	h.conn.Subscribe(func(s Snapshot) {
		h.mu.Lock()
		h.snapshots = append(h.snapshots, s)
		h.mu.Unlock()
	})
	return h
}

func (h *harness) statuses() []domain.ConnectionStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.ConnectionStatus
	for _, s := range h.snapshots {
		if len(out) == 0 || out[len(out)-1] != s.Status {
			out = append(out, s.Status)
		}
	}
	return out
}

func (h *harness) everRegistered() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.snapshots {
		if len(s.Participants) > 0 {
			return true
		}
	}
	return false
}

func immediate() <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func publisherOptions() Options {
	return Options{
		Room:         "r1",
		Identity:     "u1",
		Role:         domain.RoleHost,
		Capabilities: domain.Capabilities{CanPublish: true, CanSubscribe: true},
		AutoPublish:  true,
	}
}
