package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/voicelink/internal/adapters/rtc"
	"github.com/dkeye/voicelink/internal/adapters/signal"
	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

// mediaServer is a minimal signaling server that answers offers with a real
// pion peer connection.
type mediaServer struct {
	t        *testing.T
	srv      *httptest.Server
	down     atomic.Bool
	joinErr  string
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*serverConn
	joins int
}

type serverConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *serverConn) write(m signal.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(m)
}

func newMediaServer(t *testing.T) *mediaServer {
	s := &mediaServer{t: t, upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *mediaServer) addr() string { return "ws" + strings.TrimPrefix(s.srv.URL, "http") }

func (s *mediaServer) serve(w http.ResponseWriter, r *http.Request) {
	if s.down.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if r.Header.Get("Authorization") != "Bearer tok" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sc := &serverConn{ws: ws}
	s.mu.Lock()
	s.conns = append(s.conns, sc)
	s.mu.Unlock()
	defer ws.Close()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return
	}
	defer pc.Close()

	for {
		var m signal.Message
		if err := ws.ReadJSON(&m); err != nil {
			return
		}
		reply := signal.Message{ID: m.ID}
		switch m.Type {
		case signal.TypeJoin:
			s.mu.Lock()
			s.joins++
			s.mu.Unlock()
			if s.joinErr != "" {
				reply.Type, reply.Code = signal.TypeError, s.joinErr
				break
			}
			reply.Type = signal.TypeJoined
			reply.Identity = m.Identity
			reply.Participants = []signal.ParticipantInfo{{Identity: "alice", Tracks: []signal.TrackInfo{{ID: "a-mic", Kind: "audio"}}}}
		case signal.TypeOffer:
			if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: m.SDP}); err != nil {
				reply.Type, reply.Code = signal.TypeError, signal.CodeBadRequest
				break
			}
			answer, err := pc.CreateAnswer(nil)
			if err != nil {
				reply.Type, reply.Code = signal.TypeError, signal.CodeBadRequest
				break
			}
			gather := webrtc.GatheringCompletePromise(pc)
			_ = pc.SetLocalDescription(answer)
			<-gather
			reply.Type = signal.TypeAnswer
			reply.SDP = pc.LocalDescription().SDP
		case signal.TypePublish, signal.TypeUnpublish:
			reply.Type = signal.TypeAck
		case signal.TypeLeave:
			return
		default:
			continue
		}
		if err := sc.write(reply); err != nil {
			return
		}
	}
}

func (s *mediaServer) last() *serverConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[len(s.conns)-1]
}

func (s *mediaServer) joinCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joins
}

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	f, err := rtc.NewAPIFactory(rtc.Config{LogLevel: "error"})
	require.NoError(t, err)
	return NewTransport(f, Options{
		Room:           "r1",
		Identity:       "u1",
		ResumeAttempts: 2,
		ResumeDelay:    10 * time.Millisecond,
		JoinTimeout:    5 * time.Second,
	})
}

func nextEvent(t *testing.T, c core.Conn) core.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "events closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
	}
	return core.Event{}
}

// nextEventOf skips events of other kinds, e.g. remote track churn.
func nextEventOf(t *testing.T, c core.Conn, kind core.EventKind) core.Event {
	t.Helper()
	for {
		if ev := nextEvent(t, c); ev.Kind == kind {
			return ev
		}
	}
}

func TestConnectJoinsAndNegotiates(t *testing.T) {
	s := newMediaServer(t)
	conn, err := newTestTransport(t).Connect(context.Background(), s.addr(), "tok")
	require.NoError(t, err)

	require.Equal(t, domain.Identity("u1"), conn.LocalIdentity())
	require.Len(t, conn.Participants(), 1)
	require.Equal(t, domain.Identity("alice"), conn.Participants()[0].Identity)
	require.Equal(t, domain.TrackAudio, conn.Participants()[0].Tracks[0].Kind)

	require.NoError(t, s.last().write(signal.Message{Type: signal.TypeParticipantJoined, Participant: &signal.ParticipantInfo{Identity: "bob", DisplayName: "Bob"}}))
	ev := nextEventOf(t, conn, core.EventParticipantConnected)
	require.Equal(t, domain.Identity("bob"), ev.Participant.Identity)

	require.NoError(t, s.last().write(signal.Message{Type: signal.TypeTrackMuted, Identity: "bob", Track: &signal.TrackInfo{ID: "b-mic", Kind: "audio"}, Muted: true}))
	ev = nextEventOf(t, conn, core.EventTrackMuted)
	require.True(t, ev.Muted)
	require.Equal(t, domain.Identity("bob"), ev.Identity)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		_, ok := <-conn.Events()
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConnectRejectedToken(t *testing.T) {
	s := newMediaServer(t)
	_, err := newTestTransport(t).Connect(context.Background(), s.addr(), "expired")
	require.ErrorIs(t, err, domain.ErrAuth)
}

func TestJoinRoomFull(t *testing.T) {
	s := newMediaServer(t)
	s.joinErr = signal.CodeRoomFull
	_, err := newTestTransport(t).Connect(context.Background(), s.addr(), "tok")
	require.ErrorIs(t, err, domain.ErrProtocol)
}

func TestServerErrorIsTerminalEvent(t *testing.T) {
	s := newMediaServer(t)
	conn, err := newTestTransport(t).Connect(context.Background(), s.addr(), "tok")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, s.last().write(signal.Message{Type: signal.TypeError, Code: signal.CodeKicked}))
	ev := nextEventOf(t, conn, core.EventError)
	require.ErrorIs(t, ev.Err, domain.ErrProtocol)
}

func TestResumeAfterSignalDrop(t *testing.T) {
	s := newMediaServer(t)
	conn, err := newTestTransport(t).Connect(context.Background(), s.addr(), "tok")
	require.NoError(t, err)
	defer conn.Close()

	_ = s.last().ws.Close()

	nextEventOf(t, conn, core.EventReconnecting)
	ev := nextEventOf(t, conn, core.EventConnected)
	require.Len(t, ev.Participants, 1)
	require.Equal(t, 2, s.joinCount())
}

func TestResumeGivesUp(t *testing.T) {
	s := newMediaServer(t)
	conn, err := newTestTransport(t).Connect(context.Background(), s.addr(), "tok")
	require.NoError(t, err)
	defer conn.Close()

	s.down.Store(true)
	_ = s.last().ws.Close()

	nextEventOf(t, conn, core.EventReconnecting)
	nextEventOf(t, conn, core.EventDisconnected)
}

type localTrack struct {
	id    string
	media *webrtc.TrackLocalStaticSample
}

func (l localTrack) ID() string             { return l.id }
func (l localTrack) Kind() domain.TrackKind { return domain.TrackAudio }

func (l localTrack) Media() webrtc.TrackLocal {
	if l.media == nil {
		return nil
	}
	return l.media
}

func TestPublishAndUnpublish(t *testing.T) {
	s := newMediaServer(t)
	conn, err := newTestTransport(t).Connect(context.Background(), s.addr(), "tok")
	require.NoError(t, err)
	defer conn.Close()

	media, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "mic-1", "u1")
	require.NoError(t, err)
	track := localTrack{id: "mic-1", media: media}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Publish(ctx, track))
	require.NoError(t, conn.Unpublish(ctx, track))

	require.NoError(t, conn.Close())
	require.ErrorIs(t, conn.Publish(ctx, track), domain.ErrNetwork)
}

func TestPublishWithoutMedia(t *testing.T) {
	s := newMediaServer(t)
	conn, err := newTestTransport(t).Connect(context.Background(), s.addr(), "tok")
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Publish(context.Background(), localTrack{id: "mic-1"})
	require.ErrorIs(t, err, domain.ErrProtocol)
}
