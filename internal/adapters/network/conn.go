package network

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/voicelink/internal/adapters/rtc"
	"github.com/dkeye/voicelink/internal/adapters/signal"
	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	fcore "github.com/frostbyte73/core"
	"github.com/gammazero/deque"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var errPeerFailed = errors.New("peer connection failed")

// Conn is one joined room. Events are queued without bound and handed out in
// emission order by a single goroutine; Events is closed after Close.
type Conn struct {
	t       *Transport
	addr    string
	token   string
	local   domain.Identity
	initial []domain.ParticipantInfo
	peer    *rtc.Peer

	mu          sync.Mutex
	sig         *signal.Client
	queue       deque.Deque[core.Event]
	interrupted bool

	negotiate sync.Mutex
	events    chan core.Event
	wake      chan struct{}
	closed    fcore.Fuse
	closeOnce sync.Once
}

func newConn(t *Transport, addr, token string, sig *signal.Client, peer *rtc.Peer, joined signal.Message) *Conn {
	local := domain.Identity(joined.Identity)
	if local == "" {
		local = t.opts.Identity
	}
	c := &Conn{
		t:       t,
		addr:    addr,
		token:   token,
		local:   local,
		initial: participantInfos(joined.Participants),
		peer:    peer,
		sig:     sig,
		events:  make(chan core.Event),
		wake:    make(chan struct{}, 1),
	}
	go c.deliver()
	return c
}

func (c *Conn) LocalIdentity() domain.Identity         { return c.local }
func (c *Conn) Participants() []domain.ParticipantInfo { return c.initial }
func (c *Conn) Events() <-chan core.Event              { return c.events }

func (c *Conn) start(ctx context.Context) error {
	c.peer.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		cand := &signal.Candidate{Candidate: ci.Candidate, SDPMid: ci.SDPMid, SDPMLineIndex: ci.SDPMLineIndex}
		if err := c.signal().Send(context.Background(), signal.Message{Type: signal.TypeCandidate, Candidate: cand}); err != nil {
			log.Debug().Err(err).Str("module", "network").Msg("send candidate")
		}
	})
	c.peer.OnTrack(c.onTrack)
	c.peer.OnStateChange(c.onPeerState)
	if err := c.peer.Start(); err != nil {
		return domain.NewError("connect", domain.ErrNetwork, err)
	}
	if err := c.renegotiate(ctx); err != nil {
		return err
	}
	go c.signalLoop(c.signal())
	return nil
}

func (c *Conn) signal() *signal.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sig
}

func (c *Conn) emit(ev core.Event) {
	if c.closed.IsBroken() {
		return
	}
	c.mu.Lock()
	c.queue.PushBack(ev)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Conn) deliver() {
	defer close(c.events)
	for {
		c.mu.Lock()
		if c.queue.Len() == 0 {
			c.mu.Unlock()
			select {
			case <-c.wake:
				continue
			case <-c.closed.Watch():
				return
			}
		}
		ev := c.queue.PopFront()
		c.mu.Unlock()

		select {
		case c.events <- ev:
		case <-c.closed.Watch():
			return
		}
	}
}

// setInterrupted flips the interruption flag and reports whether it changed.
func (c *Conn) setInterrupted(v bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interrupted == v {
		return false
	}
	c.interrupted = v
	return true
}

// renegotiate sends a fresh offer and applies the server's answer.
func (c *Conn) renegotiate(ctx context.Context) error {
	c.negotiate.Lock()
	defer c.negotiate.Unlock()

	offer, err := c.peer.CreateOffer()
	if err != nil {
		return domain.NewError("negotiate", domain.ErrNetwork, err)
	}
	reply, err := c.signal().Request(ctx, signal.Message{Type: signal.TypeOffer, SDP: offer.SDP})
	if err != nil {
		return err
	}
	if err := c.peer.ApplyAnswer(reply.SDP); err != nil {
		return domain.NewError("negotiate", domain.ErrProtocol, err)
	}
	return nil
}

func (c *Conn) signalLoop(sig *signal.Client) {
	for {
		select {
		case m := <-sig.Incoming():
			c.handle(sig, m)
		case <-sig.Done():
			if c.closed.IsBroken() {
				return
			}
			c.resume(sig.Err())
			return
		case <-c.closed.Watch():
			return
		}
	}
}

func (c *Conn) handle(sig *signal.Client, m signal.Message) {
	switch m.Type {
	case signal.TypeParticipantJoined:
		if m.Participant != nil {
			c.emit(core.Event{Kind: core.EventParticipantConnected, Participant: participantInfo(*m.Participant)})
		}
	case signal.TypeParticipantLeft:
		c.emit(core.Event{Kind: core.EventParticipantDisconnected, Identity: messageIdentity(m)})
	case signal.TypeParticipantUpdated:
		if m.Participant != nil {
			info := participantInfo(*m.Participant)
			c.emit(core.Event{Kind: core.EventParticipantUpdated, Identity: info.Identity, Participant: info})
		}
	case signal.TypeTrackPublished:
		log.Debug().Str("module", "network").Str("identity", m.Identity).Msg("remote track announced")
	case signal.TypeTrackUnpublished:
		if m.Track != nil {
			c.emit(core.Event{Kind: core.EventTrackUnsubscribed, Identity: messageIdentity(m), Track: trackRef(*m.Track)})
		}
	case signal.TypeTrackMuted:
		if m.Track != nil {
			c.emit(core.Event{Kind: core.EventTrackMuted, Identity: messageIdentity(m), Track: trackRef(*m.Track), Muted: m.Muted})
		}
	case signal.TypeOffer:
		c.answer(sig, m.SDP)
	case signal.TypeCandidate:
		if m.Candidate != nil {
			ci := webrtc.ICECandidateInit{Candidate: m.Candidate.Candidate, SDPMid: m.Candidate.SDPMid, SDPMLineIndex: m.Candidate.SDPMLineIndex}
			if err := c.peer.AddICECandidate(ci); err != nil {
				log.Warn().Err(err).Str("module", "network").Msg("add ice candidate")
			}
		}
	case signal.TypeError:
		c.emit(core.Event{Kind: core.EventError, Err: signal.ServerError("session", m)})
	default:
		log.Warn().Str("module", "network").Str("type", m.Type).Msg("unknown signal")
	}
}

func messageIdentity(m signal.Message) domain.Identity {
	if m.Identity != "" {
		return domain.Identity(m.Identity)
	}
	if m.Participant != nil {
		return domain.Identity(m.Participant.Identity)
	}
	return ""
}

// answer handles a server-initiated renegotiation.
func (c *Conn) answer(sig *signal.Client, sdp string) {
	c.negotiate.Lock()
	defer c.negotiate.Unlock()
	ans, err := c.peer.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
	if err != nil {
		log.Error().Err(err).Str("module", "network").Msg("apply server offer")
		return
	}
	if err := sig.Send(context.Background(), signal.Message{Type: signal.TypeAnswer, SDP: ans.SDP}); err != nil {
		log.Warn().Err(err).Str("module", "network").Msg("send answer")
	}
}

// resume redials signaling after it dropped. The media connection is kept and
// renegotiated over the new channel.
func (c *Conn) resume(cause error) {
	log.Warn().Err(cause).Str("module", "network").Msg("signaling lost, resuming")
	if c.setInterrupted(true) {
		c.emit(core.Event{Kind: core.EventReconnecting, Err: cause})
	}

	for attempt := 1; attempt <= c.t.opts.ResumeAttempts; attempt++ {
		select {
		case <-c.closed.Watch():
			return
		case <-time.After(c.t.opts.ResumeDelay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.t.opts.JoinTimeout)
		sig, joined, err := c.t.join(ctx, c.addr, c.token)
		if err == nil && c.closed.IsBroken() {
			cancel()
			_ = sig.Close()
			return
		}
		if err == nil {
			c.mu.Lock()
			old := c.sig
			c.sig = sig
			c.mu.Unlock()
			_ = old.Close()
			go c.signalLoop(sig)
			err = c.renegotiate(ctx)
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("module", "network").Msg("renegotiate after resume")
			}
			c.setInterrupted(false)
			c.emit(core.Event{Kind: core.EventConnected, Participants: participantInfos(joined.Participants)})
			log.Info().Str("module", "network").Int("attempt", attempt).Msg("signaling resumed")
			return
		}
		cancel()

		if domain.Kind(err) != domain.ErrNetwork {
			c.emit(core.Event{Kind: core.EventError, Err: err})
			return
		}
		log.Warn().Err(err).Str("module", "network").Int("attempt", attempt).Msg("resume failed")
	}
	c.emit(core.Event{Kind: core.EventDisconnected, Err: cause})
}

func (c *Conn) onPeerState(s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateDisconnected:
		if c.setInterrupted(true) {
			c.emit(core.Event{Kind: core.EventReconnecting})
		}
	case webrtc.PeerConnectionStateConnected:
		if c.setInterrupted(false) {
			c.emit(core.Event{Kind: core.EventConnected})
		}
	case webrtc.PeerConnectionStateFailed:
		c.emit(core.Event{Kind: core.EventError, Err: domain.NewError("media", domain.ErrNetwork, errPeerFailed)})
	}
}

func (c *Conn) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	identity := domain.Identity(track.StreamID())
	ref := domain.TrackRef{ID: track.ID(), Kind: domain.TrackKind(track.Kind().String()), Handle: track}
	c.emit(core.Event{Kind: core.EventTrackSubscribed, Identity: identity, Track: ref})

	go func() {
		for {
			if _, _, err := track.ReadRTP(); err != nil {
				break
			}
		}
		ref.Handle = nil
		c.emit(core.Event{Kind: core.EventTrackUnsubscribed, Identity: identity, Track: ref})
	}()
}

func (c *Conn) Publish(ctx context.Context, track core.LocalTrack) error {
	media := track.Media()
	if media == nil {
		return domain.NewError("publish", domain.ErrProtocol, errors.New("track has no media"))
	}
	if c.closed.IsBroken() {
		return domain.NewError("publish", domain.ErrNetwork, signal.ErrClosed)
	}
	if err := c.peer.AddTrack(media); err != nil {
		return domain.NewError("publish", domain.ErrNetwork, err)
	}
	if err := c.renegotiate(ctx); err != nil {
		_ = c.peer.RemoveTrack(media.ID())
		return err
	}
	_, err := c.signal().Request(ctx, signal.Message{
		Type:  signal.TypePublish,
		Track: &signal.TrackInfo{ID: track.ID(), Kind: string(track.Kind())},
	})
	return err
}

func (c *Conn) Unpublish(ctx context.Context, track core.LocalTrack) error {
	if c.closed.IsBroken() {
		return domain.NewError("unpublish", domain.ErrNetwork, signal.ErrClosed)
	}
	if media := track.Media(); media != nil {
		if err := c.peer.RemoveTrack(media.ID()); err != nil && !errors.Is(err, rtc.ErrUnknownTrack) {
			return domain.NewError("unpublish", domain.ErrNetwork, err)
		}
	}
	if _, err := c.signal().Request(ctx, signal.Message{
		Type:  signal.TypeUnpublish,
		Track: &signal.TrackInfo{ID: track.ID(), Kind: string(track.Kind())},
	}); err != nil {
		return err
	}
	return c.renegotiate(ctx)
}

// Close leaves the room and releases the media connection. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Break()

		sig := c.signal()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = sig.Send(ctx, signal.Message{Type: signal.TypeLeave})
		cancel()
		_ = sig.Close()
		c.peer.Close()
		log.Info().Str("module", "network").Str("identity", string(c.local)).Msg("left room")
	})
	return nil
}
