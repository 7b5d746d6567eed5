// Package network implements the session transport on top of a websocket
// signaling channel and a pion PeerConnection.
package network

import (
	"context"
	"time"

	"github.com/dkeye/voicelink/internal/adapters/rtc"
	"github.com/dkeye/voicelink/internal/adapters/signal"
	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	defaultJoinTimeout    = 10 * time.Second
	defaultResumeAttempts = 3
	defaultResumeDelay    = time.Second
)

type Options struct {
	Room        domain.RoomName
	Identity    domain.Identity
	DisplayName string
	Signal      signal.Options

	JoinTimeout time.Duration
	// ResumeAttempts is how often a dropped signaling channel is redialed
	// before the session is reported as disconnected.
	ResumeAttempts int
	ResumeDelay    time.Duration
}

type Transport struct {
	factory *rtc.APIFactory
	opts    Options
}

func NewTransport(factory *rtc.APIFactory, opts Options) *Transport {
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = defaultJoinTimeout
	}
	if opts.ResumeAttempts <= 0 {
		opts.ResumeAttempts = defaultResumeAttempts
	}
	if opts.ResumeDelay <= 0 {
		opts.ResumeDelay = defaultResumeDelay
	}
	return &Transport{factory: factory, opts: opts}
}

// Connect dials signaling, joins the room and negotiates the media connection.
func (t *Transport) Connect(ctx context.Context, serverAddress, token string) (core.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, t.opts.JoinTimeout)
	defer cancel()

	sig, joined, err := t.join(ctx, serverAddress, token)
	if err != nil {
		return nil, err
	}
	peer, err := t.factory.NewPeer(string(t.opts.Identity))
	if err != nil {
		_ = sig.Close()
		return nil, domain.NewError("connect", domain.ErrNetwork, err)
	}

	c := newConn(t, serverAddress, token, sig, peer, joined)
	if err := c.start(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	log.Info().Str("module", "network").
		Str("room", string(t.opts.Room)).
		Str("identity", string(c.local)).
		Int("participants", len(c.initial)).
		Msg("joined")
	return c, nil
}

func (t *Transport) join(ctx context.Context, serverAddress, token string) (*signal.Client, signal.Message, error) {
	sig, err := signal.Dial(ctx, serverAddress, token, t.opts.Signal)
	if err != nil {
		return nil, signal.Message{}, err
	}
	joined, err := sig.Request(ctx, signal.Message{
		Type:        signal.TypeJoin,
		Room:        string(t.opts.Room),
		Identity:    string(t.opts.Identity),
		DisplayName: t.opts.DisplayName,
	})
	if err != nil {
		_ = sig.Close()
		return nil, signal.Message{}, err
	}
	return sig, joined, nil
}

func participantInfo(p signal.ParticipantInfo) domain.ParticipantInfo {
	info := domain.ParticipantInfo{
		Identity:    domain.Identity(p.Identity),
		DisplayName: p.DisplayName,
		Metadata:    p.Metadata,
	}
	for _, t := range p.Tracks {
		info.Tracks = append(info.Tracks, trackRef(t))
	}
	return info
}

func participantInfos(ps []signal.ParticipantInfo) []domain.ParticipantInfo {
	out := make([]domain.ParticipantInfo, 0, len(ps))
	for _, p := range ps {
		out = append(out, participantInfo(p))
	}
	return out
}

func trackRef(t signal.TrackInfo) domain.TrackRef {
	return domain.TrackRef{ID: t.ID, Kind: domain.TrackKind(t.Kind), Muted: t.Muted}
}
