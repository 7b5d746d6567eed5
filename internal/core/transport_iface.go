package core

import (
	"context"

	"github.com/dkeye/voicelink/internal/domain"
)

// Transport opens network sessions against the media server.
// Adapters map raw transport failures onto the domain error classes.
type Transport interface {
	Connect(ctx context.Context, serverAddress, token string) (Conn, error)
}

// Conn is one live network session.
type Conn interface {
	// LocalIdentity is the identity the server assigned to us.
	LocalIdentity() domain.Identity
	// Participants is the set of remote participants present at join time.
	Participants() []domain.ParticipantInfo
	// Events are delivered in emission order and the channel is closed after Close.
	Events() <-chan Event
	Publish(ctx context.Context, track LocalTrack) error
	Unpublish(ctx context.Context, track LocalTrack) error
	Close() error
}
