package core

import "github.com/dkeye/voicelink/internal/domain"

type EventKind int

const (
	// EventConnected is emitted when the transport recovered from an interruption.
	EventConnected EventKind = iota
	EventReconnecting
	EventDisconnected
	// EventError is a terminal failure of the session.
	EventError
	EventParticipantConnected
	EventParticipantDisconnected
	EventParticipantUpdated
	EventTrackSubscribed
	EventTrackUnsubscribed
	EventTrackMuted
)

var eventNames = [...]string{
	"connected",
	"reconnecting",
	"disconnected",
	"error",
	"participant_connected",
	"participant_disconnected",
	"participant_updated",
	"track_subscribed",
	"track_unsubscribed",
	"track_muted",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

type Event struct {
	Kind        EventKind
	Identity    domain.Identity
	Participant domain.ParticipantInfo
	Track       domain.TrackRef
	Muted       bool
	// Participants, when non-nil on EventConnected, replaces the remote set.
	Participants []domain.ParticipantInfo
	Err          error
}
