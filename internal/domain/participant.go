// Package domain holds the session entities, input validation for identities
// and metadata, and the error kinds shared across layers.
package domain

import (
	"errors"
	"strings"
)

const (
	MaxIdentityLen    = 64
	MaxDisplayNameLen = 64
)

var (
	ErrIdentityEmpty   = errors.New("identity empty")
	ErrIdentityTooLong = errors.New("identity too long")
)

type Identity string

// Participant is a local or remote member of a Session together with its media state.
type Participant struct {
	Identity       Identity       `json:"identity"`
	DisplayName    string         `json:"displayName"`
	IsLocal        bool           `json:"isLocal"`
	IsCameraOn     bool           `json:"isCameraOn"`
	IsMicrophoneOn bool           `json:"isMicrophoneOn"`
	IsMuted        bool           `json:"isMuted"`
	VideoTrack     *TrackRef      `json:"videoTrack,omitempty"`
	AudioTrack     *TrackRef      `json:"audioTrack,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Slot returns the track attached for the given kind, if any.
func (p *Participant) Slot(kind TrackKind) *TrackRef {
	if kind == TrackVideo {
		return p.VideoTrack
	}
	return p.AudioTrack
}

// Clone copies the participant so callers can read it without holding the registry lock.
func (p Participant) Clone() Participant {
	out := p
	if p.VideoTrack != nil {
		v := *p.VideoTrack
		out.VideoTrack = &v
	}
	if p.AudioTrack != nil {
		a := *p.AudioTrack
		out.AudioTrack = &a
	}
	if p.Metadata != nil {
		out.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// ParseIdentity trims and validates an identity string.
func ParseIdentity(raw string) (Identity, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrIdentityEmpty
	}
	if len(s) > MaxIdentityLen {
		return "", ErrIdentityTooLong
	}
	return Identity(s), nil
}

// ParticipantInfo is what the network layer reports about a remote participant.
type ParticipantInfo struct {
	Identity    Identity
	DisplayName string
	Metadata    string
	Tracks      []TrackRef
}
