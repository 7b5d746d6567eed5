package app

import (
	"sort"
	"sync"

	"github.com/dkeye/voicelink/internal/domain"
	"github.com/rs/zerolog/log"
)

// Patch is a partial participant update. Nil fields are left untouched.
type Patch struct {
	DisplayName    *string
	IsLocal        *bool
	IsCameraOn     *bool
	IsMicrophoneOn *bool
	IsMuted        *bool
	Metadata       *string
}

func Str(s string) *string { return &s }
func Bool(b bool) *bool    { return &b }

// Registry maps participant identity to participant state.
// Updates are merges: a field is only changed when the patch carries it.
type Registry struct {
	mu           sync.RWMutex
	participants map[domain.Identity]*domain.Participant
}

func NewRegistry() *Registry {
	return &Registry{
		participants: make(map[domain.Identity]*domain.Participant),
	}
}

func (r *Registry) getOrCreate(id domain.Identity) *domain.Participant {
	p, ok := r.participants[id]
	if !ok {
		p = &domain.Participant{Identity: id}
		r.participants[id] = p
		log.Debug().Str("module", "app.registry").Str("identity", string(id)).Msg("participant added")
	}
	return p
}

func (r *Registry) Upsert(id domain.Identity, patch Patch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.getOrCreate(id)
	if patch.DisplayName != nil {
		p.DisplayName = *patch.DisplayName
	}
	if patch.IsLocal != nil {
		p.IsLocal = *patch.IsLocal
	}
	if patch.IsCameraOn != nil {
		p.IsCameraOn = *patch.IsCameraOn
	}
	if patch.IsMicrophoneOn != nil {
		p.IsMicrophoneOn = *patch.IsMicrophoneOn
	}
	if patch.IsMuted != nil {
		p.IsMuted = *patch.IsMuted
	}
	if patch.Metadata != nil {
		p.Metadata = domain.ParseMetadata(*patch.Metadata)
	}
}

// AttachTrack puts track into the slot of its kind, replacing whatever was there,
// and switches the matching media flag on.
func (r *Registry) AttachTrack(id domain.Identity, track domain.TrackRef) {
	if !track.Kind.Valid() {
		log.Warn().Str("module", "app.registry").Str("identity", string(id)).Str("kind", string(track.Kind)).Msg("attach: unknown track kind")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.getOrCreate(id)
	ref := track
	switch track.Kind {
	case domain.TrackVideo:
		p.VideoTrack = &ref
		p.IsCameraOn = true
	case domain.TrackAudio:
		p.AudioTrack = &ref
		p.IsMicrophoneOn = true
		p.IsMuted = track.Muted
	}
}

// DetachTrack clears the slot of the given kind. When trackID is set and the slot
// already holds a different track, the slot is left alone.
func (r *Registry) DetachTrack(id domain.Identity, kind domain.TrackKind, trackID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return false
	}
	cur := p.Slot(kind)
	if cur == nil || (trackID != "" && cur.ID != trackID) {
		return false
	}
	switch kind {
	case domain.TrackVideo:
		p.VideoTrack = nil
		p.IsCameraOn = false
	case domain.TrackAudio:
		p.AudioTrack = nil
		p.IsMicrophoneOn = false
		p.IsMuted = false
	}
	return true
}

// SetMuted records the remote mute state of an attached track.
func (r *Registry) SetMuted(id domain.Identity, kind domain.TrackKind, muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return
	}
	if ref := p.Slot(kind); ref != nil {
		ref.Muted = muted
	}
	if kind == domain.TrackAudio {
		p.IsMuted = muted
	}
}

func (r *Registry) Remove(id domain.Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[id]; !ok {
		return false
	}
	delete(r.participants, id)
	log.Debug().Str("module", "app.registry").Str("identity", string(id)).Msg("participant removed")
	return true
}

// RemoveRemote drops every participant except the local one.
func (r *Registry) RemoveRemote() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.participants {
		if !p.IsLocal {
			delete(r.participants, id)
		}
	}
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.participants)
	r.participants = make(map[domain.Identity]*domain.Participant)
	if n > 0 {
		log.Info().Str("module", "app.registry").Int("count", n).Msg("registry cleared")
	}
}

func (r *Registry) Get(id domain.Identity) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	if !ok {
		return domain.Participant{}, false
	}
	return p.Clone(), true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// List returns a copy of every participant, local first, then by identity.
func (r *Registry) List() []domain.Participant {
	r.mu.RLock()
	out := make([]domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsLocal != out[j].IsLocal {
			return out[i].IsLocal
		}
		return out[i].Identity < out[j].Identity
	})
	return out
}

// Reconcile merges a network snapshot of a remote participant, including its tracks.
func (r *Registry) Reconcile(info domain.ParticipantInfo) {
	patch := Patch{Metadata: Str(info.Metadata)}
	if info.DisplayName != "" {
		patch.DisplayName = Str(info.DisplayName)
	}
	r.Upsert(info.Identity, patch)
	for _, t := range info.Tracks {
		r.AttachTrack(info.Identity, t)
	}
}
