package domain

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

func (k TrackKind) Valid() bool { return k == TrackAudio || k == TrackVideo }

// TrackRef is an ownership-tagged reference placed in a participant's slot.
// Handle is opaque to the core: a local capture or a remote media track.
type TrackRef struct {
	ID     string    `json:"id"`
	Kind   TrackKind `json:"kind"`
	Local  bool      `json:"local"`
	Muted  bool      `json:"muted"`
	Handle any       `json:"-"`
}
