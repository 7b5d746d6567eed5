package tracks

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/pion/webrtc/v4"
)

type State int32

const (
	StateLive State = iota
	StateStopped
)

// Track is a local capture owned by the Manager.
type Track struct {
	capture core.Capture
	state   atomic.Int32 // Zero by default (StateLive)

	once    sync.Once
	stopErr error
}

func newTrack(c core.Capture) *Track {
	return &Track{capture: c}
}

func (t *Track) ID() string               { return t.capture.ID() }
func (t *Track) Kind() domain.TrackKind   { return t.capture.Kind() }
func (t *Track) Media() webrtc.TrackLocal { return t.capture.Media() }
func (t *Track) State() State             { return State(t.state.Load()) }
func (t *Track) Stopped() bool            { return t.State() == StateStopped }

// Ref is the registry slot value for this track.
func (t *Track) Ref() domain.TrackRef {
	return domain.TrackRef{ID: t.ID(), Kind: t.Kind(), Local: true, Handle: t}
}

// Stop ends the capture. Safe to call more than once.
func (t *Track) Stop() error {
	t.once.Do(func() {
		t.state.Store(int32(StateStopped))
		t.stopErr = t.capture.Close()
	})
	return t.stopErr
}
