package core

import (
	"context"

	"github.com/dkeye/voicelink/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Constraints describe what a capture device is asked for.
type Constraints struct {
	Width            int
	Height           int
	FacingMode       string
	EchoCancellation bool
	NoiseSuppression bool
}

// Capture is an open hardware (or emulated) capture feeding a local media track.
type Capture interface {
	ID() string
	Kind() domain.TrackKind
	Media() webrtc.TrackLocal
	// Close must stop the underlying capture before returning.
	Close() error
}

// DeviceSource opens captures. Every failure is reported as domain.ErrDevice.
type DeviceSource interface {
	Open(ctx context.Context, kind domain.TrackKind, c Constraints) (Capture, error)
}

// LocalTrack is what the network layer publishes.
type LocalTrack interface {
	ID() string
	Kind() domain.TrackKind
	Media() webrtc.TrackLocal
}
