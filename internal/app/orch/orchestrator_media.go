package orch

import (
	"context"

	"github.com/dkeye/voicelink/internal/domain"
)

// PublishLocalTracks publishes microphone and camera. Not being connected or
// lacking publish rights is not an error; nothing happens.
func (o *Orchestrator) PublishLocalTracks(ctx context.Context) error {
	return o.Conn.PublishLocalTracks(ctx)
}

func (o *Orchestrator) StopLocalTracks(ctx context.Context) error {
	return o.Conn.StopLocalTracks(ctx)
}

// SetMicrophoneEnabled toggles the published microphone, e.g. for push-to-talk.
func (o *Orchestrator) SetMicrophoneEnabled(ctx context.Context, on bool) error {
	return o.Conn.SetPublishing(ctx, domain.TrackAudio, on)
}

func (o *Orchestrator) SetCameraEnabled(ctx context.Context, on bool) error {
	return o.Conn.SetPublishing(ctx, domain.TrackVideo, on)
}
