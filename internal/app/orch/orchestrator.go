// Package orch is the public façade over one media session: credential
// fetching, connection lifecycle, local tracks and the participant registry.
package orch

import (
	"github.com/dkeye/voicelink/internal/app"
	"github.com/dkeye/voicelink/internal/app/session"
	"github.com/dkeye/voicelink/internal/app/tracks"
	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
)

type Options struct {
	Session session.Options
	Tracks  tracks.Options
}

type Orchestrator struct {
	Registry *app.Registry
	Tracks   *tracks.Manager
	Conn     *session.Connection
}

func New(fetcher core.CredentialFetcher, transport core.Transport, devices core.DeviceSource, opts Options) *Orchestrator {
	registry := app.NewRegistry()
	tm := tracks.NewManager(devices, opts.Tracks)
	return &Orchestrator{
		Registry: registry,
		Tracks:   tm,
		Conn:     session.NewConnection(fetcher, transport, tm, registry, opts.Session),
	}
}

func (o *Orchestrator) Status() domain.ConnectionStatus { return o.Conn.Status() }
func (o *Orchestrator) Err() error                      { return o.Conn.Err() }
func (o *Orchestrator) Session() domain.Session         { return o.Conn.Session() }
func (o *Orchestrator) Snapshot() session.Snapshot      { return o.Conn.Snapshot() }

// Participants is a read-only copy of the registry, local participant first.
func (o *Orchestrator) Participants() []domain.Participant {
	return o.Registry.List()
}

// Subscribe is called with a fresh snapshot after every status or registry change.
func (o *Orchestrator) Subscribe(fn func(session.Snapshot)) func() {
	return o.Conn.Subscribe(fn)
}

// Close disconnects and stops notifying subscribers.
func (o *Orchestrator) Close() error {
	return o.Conn.Close()
}
