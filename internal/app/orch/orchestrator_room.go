package orch

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Connect blocks until the session is connected or has failed. It is a no-op
// while connecting or connected.
func (o *Orchestrator) Connect(ctx context.Context) error {
	err := o.Conn.Connect(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("status", string(o.Status())).Msg("connect")
	}
	return err
}

// ConnectAsync starts Connect in the background and returns immediately.
// The outcome is observable through Status and Err.
func (o *Orchestrator) ConnectAsync(ctx context.Context) {
	go func() { _ = o.Connect(context.WithoutCancel(ctx)) }()
}

// Disconnect is safe from any state and may be called repeatedly.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	err := o.Conn.Disconnect(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Msg("disconnect")
	}
	return err
}
