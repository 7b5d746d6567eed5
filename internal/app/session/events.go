package session

import (
	"errors"

	"github.com/dkeye/voicelink/internal/app"
	"github.com/dkeye/voicelink/internal/app/tracks"
	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/rs/zerolog/log"
)

var errRemoteClosed = errors.New("network session closed")

// pump applies the events of one network session in emission order until the
// session ends or its epoch goes stale.
func (c *Connection) pump(epoch uint64, conn core.Conn) {
	for ev := range conn.Events() {
		if !c.apply(epoch, conn, ev) {
			return
		}
	}
	c.apply(epoch, conn, core.Event{Kind: core.EventDisconnected, Err: errRemoteClosed})
}

// apply returns false once no further events of this session should be handled.
func (c *Connection) apply(epoch uint64, conn core.Conn, ev core.Event) bool {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return false
	}
	networkEvents.WithLabelValues(ev.Kind.String()).Inc()
	log.Debug().Str("module", "session").
		Str("event", ev.Kind.String()).
		Str("identity", string(ev.Identity)).
		Msg("network event")

	switch ev.Kind {
	case core.EventReconnecting:
		if c.status == domain.StatusConnected {
			c.setStatusLocked(domain.StatusReconnecting)
		}
	case core.EventConnected:
		if ev.Participants != nil {
			c.registry.RemoveRemote()
			for _, info := range ev.Participants {
				if info.Identity != c.local && info.Identity != "" {
					c.registry.Reconcile(info)
				}
			}
		}
		if c.status == domain.StatusReconnecting {
			c.setStatusLocked(domain.StatusConnected)
		} else {
			c.emitLocked()
		}
	case core.EventDisconnected:
		c.teardownLocked(conn, domain.StatusDisconnected, nil)
		return false
	case core.EventError:
		err := ev.Err
		if err == nil {
			err = errRemoteClosed
		}
		if domain.Kind(err) == domain.ErrNetwork && !errors.Is(err, domain.ErrNetwork) {
			err = domain.NewError("session", domain.ErrNetwork, err)
		}
		c.teardownLocked(conn, domain.StatusError, err)
		return false
	default:
		if c.applyRegistryLocked(ev) {
			c.emitLocked()
		}
	}
	c.mu.Unlock()
	return true
}

func (c *Connection) applyRegistryLocked(ev core.Event) bool {
	id := ev.Identity
	if id == "" {
		id = ev.Participant.Identity
	}
	if id == "" || id == c.local {
		return false
	}
	switch ev.Kind {
	case core.EventParticipantConnected:
		info := ev.Participant
		info.Identity = id
		c.registry.Reconcile(info)
	case core.EventParticipantDisconnected:
		return c.registry.Remove(id)
	case core.EventParticipantUpdated:
		var patch app.Patch
		if ev.Participant.Metadata != "" {
			patch.Metadata = app.Str(ev.Participant.Metadata)
		}
		if ev.Participant.DisplayName != "" {
			patch.DisplayName = app.Str(ev.Participant.DisplayName)
		}
		c.registry.Upsert(id, patch)
	case core.EventTrackSubscribed:
		c.registry.AttachTrack(id, ev.Track)
	case core.EventTrackUnsubscribed:
		return c.registry.DetachTrack(id, ev.Track.Kind, ev.Track.ID)
	case core.EventTrackMuted:
		c.registry.SetMuted(id, ev.Track.Kind, ev.Muted)
	default:
		return false
	}
	return true
}

// teardownLocked ends the session after a remote disconnect or a terminal
// error. It releases c.mu.
func (c *Connection) teardownLocked(conn core.Conn, status domain.ConnectionStatus, err error) {
	c.epoch++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.inFlight = false
	c.conn = nil
	c.published = make(map[domain.TrackKind]*tracks.Track)
	c.cred = domain.Credential{}
	c.registry.Clear()
	detached := c.tracks.Detach()
	c.err = err
	c.setStatusLocked(status)
	c.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("module", "session").Msg("session terminated")
	} else {
		log.Info().Str("module", "session").Msg("session closed by remote")
	}
	if cerr := conn.Close(); cerr != nil {
		log.Debug().Err(cerr).Str("module", "session").Msg("close network session")
	}
	if serr := tracks.Stop(detached); serr != nil {
		log.Warn().Err(serr).Str("module", "session").Msg("stop local tracks")
	}
}
