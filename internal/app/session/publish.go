package session

import (
	"context"
	"errors"

	"github.com/dkeye/voicelink/internal/app/tracks"
	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/rs/zerolog/log"
)

var localKinds = []domain.TrackKind{domain.TrackAudio, domain.TrackVideo}

// PublishLocalTracks acquires and publishes local audio and video. It does
// nothing unless the session is connected and allowed to publish, or while
// another publish is running. Failures are returned as is, without retry.
func (c *Connection) PublishLocalTracks(ctx context.Context) error {
	return c.publish(ctx, localKinds...)
}

// SetPublishing publishes or unpublishes one kind of local track.
func (c *Connection) SetPublishing(ctx context.Context, kind domain.TrackKind, on bool) error {
	if !kind.Valid() {
		return domain.NewError("publish", domain.ErrDevice, errors.New("unknown track kind "+string(kind)))
	}
	if on {
		return c.publish(ctx, kind)
	}
	return c.unpublish(ctx, kind)
}

func (c *Connection) publish(ctx context.Context, kinds ...domain.TrackKind) error {
	c.mu.Lock()
	if c.status != domain.StatusConnected || !c.canPublishLocked() || c.publishing {
		c.mu.Unlock()
		return nil
	}
	missing := make([]domain.TrackKind, 0, len(kinds))
	for _, k := range kinds {
		if _, ok := c.published[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		c.mu.Unlock()
		return nil
	}
	c.publishing = true
	epoch, gen, conn, local := c.epoch, c.localGen, c.conn, c.local
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.publishing = false
		c.mu.Unlock()
	}()

	acquired, err := c.tracks.AcquireAll(ctx, missing...)
	if err != nil {
		return err
	}
	for i, t := range acquired {
		if !c.publishCurrent(epoch, gen, t) {
			c.releaseAll(acquired[i:])
			return nil
		}
		if err := conn.Publish(ctx, t); err != nil {
			publishedTracks.WithLabelValues(string(t.Kind()), "error").Inc()
			c.releaseAll(acquired[i:])
			return err
		}
		publishedTracks.WithLabelValues(string(t.Kind()), "ok").Inc()

		c.mu.Lock()
		if !c.publishCurrentLocked(epoch, gen, t) {
			c.mu.Unlock()
			log.Info().Str("module", "session").Str("kind", string(t.Kind())).Msg("local tracks stopped during publish")
			_ = conn.Unpublish(ctx, t)
			c.releaseAll(acquired[i:])
			return nil
		}
		c.published[t.Kind()] = t
		c.registry.AttachTrack(local, t.Ref())
		c.emitLocked()
		c.mu.Unlock()

		log.Info().Str("module", "session").
			Str("kind", string(t.Kind())).
			Str("track_id", t.ID()).
			Msg("local track published")
	}
	return nil
}

// publishCurrent reports whether a publish started at epoch and gen may still
// hand t to the session.
func (c *Connection) publishCurrent(epoch, gen uint64, t *tracks.Track) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publishCurrentLocked(epoch, gen, t)
}

func (c *Connection) publishCurrentLocked(epoch, gen uint64, t *tracks.Track) bool {
	return c.epoch == epoch && c.localGen == gen && !t.Stopped()
}

func (c *Connection) releaseAll(ts []*tracks.Track) {
	for _, t := range ts {
		_ = c.tracks.Release(t)
	}
}

// StopLocalTracks unpublishes and stops every local track. Calling it with
// nothing published is a no-op.
func (c *Connection) StopLocalTracks(ctx context.Context) error {
	c.mu.Lock()
	c.localGen++
	conn := c.conn
	published := c.published
	c.published = make(map[domain.TrackKind]*tracks.Track)
	for kind, t := range published {
		c.registry.DetachTrack(c.local, kind, t.ID())
	}
	if len(published) > 0 {
		c.emitLocked()
	}
	c.mu.Unlock()

	var errs []error
	for _, t := range published {
		errs = append(errs, c.stopPublished(ctx, conn, t))
	}
	// Tracks acquired but never published are released too.
	errs = append(errs, c.tracks.ReleaseAll())
	return errors.Join(errs...)
}

func (c *Connection) unpublish(ctx context.Context, kind domain.TrackKind) error {
	c.mu.Lock()
	c.localGen++
	t, ok := c.published[kind]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.published, kind)
	conn := c.conn
	c.registry.DetachTrack(c.local, kind, t.ID())
	c.emitLocked()
	c.mu.Unlock()

	return c.stopPublished(ctx, conn, t)
}

func (c *Connection) stopPublished(ctx context.Context, conn core.Conn, t *tracks.Track) error {
	var errs []error
	if conn != nil {
		if err := conn.Unpublish(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.tracks.Release(t); err != nil {
		errs = append(errs, err)
	}
	log.Info().Str("module", "session").Str("kind", string(t.Kind())).Str("track_id", t.ID()).Msg("local track stopped")
	return errors.Join(errs...)
}

// Published reports which local kinds are currently published.
func (c *Connection) Published() []domain.TrackKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.TrackKind, 0, len(c.published))
	for _, k := range localKinds {
		if _, ok := c.published[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
