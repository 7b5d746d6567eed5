// Package tracks acquires and releases local capture tracks independently of
// the connection lifecycle.
package tracks

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Video core.Constraints
	Audio core.Constraints
}

func DefaultOptions() Options {
	return Options{
		Video: core.Constraints{Width: 1280, Height: 720, FacingMode: "user"},
		Audio: core.Constraints{EchoCancellation: true, NoiseSuppression: true},
	}
}

type Manager struct {
	source core.DeviceSource
	opts   Options

	mu     sync.Mutex
	active map[domain.TrackKind]*Track
}

func NewManager(source core.DeviceSource, opts Options) *Manager {
	return &Manager{
		source: source,
		opts:   opts,
		active: make(map[domain.TrackKind]*Track),
	}
}

// Acquire opens a capture of the given kind, or returns the one already held.
// Failures are terminal for this call and reported as domain.ErrDevice.
func (m *Manager) Acquire(ctx context.Context, kind domain.TrackKind) (*Track, error) {
	if !kind.Valid() {
		return nil, domain.NewError("acquire", domain.ErrDevice, errors.New("unknown track kind "+string(kind)))
	}
	m.mu.Lock()
	if t, ok := m.active[kind]; ok && !t.Stopped() {
		m.mu.Unlock()
		return t, nil
	}
	m.mu.Unlock()

	c := m.opts.Audio
	if kind == domain.TrackVideo {
		c = m.opts.Video
	}
	capture, err := m.source.Open(ctx, kind, c)
	if err != nil {
		if !errors.Is(err, domain.ErrDevice) {
			err = domain.NewError("acquire "+string(kind), domain.ErrDevice, err)
		}
		log.Warn().Err(err).Str("module", "tracks").Str("kind", string(kind)).Msg("acquire failed")
		return nil, err
	}
	t := newTrack(capture)

	m.mu.Lock()
	if prev, ok := m.active[kind]; ok && !prev.Stopped() {
		// Lost a race with a concurrent Acquire of the same kind.
		m.mu.Unlock()
		_ = t.Stop()
		return prev, nil
	}
	m.active[kind] = t
	m.mu.Unlock()

	log.Info().Str("module", "tracks").Str("kind", string(kind)).Str("track_id", t.ID()).Msg("track acquired")
	return t, nil
}

// AcquireAll acquires every kind concurrently. On failure the tracks that were
// acquired by this call are released again.
func (m *Manager) AcquireAll(ctx context.Context, kinds ...domain.TrackKind) ([]*Track, error) {
	out := make([]*Track, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			t, err := m.Acquire(gctx, kind)
			if err != nil {
				return err
			}
			out[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, t := range out {
			if t != nil {
				_ = m.Release(t)
			}
		}
		return nil, err
	}
	return out, nil
}

// Release stops the track's capture before returning.
func (m *Manager) Release(t *Track) error {
	if t == nil {
		return nil
	}
	m.mu.Lock()
	if cur, ok := m.active[t.Kind()]; ok && cur == t {
		delete(m.active, t.Kind())
	}
	m.mu.Unlock()
	wasLive := !t.Stopped()
	err := t.Stop()
	if wasLive {
		log.Info().Str("module", "tracks").Str("kind", string(t.Kind())).Str("track_id", t.ID()).Msg("track released")
	}
	return err
}

// Active returns the tracks currently held.
func (m *Manager) Active() []*Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Track, 0, len(m.active))
	for _, t := range m.active {
		out = append(out, t)
	}
	return out
}

func (m *Manager) Get(kind domain.TrackKind) (*Track, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[kind]
	return t, ok
}

// Detach hands over every held track without stopping it.
func (m *Manager) Detach() []*Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Track, 0, len(m.active))
	for _, t := range m.active {
		out = append(out, t)
	}
	m.active = make(map[domain.TrackKind]*Track)
	return out
}

// Stop stops tracks that were detached earlier.
func Stop(ts []*Track) error {
	var errs []error
	for _, t := range ts {
		if err := t.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) ReleaseAll() error {
	return Stop(m.Detach())
}
