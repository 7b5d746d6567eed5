// Package session drives one room connection through its lifecycle:
// credential fetch, connect with retry, event fan-in and teardown.
//
// All state lives behind a single mutex. Every connection attempt and every
// live network session is tagged with an epoch; Disconnect bumps the epoch so
// that late results and events from an abandoned session are dropped instead
// of driving state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/voicelink/internal/app"
	"github.com/dkeye/voicelink/internal/app/notify"
	"github.com/dkeye/voicelink/internal/app/tracks"
	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrAborted is returned by Connect when Disconnect (or ctx) ended the attempt.
var ErrAborted = errors.New("connect aborted")

type Options struct {
	Room         domain.RoomName
	Identity     domain.Identity
	DisplayName  string
	Role         domain.Role
	Capabilities domain.Capabilities
	AutoPublish  bool

	// Credential, when set, is used instead of asking the fetcher.
	Credential *domain.Credential

	Policy app.Policy
	// After is the backoff timer. Defaults to time.After.
	After func(time.Duration) <-chan time.Time
}

// Snapshot is the observable state handed to subscribers.
type Snapshot struct {
	Session      domain.Session          `json:"session"`
	Status       domain.ConnectionStatus `json:"status"`
	Error        string                  `json:"error,omitempty"`
	Participants []domain.Participant    `json:"participants"`
}

type Connection struct {
	fetcher   core.CredentialFetcher
	transport core.Transport
	tracks    *tracks.Manager
	registry  *app.Registry
	opts      Options
	events    *notify.Broadcaster[Snapshot]

	mu         sync.Mutex
	status     domain.ConnectionStatus
	err        error
	session    domain.Session
	local      domain.Identity
	epoch      uint64
	inFlight   bool
	cancel     context.CancelFunc
	conn       core.Conn
	cred       domain.Credential
	publishing bool
	// localGen is bumped whenever local tracks are stopped. A publish started
	// under an older value must not register its tracks.
	localGen  uint64
	published map[domain.TrackKind]*tracks.Track
}

func NewConnection(fetcher core.CredentialFetcher, transport core.Transport, tm *tracks.Manager, registry *app.Registry, opts Options) *Connection {
	if opts.Credential != nil {
		fetcher = core.StaticCredential(*opts.Credential)
	}
	if opts.Policy == nil {
		opts.Policy = app.DefaultPolicy()
	}
	if opts.After == nil {
		opts.After = time.After
	}
	if opts.Role == "" {
		opts.Role = domain.RoleGuest
	}
	observeStatus(domain.StatusIdle)
	return &Connection{
		fetcher:   fetcher,
		transport: transport,
		tracks:    tm,
		registry:  registry,
		opts:      opts,
		events:    notify.New[Snapshot](),
		status:    domain.StatusIdle,
		published: make(map[domain.TrackKind]*tracks.Track),
	}
}

func (c *Connection) Status() domain.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err is the reason of the last failure, nil after a successful connect.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Connection) Session() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	s.Status = c.status
	return s
}

func (c *Connection) Participants() []domain.Participant {
	return c.registry.List()
}

func (c *Connection) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn for every state change. Calls happen in order on one goroutine.
func (c *Connection) Subscribe(fn func(Snapshot)) func() {
	return c.events.Subscribe(fn)
}

func (c *Connection) snapshotLocked() Snapshot {
	s := Snapshot{
		Session:      c.session,
		Status:       c.status,
		Participants: c.registry.List(),
	}
	s.Session.Status = c.status
	if c.err != nil {
		s.Error = c.err.Error()
	}
	return s
}

func (c *Connection) emitLocked() {
	snap := c.snapshotLocked()
	participantsGauge.Set(float64(len(snap.Participants)))
	c.events.Publish(snap)
}

func (c *Connection) setStatusLocked(s domain.ConnectionStatus) {
	if c.status == s {
		return
	}
	log.Info().Str("module", "session").
		Str("room", string(c.opts.Room)).
		Str("from", string(c.status)).
		Str("to", string(s)).
		Msg("status changed")
	c.status = s
	observeStatus(s)
	c.emitLocked()
}

func (c *Connection) canPublishLocked() bool {
	return c.opts.Capabilities.CanPublish && c.cred.Capabilities.CanPublish
}

// Connect runs the connect sequence and blocks until it is connected, has
// failed for good, or was aborted. A call while an attempt is in flight or a
// session is live is a no-op and returns nil.
//
// When auto-publish fails the session stays connected and the publish error is
// returned and recorded in Err.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.inFlight || c.status.Live() {
		status := c.status
		c.mu.Unlock()
		log.Debug().Str("module", "session").Str("status", string(status)).Msg("connect ignored")
		return nil
	}
	c.inFlight = true
	c.epoch++
	epoch := c.epoch
	attemptCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.err = nil
	c.session = domain.Session{
		ID:        domain.SessionID(uuid.NewString()),
		Room:      c.opts.Room,
		Identity:  c.opts.Identity,
		CreatedAt: time.Now(),
	}
	c.setStatusLocked(domain.StatusConnecting)
	c.mu.Unlock()

	return c.run(attemptCtx, epoch)
}

func (c *Connection) run(ctx context.Context, epoch uint64) error {
	for attempt := 1; ; attempt++ {
		conn, cred, err := c.attempt(ctx)
		connectAttempts.WithLabelValues(attemptResult(err)).Inc()
		if err == nil {
			return c.established(ctx, epoch, conn, cred)
		}
		if ctx.Err() != nil {
			return c.abandon(epoch)
		}

		action, delay := c.opts.Policy.OnFailure(attempt, err)
		if action == app.GiveUp {
			c.fail(epoch, err, attempt)
			return err
		}
		log.Warn().Err(err).Str("module", "session").
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("connect attempt failed")

		select {
		case <-ctx.Done():
			return c.abandon(epoch)
		case <-c.opts.After(delay):
		}
	}
}

// attempt fetches a fresh credential and opens the network session with it.
func (c *Connection) attempt(ctx context.Context) (core.Conn, domain.Credential, error) {
	cred, err := c.fetcher.Fetch(ctx, domain.CredentialRequest{
		Room:         c.opts.Room,
		Identity:     c.opts.Identity,
		Role:         c.opts.Role,
		Capabilities: c.opts.Capabilities,
	})
	if err != nil {
		return nil, cred, err
	}
	cred.Token = domain.Sanitize(cred.Token)
	cred.ServerAddress = domain.Sanitize(cred.ServerAddress)
	if cred.Token == "" {
		return nil, cred, domain.NewError("credential", domain.ErrAuth, errors.New("empty token"))
	}
	if cred.ServerAddress == "" {
		return nil, cred, domain.NewError("credential", domain.ErrProtocol, errors.New("empty server address"))
	}

	conn, err := c.transport.Connect(ctx, cred.ServerAddress, cred.Token)
	if err != nil {
		return nil, cred, err
	}
	return conn, cred, nil
}

func (c *Connection) established(ctx context.Context, epoch uint64, conn core.Conn, cred domain.Credential) error {
	c.mu.Lock()
	if c.epoch != epoch || ctx.Err() != nil {
		c.mu.Unlock()
		log.Info().Str("module", "session").Msg("discarding connection from an abandoned attempt")
		_ = conn.Close()
		if c.isCurrent(epoch) {
			return c.abandon(epoch)
		}
		return ErrAborted
	}

	local := conn.LocalIdentity()
	if local == "" {
		local = c.opts.Identity
	}
	c.local = local
	c.session.Identity = local
	c.conn = conn
	c.cred = cred

	patch := app.Patch{IsLocal: app.Bool(true)}
	if c.opts.DisplayName != "" {
		patch.DisplayName = app.Str(c.opts.DisplayName)
	}
	c.registry.Upsert(local, patch)
	for _, info := range conn.Participants() {
		if info.Identity == local || info.Identity == "" {
			continue
		}
		c.registry.Reconcile(info)
	}

	c.inFlight = false
	c.err = nil
	c.setStatusLocked(domain.StatusConnected)
	autoPublish := c.opts.AutoPublish && c.canPublishLocked()
	go c.pump(epoch, conn)
	c.mu.Unlock()

	log.Info().Str("module", "session").
		Str("room", string(c.opts.Room)).
		Str("identity", string(local)).
		Str("session_id", string(c.session.ID)).
		Msg("connected")

	if !autoPublish {
		return nil
	}
	if err := c.PublishLocalTracks(ctx); err != nil {
		c.mu.Lock()
		if c.epoch == epoch {
			c.err = err
			c.emitLocked()
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Connection) isCurrent(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

// abandon handles an attempt whose context ended. When the caller's context
// was cancelled without a Disconnect, the connection is torn down here.
func (c *Connection) abandon(epoch uint64) error {
	c.mu.Lock()
	current := c.epoch == epoch
	c.mu.Unlock()
	if current {
		_ = c.Disconnect(context.Background())
	}
	return ErrAborted
}

func (c *Connection) fail(epoch uint64, err error, attempts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return
	}
	c.inFlight = false
	c.cancel = nil
	c.err = err
	log.Error().Err(err).Str("module", "session").Int("attempts", attempts).Msg("giving up")
	c.setStatusLocked(domain.StatusError)
}

// Disconnect tears the session down from any state and blocks until local
// tracks are stopped and the network session is closed. Repeated calls are no-ops.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.inFlight = false
	conn := c.conn
	c.conn = nil
	published := c.published
	c.published = make(map[domain.TrackKind]*tracks.Track)
	c.cred = domain.Credential{}
	c.registry.Clear()
	detached := c.tracks.Detach()
	if c.status.Live() {
		c.setStatusLocked(domain.StatusDisconnected)
	}
	c.mu.Unlock()

	var errs []error
	if conn != nil {
		for kind, t := range published {
			if err := conn.Unpublish(ctx, t); err != nil {
				log.Debug().Err(err).Str("module", "session").Str("kind", string(kind)).Msg("unpublish on disconnect")
			}
		}
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close network session: %w", err))
		}
	}
	if err := tracks.Stop(detached); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close disconnects and stops snapshot delivery.
func (c *Connection) Close() error {
	err := c.Disconnect(context.Background())
	c.events.Close()
	return err
}
