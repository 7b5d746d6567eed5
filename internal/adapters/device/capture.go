package device

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/gofrs/flock"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// Capture is an open device. Samples are paced onto the track by one goroutine
// until Close.
type Capture struct {
	id          string
	kind        domain.TrackKind
	media       *webrtc.TrackLocalStaticSample
	path        string
	constraints core.Constraints

	file *os.File
	feed feed
	lock *flock.Flock

	samples atomic.Uint64
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	err     error
}

func (c *Capture) ID() string                    { return c.id }
func (c *Capture) Kind() domain.TrackKind        { return c.kind }
func (c *Capture) Media() webrtc.TrackLocal      { return c.media }
func (c *Capture) Constraints() core.Constraints { return c.constraints }

func (c *Capture) start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	if c.feed == nil {
		close(c.done)
		return
	}
	go c.pace(ctx)
}

func (c *Capture) pace(ctx context.Context) {
	defer close(c.done)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		data, dur, err := c.feed.next()
		if err != nil {
			log.Warn().Err(err).Str("module", "device").Str("id", c.id).Msg("capture stopped")
			return
		}
		if err := c.media.WriteSample(media.Sample{Data: data, Duration: dur}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			log.Debug().Err(err).Str("module", "device").Str("id", c.id).Msg("write sample")
		}
		c.samples.Add(1)
		timer.Reset(dur)
	}
}

// Close stops the pacing goroutine, then releases the file and the device lock.
func (c *Capture) Close() error {
	c.once.Do(func() {
		c.cancel()
		<-c.done
		var errs []error
		if c.file != nil {
			errs = append(errs, c.file.Close())
		}
		if c.lock != nil {
			errs = append(errs, c.lock.Unlock())
		}
		c.err = errors.Join(errs...)
		log.Info().Str("module", "device").Str("id", c.id).Uint64("samples", c.samples.Load()).Msg("capture closed")
	})
	return c.err
}
