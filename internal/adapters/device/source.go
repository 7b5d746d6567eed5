// Package device opens local captures. Media comes from IVF (VP8) and Ogg (Opus)
// files so the client runs headless; exclusive access to each device is
// enforced across processes with a file lock.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrBusy        = errors.New("device is in use by another process")
	ErrNotFound    = errors.New("device not found")
	ErrDenied      = errors.New("device access denied")
	ErrUnsupported = errors.New("unsupported device kind")
)

type Config struct {
	// LockDir holds one lock file per device kind. Defaults to the system temp dir.
	LockDir string `mapstructure:"lock_dir"`
	// VideoFile is an IVF file with VP8 frames. Empty means an idle camera.
	VideoFile string `mapstructure:"video_file"`
	// AudioFile is an Ogg file with Opus pages. Empty means an idle microphone.
	AudioFile string `mapstructure:"audio_file"`
	// StreamID groups this client's tracks on the remote side.
	StreamID string `mapstructure:"stream_id"`
}

type Source struct {
	cfg Config
}

func NewSource(cfg Config) *Source {
	if cfg.LockDir == "" {
		cfg.LockDir = filepath.Join(os.TempDir(), "voicelink")
	}
	if cfg.StreamID == "" {
		cfg.StreamID = "voicelink"
	}
	return &Source{cfg: cfg}
}

func (s *Source) Open(ctx context.Context, kind domain.TrackKind, c core.Constraints) (core.Capture, error) {
	op := "open " + string(kind)
	if err := ctx.Err(); err != nil {
		return nil, domain.NewError(op, domain.ErrDevice, err)
	}
	if !kind.Valid() {
		return nil, domain.NewError(op, domain.ErrDevice, ErrUnsupported)
	}

	lock, err := s.lock(kind)
	if err != nil {
		return nil, domain.NewError(op, domain.ErrDevice, err)
	}

	capture, err := s.open(kind, c)
	if err != nil {
		_ = lock.Unlock()
		return nil, domain.NewError(op, domain.ErrDevice, err)
	}
	capture.lock = lock
	capture.start()

	log.Info().Str("module", "device").
		Str("kind", string(kind)).
		Str("id", capture.id).
		Str("source", capture.path).
		Interface("constraints", c).
		Msg("capture opened")
	return capture, nil
}

func (s *Source) lock(kind domain.TrackKind) (*flock.Flock, error) {
	if err := os.MkdirAll(s.cfg.LockDir, 0o770); err != nil {
		return nil, accessError(err)
	}
	lock := flock.New(filepath.Join(s.cfg.LockDir, string(kind)+".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, accessError(err)
	}
	if !ok {
		return nil, ErrBusy
	}
	return lock, nil
}

func (s *Source) open(kind domain.TrackKind, c core.Constraints) (*Capture, error) {
	mime, path := webrtc.MimeTypeOpus, s.cfg.AudioFile
	if kind == domain.TrackVideo {
		mime, path = webrtc.MimeTypeVP8, s.cfg.VideoFile
	}
	id := string(kind) + "-" + uuid.NewString()
	media, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, s.cfg.StreamID)
	if err != nil {
		return nil, err
	}

	capture := &Capture{id: id, kind: kind, media: media, path: path, constraints: c}
	if path == "" {
		return capture, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, accessError(err)
	}
	feed, err := newFeed(kind, f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	capture.file = f
	capture.feed = feed
	return capture, nil
}

func accessError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %w", ErrDenied, err)
	}
	return err
}

func newFeed(kind domain.TrackKind, r io.ReadSeeker) (feed, error) {
	if kind == domain.TrackVideo {
		return newIVFFeed(r)
	}
	return newOggFeed(r)
}
