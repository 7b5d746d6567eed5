package device

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/gofrs/flock"
	"github.com/stretchr/testify/require"
)

// writeIVF writes a VP8 IVF file with n dummy frames at 100 fps.
func writeIVF(t *testing.T, dir string, n int) string {
	t.Helper()
	var b bytes.Buffer
	b.WriteString("DKIF")
	_ = binary.Write(&b, binary.LittleEndian, uint16(0))  // version
	_ = binary.Write(&b, binary.LittleEndian, uint16(32)) // header size
	b.WriteString("VP80")
	_ = binary.Write(&b, binary.LittleEndian, uint16(640))
	_ = binary.Write(&b, binary.LittleEndian, uint16(480))
	_ = binary.Write(&b, binary.LittleEndian, uint32(100)) // timebase denominator
	_ = binary.Write(&b, binary.LittleEndian, uint32(1))   // timebase numerator
	_ = binary.Write(&b, binary.LittleEndian, uint32(n))
	_ = binary.Write(&b, binary.LittleEndian, uint32(0))
	for i := range n {
		frame := []byte{0x10, 0x02, 0x00, byte(i)}
		_ = binary.Write(&b, binary.LittleEndian, uint32(len(frame)))
		_ = binary.Write(&b, binary.LittleEndian, uint64(i))
		b.Write(frame)
	}
	path := filepath.Join(dir, "camera.ivf")
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o600))
	return path
}

func TestOpenIdleAudio(t *testing.T) {
	s := NewSource(Config{LockDir: t.TempDir()})
	c, err := s.Open(context.Background(), domain.TrackAudio, core.Constraints{EchoCancellation: true})
	require.NoError(t, err)

	require.Equal(t, domain.TrackAudio, c.Kind())
	require.Contains(t, c.ID(), "audio-")
	require.Equal(t, "audio", c.Media().Kind().String())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestOpenVideoFilePacesSamples(t *testing.T) {
	dir := t.TempDir()
	s := NewSource(Config{LockDir: dir, VideoFile: writeIVF(t, dir, 3)})

	c, err := s.Open(context.Background(), domain.TrackVideo, core.Constraints{Width: 640, Height: 480})
	require.NoError(t, err)
	capture := c.(*Capture)
	require.Equal(t, 640, capture.Constraints().Width)

	// Three frames at 10ms each; looping past the end proves rewind works.
	require.Eventually(t, func() bool { return capture.samples.Load() > 6 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	n := capture.samples.Load()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, n, capture.samples.Load(), "no samples after Close")
}

func TestDeviceHeldByAnotherOwner(t *testing.T) {
	dir := t.TempDir()
	s := NewSource(Config{LockDir: dir})

	first, err := s.Open(context.Background(), domain.TrackVideo, core.Constraints{})
	require.NoError(t, err)

	_, err = s.Open(context.Background(), domain.TrackVideo, core.Constraints{})
	require.ErrorIs(t, err, domain.ErrDevice)
	require.ErrorIs(t, err, ErrBusy)

	// A different kind is a different device.
	mic, err := s.Open(context.Background(), domain.TrackAudio, core.Constraints{})
	require.NoError(t, err)
	require.NoError(t, mic.Close())

	require.NoError(t, first.Close())
	again, err := s.Open(context.Background(), domain.TrackVideo, core.Constraints{})
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestDeviceLockedExternally(t *testing.T) {
	dir := t.TempDir()
	other := flock.New(filepath.Join(dir, "audio.lock"))
	ok, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer other.Unlock()

	_, err = NewSource(Config{LockDir: dir}).Open(context.Background(), domain.TrackAudio, core.Constraints{})
	require.ErrorIs(t, err, ErrBusy)
}

func TestOpenFailures(t *testing.T) {
	dir := t.TempDir()

	_, err := NewSource(Config{LockDir: dir, VideoFile: filepath.Join(dir, "missing.ivf")}).
		Open(context.Background(), domain.TrackVideo, core.Constraints{})
	require.ErrorIs(t, err, domain.ErrDevice)
	require.ErrorIs(t, err, ErrNotFound)

	garbage := filepath.Join(dir, "garbage.ogg")
	require.NoError(t, os.WriteFile(garbage, []byte("not ogg"), 0o600))
	_, err = NewSource(Config{LockDir: dir, AudioFile: garbage}).
		Open(context.Background(), domain.TrackAudio, core.Constraints{})
	require.ErrorIs(t, err, domain.ErrDevice)

	_, err = NewSource(Config{LockDir: dir}).Open(context.Background(), "screen", core.Constraints{})
	require.ErrorIs(t, err, ErrUnsupported)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSource(Config{LockDir: dir}).Open(ctx, domain.TrackAudio, core.Constraints{})
	require.ErrorIs(t, err, domain.ErrDevice)

	// Failed opens do not leave the device locked.
	c, err := NewSource(Config{LockDir: dir}).Open(context.Background(), domain.TrackVideo, core.Constraints{})
	require.NoError(t, err)
	require.NoError(t, c.Close())
}
