package device

import (
	"bytes"
	"errors"
	"io"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	fallbackFrame = 33 * time.Millisecond
	fallbackPage  = 20 * time.Millisecond
)

var errEmptyMedia = errors.New("media file has no frames")

// feed yields encoded samples and loops the file at EOF.
type feed interface {
	next() ([]byte, time.Duration, error)
}

type ivfFeed struct {
	r     io.ReadSeeker
	rd    *ivfreader.IVFReader
	frame time.Duration
	sent  bool
}

func newIVFFeed(r io.ReadSeeker) (*ivfFeed, error) {
	f := &ivfFeed{r: r}
	if err := f.reset(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *ivfFeed) reset() error {
	if _, err := f.r.Seek(0, io.SeekStart); err != nil {
		return err
	}
	rd, header, err := ivfreader.NewWith(f.r)
	if err != nil {
		return err
	}
	f.rd = rd
	f.frame = fallbackFrame
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		f.frame = time.Second * time.Duration(header.TimebaseNumerator) / time.Duration(header.TimebaseDenominator)
	}
	return nil
}

func (f *ivfFeed) next() ([]byte, time.Duration, error) {
	for range 2 {
		frame, _, err := f.rd.ParseNextFrame()
		if err == nil {
			f.sent = true
			return frame, f.frame, nil
		}
		if !errors.Is(err, io.EOF) {
			return nil, 0, err
		}
		if !f.sent {
			return nil, 0, errEmptyMedia
		}
		if err := f.reset(); err != nil {
			return nil, 0, err
		}
	}
	return nil, 0, errEmptyMedia
}

type oggFeed struct {
	r       io.ReadSeeker
	rd      *oggreader.OggReader
	rate    uint32
	granule uint64
	sent    bool
}

func newOggFeed(r io.ReadSeeker) (*oggFeed, error) {
	f := &oggFeed{r: r}
	if err := f.reset(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *oggFeed) reset() error {
	if _, err := f.r.Seek(0, io.SeekStart); err != nil {
		return err
	}
	rd, header, err := oggreader.NewWith(f.r)
	if err != nil {
		return err
	}
	f.rd = rd
	f.rate = header.SampleRate
	if f.rate == 0 {
		f.rate = 48000
	}
	f.granule = 0
	return nil
}

func (f *oggFeed) next() ([]byte, time.Duration, error) {
	for range 8 {
		page, header, err := f.rd.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if !f.sent {
				return nil, 0, errEmptyMedia
			}
			if err := f.reset(); err != nil {
				return nil, 0, err
			}
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		if bytes.HasPrefix(page, []byte("OpusTags")) {
			continue
		}

		dur := fallbackPage
		if header.GranulePosition > f.granule {
			dur = time.Duration(header.GranulePosition-f.granule) * time.Second / time.Duration(f.rate)
		}
		f.granule = header.GranulePosition
		f.sent = true
		return page, dur, nil
	}
	return nil, 0, errEmptyMedia
}
