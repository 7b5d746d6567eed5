package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMetadata(t *testing.T) {
	require.Equal(t, map[string]any{"level": float64(3)}, ParseMetadata(`{"level":3}`))
	require.Nil(t, ParseMetadata(""))
	require.Nil(t, ParseMetadata("{not json"))
	require.Nil(t, ParseMetadata(`["a"]`))
	require.Nil(t, ParseMetadata("null"))
}

func TestSanitize(t *testing.T) {
	require.Equal(t, "abc", Sanitize("  abc\n"))
	require.Equal(t, "abc", Sanitize(`"abc"`))
	require.Equal(t, "wss://x", Sanitize(` ' "wss://x" ' `))
	require.Equal(t, `"`, Sanitize(`"`))
	require.Equal(t, "", Sanitize(`""`))
}

func TestErrorKind(t *testing.T) {
	auth := NewError("fetch", ErrAuth, errors.New("401"))
	require.ErrorIs(t, auth, ErrAuth)
	require.NotErrorIs(t, auth, ErrNetwork)
	require.Equal(t, ErrAuth, Kind(fmt.Errorf("attempt 1: %w", auth)))

	require.Equal(t, ErrNetwork, Kind(errors.New("boom")))
	require.Equal(t, ErrProtocol, Kind(NewError("join", ErrProtocol, nil)))
	require.Nil(t, Kind(context.Canceled))
	require.Nil(t, Kind(nil))
	require.Equal(t, "join: protocol error", NewError("join", ErrProtocol, nil).Error())
}

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity("  u1 ")
	require.NoError(t, err)
	require.Equal(t, Identity("u1"), id)

	_, err = ParseIdentity(" ")
	require.ErrorIs(t, err, ErrIdentityEmpty)
}

func TestParticipantCloneIsDeep(t *testing.T) {
	p := Participant{
		Identity:   "u1",
		VideoTrack: &TrackRef{ID: "v1", Kind: TrackVideo},
		Metadata:   map[string]any{"a": "b"},
	}
	c := p.Clone()
	c.VideoTrack.ID = "v2"
	c.Metadata["a"] = "c"
	require.Equal(t, "v1", p.VideoTrack.ID)
	require.Equal(t, "b", p.Metadata["a"])
	require.Same(t, p.Slot(TrackVideo), p.VideoTrack)
	require.Nil(t, p.Slot(TrackAudio))
}
