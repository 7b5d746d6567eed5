package rtc

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func newTestPeer(t *testing.T) *Peer {
	t.Helper()
	f, err := NewAPIFactory(Config{LogLevel: "error"})
	require.NoError(t, err)
	p, err := f.NewPeer("test")
	require.NoError(t, err)
	t.Cleanup(p.Close)
	require.NoError(t, p.Start())
	return p
}

func TestOfferRequestsAudioAndVideo(t *testing.T) {
	p := newTestPeer(t)

	offer, err := p.CreateOffer()
	require.NoError(t, err)
	require.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	require.Contains(t, offer.SDP, "m=audio")
	require.Contains(t, offer.SDP, "m=video")
}

func TestAddAndRemoveTrack(t *testing.T) {
	p := newTestPeer(t)

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "mic", "u1")
	require.NoError(t, err)
	require.NoError(t, p.AddTrack(track))
	require.NoError(t, p.RemoveTrack("mic"))
	require.ErrorIs(t, p.RemoveTrack("mic"), ErrUnknownTrack)
}

func TestLoopbackNegotiation(t *testing.T) {
	p := newTestPeer(t)

	remote, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer remote.Close()

	offer, err := p.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, remote.SetRemoteDescription(*offer))
	answer, err := remote.CreateAnswer(nil)
	require.NoError(t, err)
	require.NoError(t, remote.SetLocalDescription(answer))
	require.NoError(t, p.ApplyAnswer(answer.SDP))
}

func TestPionLoggerScopes(t *testing.T) {
	l := NewPionLogger(0)
	scoped := l.NewLogger("ice")
	require.NotNil(t, scoped)
	scoped.Debugf("candidate %d", 1)
}
