package pionmedia

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/callcore/connection"
	"github.com/opd-ai/callcore/signaling"
)

// recorder collects media events. forward, when set, receives local
// candidates as they are gathered.
type recorder struct {
	mu         sync.Mutex
	candidates int
	states     []connection.IceState
	routes     []connection.NetworkRoute
	forward    func([][]byte)
}

func (r *recorder) OnLocalCandidates(c [][]byte) {
	r.mu.Lock()
	r.candidates += len(c)
	forward := r.forward
	r.mu.Unlock()
	if forward != nil {
		forward(c)
	}
}

func (r *recorder) OnIceStateChanged(s connection.IceState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) OnNetworkRouteChanged(route connection.NetworkRoute) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

func (r *recorder) has(s connection.IceState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.states {
		if got == s {
			return true
		}
	}
	return false
}

func TestIceStateMapping(t *testing.T) {
	tests := []struct {
		in   webrtc.ICEConnectionState
		want connection.IceState
	}{
		{webrtc.ICEConnectionStateNew, connection.IceNew},
		{webrtc.ICEConnectionStateChecking, connection.IceChecking},
		{webrtc.ICEConnectionStateConnected, connection.IceConnected},
		{webrtc.ICEConnectionStateCompleted, connection.IceCompleted},
		{webrtc.ICEConnectionStateDisconnected, connection.IceDisconnected},
		{webrtc.ICEConnectionStateFailed, connection.IceFailed},
		{webrtc.ICEConnectionStateClosed, connection.IceClosed},
	}
	for _, tt := range tests {
		got, ok := IceState(tt.in)
		assert.True(t, ok, tt.in.String())
		assert.Equal(t, tt.want, got, tt.in.String())
	}
	_, ok := IceState(webrtc.ICEConnectionStateUnknown)
	assert.False(t, ok)
}

func TestRoute(t *testing.T) {
	route := Route(&webrtc.ICECandidatePair{
		Local:  &webrtc.ICECandidate{Address: "10.0.0.1", Port: 5000, Typ: webrtc.ICECandidateTypeHost},
		Remote: &webrtc.ICECandidate{Address: "203.0.113.9", Port: 3478, Typ: webrtc.ICECandidateTypeRelay},
	})
	assert.Equal(t, "10.0.0.1:5000", route.LocalAddress)
	assert.Equal(t, "203.0.113.9:3478", route.RemoteAddress)
	assert.True(t, route.Relayed)
}

func TestOfferAnswerCarriesCapabilities(t *testing.T) {
	caller, err := New(Config{Video: true}, &recorder{})
	require.NoError(t, err)
	defer caller.Close()
	callee, err := New(Config{}, &recorder{})
	require.NoError(t, err)
	defer callee.Close()

	offer, err := caller.CreateOffer()
	require.NoError(t, err)
	caps, err := signaling.ParseCapabilities(offer)
	require.NoError(t, err)
	assert.True(t, caps.Audio)
	assert.True(t, caps.Video)

	require.NoError(t, callee.ApplyRemoteOffer(offer))
	answer, err := callee.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, caller.ApplyRemoteAnswer(answer))

	caps, err = signaling.ParseCapabilities(answer)
	require.NoError(t, err)
	assert.True(t, caps.Audio)
}

func TestFactoryOffersVideoOnlyForVideoCalls(t *testing.T) {
	factory := NewFactory(Config{})
	tests := []struct {
		media signaling.MediaType
		video bool
	}{
		{signaling.MediaAudio, false},
		{signaling.MediaVideo, true},
	}
	for _, tt := range tests {
		conn, err := factory(tt.media, &recorder{})
		require.NoError(t, err)
		offer, err := conn.CreateOffer()
		require.NoError(t, err)
		require.NoError(t, conn.Close())

		caps, err := signaling.ParseCapabilities(offer)
		require.NoError(t, err)
		assert.True(t, caps.Audio)
		assert.Equal(t, tt.video, caps.Video)
	}
}

func TestCandidatesWaitForRemoteDescription(t *testing.T) {
	caller, err := New(Config{}, &recorder{})
	require.NoError(t, err)
	defer caller.Close()
	callee, err := New(Config{}, &recorder{})
	require.NoError(t, err)
	defer callee.Close()

	cand := []byte(`{"candidate":"candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host","sdpMid":"0","sdpMLineIndex":0}`)
	require.NoError(t, callee.AddRemoteCandidates([][]byte{cand}))
	assert.Equal(t, 1, callee.Pending())

	offer, err := caller.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, callee.ApplyRemoteOffer(offer))
	assert.Zero(t, callee.Pending())

	err = callee.AddRemoteCandidates([][]byte{[]byte("not json")})
	assert.Error(t, err)
}

func TestClosedConnectionRejectsOperations(t *testing.T) {
	c, err := New(Config{}, &recorder{})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.CreateOffer()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.ApplyRemoteAnswer([]byte("v=0")), ErrClosed)
	assert.ErrorIs(t, c.AddRemoteCandidates(nil), ErrClosed)

	_, err = New(Config{}, nil)
	assert.Error(t, err)
}

func TestLoopbackConnectionReachesConnected(t *testing.T) {
	if testing.Short() {
		t.Skip("gathers real ICE candidates")
	}

	var caller, callee *Connection
	callerEvents := &recorder{}
	calleeEvents := &recorder{}

	var err error
	caller, err = New(Config{Loopback: true}, callerEvents)
	require.NoError(t, err)
	defer caller.Close()
	callee, err = New(Config{Loopback: true}, calleeEvents)
	require.NoError(t, err)
	defer callee.Close()

	callerEvents.mu.Lock()
	callerEvents.forward = func(c [][]byte) { _ = callee.AddRemoteCandidates(c) }
	callerEvents.mu.Unlock()
	calleeEvents.mu.Lock()
	calleeEvents.forward = func(c [][]byte) { _ = caller.AddRemoteCandidates(c) }
	calleeEvents.mu.Unlock()

	offer, err := caller.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, callee.ApplyRemoteOffer(offer))
	answer, err := callee.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, caller.ApplyRemoteAnswer(answer))

	require.Eventually(t, func() bool {
		return callerEvents.has(connection.IceConnected) && calleeEvents.has(connection.IceConnected)
	}, 15*time.Second, 50*time.Millisecond)

	callerEvents.mu.Lock()
	defer callerEvents.mu.Unlock()
	assert.Positive(t, callerEvents.candidates)
}
