package callcore

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/callcore/call"
	"github.com/opd-ai/callcore/config"
	"github.com/opd-ai/callcore/connection"
	"github.com/opd-ai/callcore/signaling"
	"github.com/opd-ai/callcore/wsignal"
)

type nopMedia struct{}

func (nopMedia) CreateOffer() ([]byte, error) { return []byte("offer"), nil }
func (nopMedia) ApplyRemoteOffer([]byte) error { return nil }
func (nopMedia) CreateAnswer() ([]byte, error) { return []byte("answer"), nil }
func (nopMedia) ApplyRemoteAnswer([]byte) error { return nil }
func (nopMedia) AddRemoteCandidates([][]byte) error { return nil }
func (nopMedia) Close() error { return nil }

func nopFactory(signaling.MediaType, connection.MediaObserver) (connection.MediaConnection, error) {
	return nopMedia{}, nil
}

// events collects endpoint callbacks.
type events struct {
	mu       sync.Mutex
	incoming chan *call.Call
	states   map[signaling.CallID][]call.State
	ended    map[signaling.CallID]call.EndReason
}

func watch(e *Endpoint) *events {
	ev := &events{
		incoming: make(chan *call.Call, 4),
		states:   make(map[signaling.CallID][]call.State),
		ended:    make(map[signaling.CallID]call.EndReason),
	}
	e.OnIncomingCall(func(c *call.Call) { ev.incoming <- c })
	e.OnCallState(func(c *call.Call, s call.State) {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		ev.states[c.ID()] = append(ev.states[c.ID()], s)
	})
	e.OnCallEnded(func(c *call.Call, r call.EndReason) {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		ev.ended[c.ID()] = r
	})
	return ev
}

func (ev *events) endReason(id signaling.CallID) (call.EndReason, bool) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	r, ok := ev.ended[id]
	return r, ok
}

func (ev *events) hasState(id signaling.CallID, s call.State) bool {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	for _, got := range ev.states[id] {
		if got == s {
			return true
		}
	}
	return false
}

func (ev *events) nextIncoming(t *testing.T) *call.Call {
	t.Helper()
	select {
	case c := <-ev.incoming:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no incoming call")
		return nil
	}
}

func relayURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(wsignal.NewRelay())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newEndpoint(t *testing.T, url string, peer signaling.PeerID) *Endpoint {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e, err := NewEndpoint(ctx, peer, Options{RelayURL: url, Media: nopFactory})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestNewEndpointValidation(t *testing.T) {
	_, err := NewEndpoint(context.Background(), "", Options{})
	assert.Error(t, err)

	cfg := config.NewDefaultConfig()
	cfg.RingTimeout = -time.Second
	_, err = NewEndpoint(context.Background(), "alice", Options{Config: cfg})
	assert.ErrorIs(t, err, config.ErrInvalidDuration)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = NewEndpoint(ctx, "alice", Options{RelayURL: "ws://127.0.0.1:1/signal", Media: nopFactory})
	assert.Error(t, err)
}

func TestEndpointsCallAnswerHangup(t *testing.T) {
	url := relayURL(t)
	alice := newEndpoint(t, url, "alice")
	bob := newEndpoint(t, url, "bob")
	aliceEv, bobEv := watch(alice), watch(bob)

	out, err := alice.Call("bob", true)
	require.NoError(t, err)

	in := bobEv.nextIncoming(t)
	assert.Equal(t, out.ID(), in.ID())
	assert.Equal(t, signaling.PeerID("alice"), in.Remote())
	assert.Equal(t, signaling.MediaVideo, in.MediaType())

	require.NoError(t, bob.Answer(in.ID()))
	require.Eventually(t, func() bool {
		return aliceEv.hasState(out.ID(), call.StateAccepted) && bobEv.hasState(in.ID(), call.StateAccepted)
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Hangup(out.ID()))
	require.Eventually(t, func() bool {
		r, ok := bobEv.endReason(in.ID())
		return ok && r == call.EndReasonRemoteHangup
	}, 5*time.Second, 10*time.Millisecond)

	r, ok := aliceEv.endReason(out.ID())
	assert.True(t, ok)
	assert.Equal(t, call.EndReasonLocalHangup, r)
}

func TestEndpointDecline(t *testing.T) {
	url := relayURL(t)
	alice := newEndpoint(t, url, "alice")
	bob := newEndpoint(t, url, "bob")
	aliceEv, bobEv := watch(alice), watch(bob)

	out, err := alice.Call("bob", false)
	require.NoError(t, err)
	in := bobEv.nextIncoming(t)

	require.NoError(t, bob.Decline(in.ID()))
	require.Eventually(t, func() bool {
		r, ok := aliceEv.endReason(out.ID())
		return ok && r == call.EndReasonDeclined
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEndpointUnknownCall(t *testing.T) {
	e := newEndpoint(t, relayURL(t), "alice")
	assert.ErrorIs(t, e.Answer(7), call.ErrCallNotFound)
	assert.ErrorIs(t, e.Decline(7), call.ErrCallNotFound)
	assert.ErrorIs(t, e.Hangup(7), call.ErrCallNotFound)
}

func TestCloseEndsActiveCalls(t *testing.T) {
	url := relayURL(t)
	alice := newEndpoint(t, url, "alice")
	_ = newEndpoint(t, url, "bob")
	ev := watch(alice)

	out, err := alice.Call("bob", false)
	require.NoError(t, err)
	require.NoError(t, alice.Close())

	r, ok := ev.endReason(out.ID())
	assert.True(t, ok)
	assert.Equal(t, call.EndReasonLocalHangup, r)
	assert.Empty(t, alice.Manager().Calls())
}
