package wsignal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/callcore/signaling"
)

type received struct {
	from signaling.PeerID
	msg  *signaling.Message
}

type chanHandler chan received

func (h chanHandler) HandleMessage(from signaling.PeerID, msg *signaling.Message) error {
	h <- received{from, msg}
	return nil
}

func (h chanHandler) next(t *testing.T) received {
	t.Helper()
	select {
	case r := <-h:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
		return received{}
	}
}

func startRelay(t *testing.T) (*Relay, string) {
	t.Helper()
	relay := NewRelay()
	srv := httptest.NewServer(relay)
	t.Cleanup(srv.Close)
	return relay, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, peer signaling.PeerID, h signaling.Handler) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, peer, h)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestFrameRoundTrip(t *testing.T) {
	frame, err := encodeFrame("bob", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 'b', 'o', 'b', 1, 2, 3}, frame)

	peer, payload, err := decodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, signaling.PeerID("bob"), peer)
	assert.Equal(t, []byte{1, 2, 3}, payload)
}

func TestFrameErrors(t *testing.T) {
	_, err := encodeFrame("", nil)
	assert.ErrorIs(t, err, ErrEmptyPeerID)
	_, err = encodeFrame(signaling.PeerID(strings.Repeat("x", 256)), nil)
	assert.ErrorIs(t, err, ErrPeerIDTooLong)

	_, _, err = decodeFrame(nil)
	assert.ErrorIs(t, err, ErrFrameTruncated)
	_, _, err = decodeFrame([]byte{0, 1})
	assert.ErrorIs(t, err, ErrEmptyPeerID)
	_, _, err = decodeFrame([]byte{5, 'a'})
	assert.ErrorIs(t, err, ErrFrameTruncated)
}

func TestRelayForwardsWithSenderID(t *testing.T) {
	relay, url := startRelay(t)
	aliceInbox := make(chanHandler, 8)
	bobInbox := make(chanHandler, 8)

	alice := dial(t, url, "alice", aliceInbox)
	_ = dial(t, url, "bob", bobInbox)
	require.Eventually(t, func() bool { return relay.Peers() == 2 }, 5*time.Second, 10*time.Millisecond)

	offer := signaling.NewOffer(42, signaling.MediaVideo, []byte("v=0"))
	offer.SenderDevice = 1
	require.NoError(t, alice.Send("bob", offer))
	require.NoError(t, alice.Send("bob", signaling.NewICECandidates(42, [][]byte{[]byte("c1"), []byte("c2")})))

	got := bobInbox.next(t)
	assert.Equal(t, signaling.PeerID("alice"), got.from)
	assert.Equal(t, offer, got.msg)

	got = bobInbox.next(t)
	assert.Equal(t, signaling.MessageICECandidates, got.msg.Type)
	assert.Len(t, got.msg.Candidates, 2)
	assert.Empty(t, aliceInbox)
}

func TestRelayDropsFramesForUnknownPeers(t *testing.T) {
	relay, url := startRelay(t)
	inbox := make(chanHandler, 8)
	alice := dial(t, url, "alice", inbox)
	require.Eventually(t, func() bool { return relay.Peers() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Send("nobody", signaling.NewBusy(1)))
	require.NoError(t, alice.Send("alice", signaling.NewBusy(2)))

	// The frame to self proves the earlier one was processed and dropped.
	got := inbox.next(t)
	assert.Equal(t, signaling.CallID(2), got.msg.CallID)
}

func TestRelayRejectsMissingPeer(t *testing.T) {
	_, url := startRelay(t)
	resp, err := http.Get("http" + strings.TrimPrefix(url, "ws"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClientClose(t *testing.T) {
	relay, url := startRelay(t)
	c := dial(t, url, "alice", make(chanHandler, 1))
	require.Eventually(t, func() bool { return relay.Peers() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send("bob", signaling.NewBusy(1)), ErrClosed)

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("read loop did not exit")
	}
	require.Eventually(t, func() bool { return relay.Peers() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestSendValidatesMessage(t *testing.T) {
	_, url := startRelay(t)
	c := dial(t, url, "alice", make(chanHandler, 1))

	assert.Error(t, c.Send("bob", nil))
	assert.ErrorIs(t, c.Send("", signaling.NewBusy(1)), ErrEmptyPeerID)
}
