package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/callcore/connection"
	"github.com/opd-ai/callcore/groupcall"
	"github.com/opd-ai/callcore/member"
)

type stubSFU struct{}

func (stubSFU) Peek(context.Context, groupcall.GroupID) (*groupcall.PeekInfo, error) {
	return &groupcall.PeekInfo{
		EraID:   "era",
		Devices: []groupcall.PeekDevice{{OpaqueUserID: "aa", DemuxID: 16, JoinedOrder: 1}},
	}, nil
}

func (stubSFU) Join(context.Context, groupcall.JoinRequest) (*groupcall.Session, error) {
	return &groupcall.Session{LocalDemuxID: 32, EraID: "era"}, nil
}

type stubGroupMedia struct {
	mu           sync.Mutex
	connected    bool
	disconnected bool
}

func (m *stubGroupMedia) Connect(groupcall.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *stubGroupMedia) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
	return nil
}

func (m *stubGroupMedia) Reconnect() error { return nil }
func (m *stubGroupMedia) RequestVideo([]groupcall.VideoRequest, uint16) error { return nil }
func (m *stubGroupMedia) SetOutgoingAudioMuted(bool) error { return nil }
func (m *stubGroupMedia) SetOutgoingVideoMuted(bool) error { return nil }
func (m *stubGroupMedia) SendReaction(string) error { return nil }
func (m *stubGroupMedia) RaiseHand(bool) error { return nil }
func (m *stubGroupMedia) RequestRemoteMute(groupcall.DemuxID) error { return nil }
func (m *stubGroupMedia) SetSendRates(groupcall.SendRates) error { return nil }

type stubResolver struct{}

func (stubResolver) Resolve(opaque string) (member.UserID, bool) {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(opaque)), true
}

// groupObserver hands out a membership proof when asked and records the
// group client's end reason.
type groupObserver struct {
	groupcall.Observer
	proof []byte

	mu     sync.Mutex
	states []groupcall.State
	ended  []groupcall.EndReason
}

// RequestMembershipProof supplies the proof. A nil proof is withheld.
func (o *groupObserver) RequestMembershipProof(c *groupcall.Client) {
	if o.proof == nil {
		return
	}
	_ = c.SetMembershipProof(o.proof)
}

func (o *groupObserver) RequestGroupMembers(*groupcall.Client) {}
func (o *groupObserver) OnPeekChanged(*groupcall.Client, groupcall.PeekState) {}
func (o *groupObserver) OnRemoteDevicesChanged(*groupcall.Client, groupcall.RosterChange, []groupcall.RemoteDeviceState) {
}

func (o *groupObserver) OnStateChanged(_ *groupcall.Client, _, to groupcall.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, to)
}

func (o *groupObserver) OnEnded(_ *groupcall.Client, reason groupcall.EndReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended = append(o.ended, reason)
}

func startGroup(t *testing.T, p *peer) (*Call, *stubGroupMedia, *groupObserver) {
	t.Helper()
	group := groupcall.GroupID("group-1")
	media := &stubGroupMedia{}
	obs := &groupObserver{
		proof: groupcall.FormatMembershipProof([]byte("alice"), group, p.clock.Now(), nil),
	}

	c, err := p.manager.StartGroupCall(groupcall.Config{GroupID: group}, GroupDeps{
		SFU:      stubSFU{},
		Media:    media,
		Resolver: stubResolver{},
		Observer: obs,
		Go:       func(f func()) { f() },
	})
	require.NoError(t, err)
	for range 4 {
		c.Synchronize()
	}
	return c, media, obs
}

func TestGroupCallLifecycleMapsOntoCall(t *testing.T) {
	net := newNetwork()
	alice := newPeer(t, net, "alice", testStart)

	c, media, obs := startGroup(t, alice)
	assert.Equal(t, KindGroup, c.Kind())
	assert.Equal(t, StateAccepted, c.State())
	assert.True(t, media.connected)
	assert.Len(t, c.Group().RemoteDevices(), 1)

	require.NoError(t, c.Group().HandleIceState(connection.IceConnected))
	c.Synchronize()
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, []State{StateRinging, StateAccepted, StateConnected}, alice.observer.states(c.ID()))

	// Disruption is reported on the connection only.
	require.NoError(t, c.Group().HandleIceState(connection.IceDisconnected))
	c.Synchronize()
	assert.Equal(t, StateConnected, c.State())
	assert.Contains(t, alice.observer.connStates, connection.StateReconnecting)

	require.NoError(t, c.Hangup())
	<-c.Done()

	assert.True(t, media.disconnected)
	assert.Equal(t, groupcall.StateEnded, c.Group().State())
	assert.Equal(t, []groupcall.EndReason{groupcall.EndReasonLeft}, obs.ended)
	assert.Equal(t, []ended{{c.ID(), EndReasonLocalHangup}}, alice.observer.endedCalls())
	assert.Empty(t, alice.manager.Calls())
}

func TestGroupLeaveEndsCall(t *testing.T) {
	net := newNetwork()
	alice := newPeer(t, net, "alice", testStart)

	c, _, _ := startGroup(t, alice)
	require.NoError(t, c.Group().Leave())
	<-c.Done()
	assert.Equal(t, EndReasonLocalHangup, c.EndReason())
}

func TestGroupConnectionLossFailsCall(t *testing.T) {
	net := newNetwork()
	alice := newPeer(t, net, "alice", testStart)

	c, _, obs := startGroup(t, alice)
	require.NoError(t, c.Group().HandleIceState(connection.IceFailed))
	<-c.Done()

	assert.Equal(t, EndReasonConnectionFailure, c.EndReason())
	assert.Equal(t, []groupcall.EndReason{groupcall.EndReasonConnectionLost}, obs.ended)
	assert.Equal(t, []ended{{c.ID(), EndReasonConnectionFailure}}, alice.observer.endedCalls())
}

func TestGroupJoinWithoutProofTimesOut(t *testing.T) {
	net := newNetwork()
	alice := newPeer(t, net, "alice", testStart)
	media := &stubGroupMedia{}
	obs := &groupObserver{}

	c, err := alice.manager.StartGroupCall(groupcall.Config{GroupID: "group-1"}, GroupDeps{
		SFU:      stubSFU{},
		Media:    media,
		Resolver: stubResolver{},
		Observer: obs,
		Go:       func(f func()) { f() },
	})
	require.NoError(t, err)
	for range 4 {
		c.Synchronize()
	}
	require.Equal(t, StateRinging, c.State())
	require.Equal(t, groupcall.StateJoining, c.Group().State())
	assert.Equal(t, 1, alice.clock.Pending())

	alice.clock.Advance(61 * time.Second)
	<-c.Done()

	assert.Equal(t, EndReasonTimeoutNoAnswer, c.EndReason())
	assert.Equal(t, groupcall.StateEnded, c.Group().State())
	assert.Equal(t, []groupcall.EndReason{groupcall.EndReasonLeft}, obs.ended)
	assert.Equal(t, []ended{{c.ID(), EndReasonTimeoutNoAnswer}}, alice.observer.endedCalls())
	assert.False(t, media.connected)
	assert.Empty(t, alice.manager.Calls())
}

func TestGroupJoinedCancelsRingTimer(t *testing.T) {
	net := newNetwork()
	alice := newPeer(t, net, "alice", testStart)

	c, _, _ := startGroup(t, alice)
	require.Equal(t, StateAccepted, c.State())

	alice.clock.Advance(61 * time.Second)
	for range 4 {
		c.Synchronize()
	}
	assert.Equal(t, StateAccepted, c.State())
	assert.Empty(t, alice.observer.endedCalls())
}
