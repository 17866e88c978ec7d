package groupcall

import (
	"context"

	"github.com/opd-ai/callcore/member"
)

// SFUClient reaches the selective forwarding unit. Both calls are
// request/response, fallible and safe to retry. They are always invoked off
// the client's actor.
type SFUClient interface {
	Peek(ctx context.Context, group GroupID) (*PeekInfo, error)
	Join(ctx context.Context, req JoinRequest) (*Session, error)
}

// MediaEngine is the media side of a group call. Commands are issued from the
// client's actor and must not block on network I/O.
type MediaEngine interface {
	Connect(session Session) error
	Reconnect() error
	Disconnect() error

	RequestVideo(requests []VideoRequest, activeSpeakerHeight uint16) error
	SetOutgoingAudioMuted(muted bool) error
	SetOutgoingVideoMuted(muted bool) error
	SendReaction(value string) error
	RaiseHand(raised bool) error
	RequestRemoteMute(demux DemuxID) error
	SetSendRates(rates SendRates) error
}

// MemberResolver maps opaque, hex-encoded user ids to user ids.
// *member.Resolver satisfies it.
type MemberResolver interface {
	Resolve(opaque string) (member.UserID, bool)
}

// Observer receives everything the client reports. Methods run on the
// client's actor and must not block.
type Observer interface {
	RequestMembershipProof(c *Client)
	RequestGroupMembers(c *Client)
	OnStateChanged(c *Client, from, to State)
	OnRemoteDevicesChanged(c *Client, change RosterChange, devices []RemoteDeviceState)
	OnPeekChanged(c *Client, peek PeekState)
	OnPeekFailed(c *Client, err error)
	OnSpeaking(c *Client, ev SpeechEvent)
	OnReactions(c *Client, reactions []Reaction)
	OnRaisedHands(c *Client, hands []DemuxID)
	OnLowBandwidthForVideo(c *Client, recovered bool)
	OnAudioLevels(c *Client, captured AudioLevel, received []ReceivedAudioLevel)
	OnRemoteMuteRequest(c *Client, source DemuxID)
	OnObservedRemoteMute(c *Client, source, target DemuxID)
	OnEnded(c *Client, reason EndReason)
}
