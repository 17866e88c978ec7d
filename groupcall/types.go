package groupcall

import (
	"fmt"
	"time"

	"github.com/opd-ai/callcore/member"
)

// ClientID identifies a Client within the process.
type ClientID uint32

// GroupID is the opaque identifier of a group. It holds raw bytes.
type GroupID string

// EraID identifies one run of a session on the SFU. Demux ids are only
// unique within an era.
type EraID string

// DemuxID identifies one device's media streams within a session.
type DemuxID uint32

// State is the lifecycle state of a Client.
type State uint8

const (
	// StateNotJoined is the initial state.
	StateNotJoined State = iota
	// StateJoining means a join is pending, possibly waiting for a
	// membership proof.
	StateJoining
	// StateJoined means the SFU accepted the join; media is not up yet.
	StateJoined
	// StateConnected means media flows through the SFU.
	StateConnected
	// StateDisrupted means the media connection was lost after connecting
	// and reconnection is being attempted.
	StateDisrupted
	// StateEnded is terminal.
	StateEnded
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateNotJoined:
		return "NotJoined"
	case StateJoining:
		return "Joining"
	case StateJoined:
		return "Joined"
	case StateConnected:
		return "Connected"
	case StateDisrupted:
		return "Disrupted"
	case StateEnded:
		return "Ended"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// EndReason records why a Client ended.
type EndReason uint8

const (
	// EndReasonLeft means the local user left.
	EndReasonLeft EndReason = iota
	// EndReasonJoinFailed means every join attempt failed.
	EndReasonJoinFailed
	// EndReasonHasMaxDevices means the session was full.
	EndReasonHasMaxDevices
	// EndReasonConnectionLost means reconnection after a disruption failed.
	EndReasonConnectionLost
)

// String returns a human-readable representation of the reason.
func (r EndReason) String() string {
	switch r {
	case EndReasonLeft:
		return "left"
	case EndReasonJoinFailed:
		return "join-failed"
	case EndReasonHasMaxDevices:
		return "has-max-devices"
	case EndReasonConnectionLost:
		return "connection-lost"
	default:
		return fmt.Sprintf("EndReason(%d)", uint8(r))
	}
}

// PeekDevice is one device in a peek response.
type PeekDevice struct {
	OpaqueUserID string
	DemuxID      DemuxID
	JoinedOrder  uint64
}

// PeekInfo is the SFU's view of a session.
type PeekInfo struct {
	Creator            string
	EraID              EraID
	Devices            []PeekDevice
	PendingDeviceCount uint32
	// MaxDevices is zero when the SFU imposes no cap.
	MaxDevices uint32
}

// DeviceCountIncludingPending returns joined plus pending devices.
func (p *PeekInfo) DeviceCountIncludingPending() uint32 {
	return uint32(len(p.Devices)) + p.PendingDeviceCount
}

// Full reports whether another device would exceed MaxDevices.
func (p *PeekInfo) Full() bool {
	return p.MaxDevices > 0 && p.DeviceCountIncludingPending() >= p.MaxDevices
}

// PeekState is what the observer learns from a peek.
type PeekState struct {
	EraID              EraID
	Creator            member.UserID
	CreatorResolved    bool
	JoinedMembers      []member.UserID
	DeviceCount        uint32
	PendingDeviceCount uint32
	MaxDevices         uint32
}

// ClientInfo describes the local device in a join request.
type ClientInfo struct {
	AudioOnly bool
	UserAgent string
}

// JoinRequest is sent to the SFU to join a session.
type JoinRequest struct {
	GroupID         GroupID
	MembershipProof []byte
	Client          ClientInfo
}

// Session is the SFU's answer to a successful join.
type Session struct {
	LocalDemuxID DemuxID
	EraID        EraID
	Endpoint     string
}

// VideoRequest asks the media engine for a decoded resolution of one
// remote device. A zero Framerate leaves the rate unconstrained.
type VideoRequest struct {
	DemuxID   DemuxID
	Width     uint16
	Height    uint16
	Framerate uint16
}

// SendRates overrides the encoder's bitrate bounds in bits per second.
// Zero fields keep the media engine's default.
type SendRates struct {
	Min   uint64
	Start uint64
	Max   uint64
}

// MediaState is the remote device's self-reported media status.
type MediaState struct {
	AudioMuted bool
	VideoMuted bool
	Presenting bool
	Sharing    bool
}

// VideoFrameMetadata describes the last decoded frame from a device.
type VideoFrameMetadata struct {
	Width    uint32
	Height   uint32
	Rotation uint16
}

// SpeechEvent reports the local user starting or stopping to speak.
type SpeechEvent uint8

const (
	SpeechStoppedSpeaking SpeechEvent = iota
	SpeechLowerHandSuggestion
)

// String returns a human-readable representation of the event.
func (e SpeechEvent) String() string {
	switch e {
	case SpeechStoppedSpeaking:
		return "stopped-speaking"
	case SpeechLowerHandSuggestion:
		return "lower-hand-suggestion"
	default:
		return fmt.Sprintf("SpeechEvent(%d)", uint8(e))
	}
}

// Reaction is an emoji reaction sent by a device.
type Reaction struct {
	DemuxID DemuxID
	Value   string
}

// AudioLevel is a normalized audio level between 0 and 32767.
type AudioLevel uint16

// ReceivedAudioLevel is the audio level of one remote device.
type ReceivedAudioLevel struct {
	DemuxID DemuxID
	Level   AudioLevel
}

// RemoteDeviceState is one remote participant device.
type RemoteDeviceState struct {
	DemuxID      DemuxID
	OpaqueUserID string
	UserID       member.UserID
	Resolved     bool
	JoinedOrder  uint64
	AddedAt      time.Time

	Media           MediaState
	ForwardingVideo bool
	LastFrame       *VideoFrameMetadata
}
