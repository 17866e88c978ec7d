// Package signaling defines the call signaling messages exchanged between
// peers, their binary wire format and the transport port used to send them.
package signaling

import (
	"fmt"
	"strconv"
)

// PeerID identifies a remote party (a user, possibly with several devices).
type PeerID string

// DeviceID identifies one device of a peer.
type DeviceID uint32

// CallID identifies one call attempt. IDs are derived from a timestamp at
// creation, so comparing two IDs orders the attempts; glare resolution relies
// on this.
type CallID uint64

// String returns the decimal form of the id.
func (id CallID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// MessageType is the kind of a signaling message.
type MessageType uint8

const (
	// MessageOffer starts a call and carries the caller's session description.
	MessageOffer MessageType = iota + 1
	// MessageAnswer accepts a call and carries the callee's session description.
	MessageAnswer
	// MessageICECandidates carries a batch of ICE candidates.
	MessageICECandidates
	// MessageHangup ends a call.
	MessageHangup
	// MessageBusy rejects an offer because the callee is in another call.
	MessageBusy
)

// String returns the name of the message type.
func (t MessageType) String() string {
	switch t {
	case MessageOffer:
		return "offer"
	case MessageAnswer:
		return "answer"
	case MessageICECandidates:
		return "ice-candidates"
	case MessageHangup:
		return "hangup"
	case MessageBusy:
		return "busy"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// MediaType is the media requested by an offer.
type MediaType uint8

const (
	// MediaAudio is an audio-only call.
	MediaAudio MediaType = iota
	// MediaVideo is an audio and video call.
	MediaVideo
)

// HangupType qualifies a hangup message.
type HangupType uint8

const (
	// HangupNormal is an ordinary hangup by the sender.
	HangupNormal HangupType = iota
	// HangupAccepted tells other devices the call was accepted elsewhere.
	HangupAccepted
	// HangupDeclined means the callee declined the call.
	HangupDeclined
	// HangupBusy tells other devices the call was rejected as busy elsewhere.
	HangupBusy
	// HangupNeedPermission means the callee must approve the caller first.
	HangupNeedPermission
)

// String returns the name of the hangup type.
func (h HangupType) String() string {
	switch h {
	case HangupNormal:
		return "normal"
	case HangupAccepted:
		return "accepted"
	case HangupDeclined:
		return "declined"
	case HangupBusy:
		return "busy"
	case HangupNeedPermission:
		return "need-permission"
	default:
		return fmt.Sprintf("HangupType(%d)", uint8(h))
	}
}

// Message is a signaling message. Which fields are meaningful depends on Type:
// Media and Opaque for offers, Opaque for answers, Candidates for ICE batches,
// Hangup and HangupDeviceID for hangups.
type Message struct {
	Type         MessageType
	CallID       CallID
	SenderDevice DeviceID

	Media  MediaType
	Opaque []byte

	Candidates [][]byte

	Hangup         HangupType
	HangupDeviceID DeviceID
}

// NewOffer builds an offer message.
func NewOffer(callID CallID, media MediaType, sdp []byte) *Message {
	return &Message{Type: MessageOffer, CallID: callID, Media: media, Opaque: sdp}
}

// NewAnswer builds an answer message.
func NewAnswer(callID CallID, sdp []byte) *Message {
	return &Message{Type: MessageAnswer, CallID: callID, Opaque: sdp}
}

// NewICECandidates builds an ICE candidate batch.
func NewICECandidates(callID CallID, candidates [][]byte) *Message {
	return &Message{Type: MessageICECandidates, CallID: callID, Candidates: candidates}
}

// NewHangup builds a hangup message.
func NewHangup(callID CallID, hangup HangupType, deviceID DeviceID) *Message {
	return &Message{Type: MessageHangup, CallID: callID, Hangup: hangup, HangupDeviceID: deviceID}
}

// NewBusy builds a busy message.
func NewBusy(callID CallID) *Message {
	return &Message{Type: MessageBusy, CallID: callID}
}

// Transport sends signaling messages to remote peers. Delivery order to one
// peer is preserved; nothing is assumed across peers. Send must not block on
// network I/O.
type Transport interface {
	Send(remote PeerID, msg *Message) error
}

// Handler receives inbound signaling messages from a transport.
type Handler interface {
	HandleMessage(from PeerID, msg *Message) error
}
