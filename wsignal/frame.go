// Package wsignal carries signaling messages over websockets.
//
// Every peer keeps one websocket to a Relay, identified by the peer query
// parameter. A binary frame holds a one-byte peer id length, the peer id and
// an encoded signaling.Message. Frames sent by a client name the recipient;
// the relay rewrites the id to the sender before forwarding.
package wsignal

import (
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/callcore/signaling"
)

const (
	// MaxPeerIDLength bounds the peer id carried in a frame.
	MaxPeerIDLength = 255

	// MaxFrameSize bounds a frame: header, peer id and message.
	MaxFrameSize = 1 + MaxPeerIDLength + signaling.MaxMessageSize

	// PeerParam is the query parameter naming the connecting peer.
	PeerParam = "peer"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendQueue  = 64
)

var (
	ErrEmptyPeerID    = errors.New("peer id is empty")
	ErrPeerIDTooLong  = errors.New("peer id too long")
	ErrFrameTruncated = errors.New("frame truncated")
	ErrBackpressure   = errors.New("send queue full")
	ErrClosed         = errors.New("signaling connection closed")
)

func validatePeer(peer signaling.PeerID) error {
	switch {
	case peer == "":
		return ErrEmptyPeerID
	case len(peer) > MaxPeerIDLength:
		return fmt.Errorf("%w: %d bytes", ErrPeerIDTooLong, len(peer))
	}
	return nil
}

// encodeFrame prefixes payload with peer.
func encodeFrame(peer signaling.PeerID, payload []byte) ([]byte, error) {
	if err := validatePeer(peer); err != nil {
		return nil, err
	}
	frame := make([]byte, 0, 1+len(peer)+len(payload))
	frame = append(frame, byte(len(peer)))
	frame = append(frame, peer...)
	return append(frame, payload...), nil
}

// decodeFrame splits a frame into its peer id and payload. The payload
// aliases frame.
func decodeFrame(frame []byte) (signaling.PeerID, []byte, error) {
	if len(frame) == 0 {
		return "", nil, ErrFrameTruncated
	}
	n := int(frame[0])
	if n == 0 {
		return "", nil, ErrEmptyPeerID
	}
	if len(frame) < 1+n {
		return "", nil, fmt.Errorf("%w: need %d bytes, have %d", ErrFrameTruncated, 1+n, len(frame))
	}
	return signaling.PeerID(frame[1 : 1+n]), frame[1+n:], nil
}
