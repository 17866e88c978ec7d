package call

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/opd-ai/callcore/signaling"
)

// NewCallID derives a call id from now. The millisecond timestamp occupies
// the high bits so that ids order call attempts by creation time; the low 16
// bits are random to separate attempts made in the same millisecond.
func NewCallID(now time.Time) signaling.CallID {
	var b [2]byte
	_, _ = rand.Read(b[:])
	return signaling.CallID(uint64(now.UnixMilli())<<16 | uint64(binary.BigEndian.Uint16(b[:])))
}

// glareIncomingWins reports whether an incoming attempt beats our outgoing
// one to the same peer. The lower call id wins; equal ids fall back to the
// lower caller peer id so both sides still agree.
func glareIncomingWins(incoming, outgoing signaling.CallID, remote, local signaling.PeerID) bool {
	if incoming != outgoing {
		return incoming < outgoing
	}
	return remote < local
}
