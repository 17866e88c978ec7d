package groupcall

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// MembershipProof is a parsed, time-bounded credential proving membership
// in a group. Its wire form is
//
//	hex(user_id):hex(group_id):unix_timestamp:hex(mac)
//
// The MAC may be empty; it is verified by the SFU, not here.
type MembershipProof struct {
	UserID   []byte
	GroupID  GroupID
	IssuedAt time.Time
	MAC      []byte

	raw []byte
}

// ParseMembershipProof parses the wire form of a proof.
func ParseMembershipProof(raw []byte) (*MembershipProof, error) {
	parts := bytes.Split(raw, []byte{':'})
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: expected 4 fields, got %d", ErrProofMalformed, len(parts))
	}
	user, err := hex.DecodeString(string(parts[0]))
	if err != nil || len(user) == 0 {
		return nil, fmt.Errorf("%w: bad user id", ErrProofMalformed)
	}
	group, err := hex.DecodeString(string(parts[1]))
	if err != nil || len(group) == 0 {
		return nil, fmt.Errorf("%w: bad group id", ErrProofMalformed)
	}
	ts, err := strconv.ParseInt(string(parts[2]), 10, 64)
	if err != nil || ts < 0 {
		return nil, fmt.Errorf("%w: bad timestamp", ErrProofMalformed)
	}
	mac, err := hex.DecodeString(string(parts[3]))
	if err != nil {
		return nil, fmt.Errorf("%w: bad mac", ErrProofMalformed)
	}

	return &MembershipProof{
		UserID:   user,
		GroupID:  GroupID(group),
		IssuedAt: time.Unix(ts, 0),
		MAC:      mac,
		raw:      append([]byte(nil), raw...),
	}, nil
}

// Bytes returns the wire form the proof was parsed from.
func (p *MembershipProof) Bytes() []byte {
	return p.raw
}

// Validate checks that the proof is for group and no older than ttl at now.
func (p *MembershipProof) Validate(group GroupID, now time.Time, ttl time.Duration) error {
	if p.GroupID != group {
		return ErrProofGroupMismatch
	}
	if age := now.Sub(p.IssuedAt); age > ttl {
		return fmt.Errorf("%w: issued %s ago", ErrProofExpired, age.Truncate(time.Second))
	}
	return nil
}

// FormatMembershipProof builds the wire form of a proof. It is the inverse of
// ParseMembershipProof and is mostly useful for tools and tests.
func FormatMembershipProof(user []byte, group GroupID, issuedAt time.Time, mac []byte) []byte {
	return []byte(hex.EncodeToString(user) + ":" +
		hex.EncodeToString([]byte(group)) + ":" +
		strconv.FormatInt(issuedAt.Unix(), 10) + ":" +
		hex.EncodeToString(mac))
}
