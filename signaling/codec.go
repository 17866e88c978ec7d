package signaling

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Size limits applied when encoding and decoding.
const (
	// MaxMessageSize bounds any encoded message.
	MaxMessageSize = 64 * 1024

	// MaxCandidates bounds the number of candidates in one batch.
	MaxCandidates = 256

	// MaxCandidateSize bounds one serialized candidate.
	MaxCandidateSize = 1024

	headerSize = 13
)

var (
	// ErrMessageEmpty indicates an empty buffer was provided.
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates a message exceeds MaxMessageSize.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrMessageTruncated indicates the buffer ended before the message did.
	ErrMessageTruncated = errors.New("message truncated")

	// ErrUnknownMessageType indicates an unrecognized message type byte.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrTooManyCandidates indicates an ICE batch exceeding MaxCandidates.
	ErrTooManyCandidates = errors.New("too many ICE candidates")
)

// Marshal encodes msg for transmission.
//
// Wire format:
//
//	[TYPE(1)][CALL_ID(8)][SENDER_DEVICE(4)][BODY]
//
// Body by type:
//
//	offer:          [MEDIA(1)][LEN(4)][SDP]
//	answer:         [LEN(4)][SDP]
//	ice-candidates: [COUNT(2)] then COUNT x [LEN(2)][CANDIDATE]
//	hangup:         [HANGUP_TYPE(1)][DEVICE(4)]
//	busy:           (empty)
func Marshal(msg *Message) ([]byte, error) {
	if msg == nil {
		logrus.WithFields(logrus.Fields{
			"function": "Marshal",
			"error":    "signaling message is nil",
		}).Error("Invalid signaling message")
		return nil, errors.New("signaling message is nil")
	}

	data := make([]byte, headerSize, headerSize+bodySize(msg))
	data[0] = byte(msg.Type)
	binary.BigEndian.PutUint64(data[1:9], uint64(msg.CallID))
	binary.BigEndian.PutUint32(data[9:13], uint32(msg.SenderDevice))

	switch msg.Type {
	case MessageOffer:
		data = append(data, byte(msg.Media))
		data = binary.BigEndian.AppendUint32(data, uint32(len(msg.Opaque)))
		data = append(data, msg.Opaque...)
	case MessageAnswer:
		data = binary.BigEndian.AppendUint32(data, uint32(len(msg.Opaque)))
		data = append(data, msg.Opaque...)
	case MessageICECandidates:
		if len(msg.Candidates) > MaxCandidates {
			return nil, fmt.Errorf("%w: %d exceeds limit %d", ErrTooManyCandidates, len(msg.Candidates), MaxCandidates)
		}
		data = binary.BigEndian.AppendUint16(data, uint16(len(msg.Candidates)))
		for _, c := range msg.Candidates {
			if len(c) > MaxCandidateSize {
				return nil, fmt.Errorf("%w: candidate size %d exceeds limit %d", ErrMessageTooLarge, len(c), MaxCandidateSize)
			}
			data = binary.BigEndian.AppendUint16(data, uint16(len(c)))
			data = append(data, c...)
		}
	case MessageHangup:
		data = append(data, byte(msg.Hangup))
		data = binary.BigEndian.AppendUint32(data, uint32(msg.HangupDeviceID))
	case MessageBusy:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, msg.Type)
	}

	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(data), MaxMessageSize)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Marshal",
		"type":      msg.Type.String(),
		"call_id":   msg.CallID,
		"data_size": len(data),
	}).Trace("Signaling message serialized")

	return data, nil
}

func bodySize(msg *Message) int {
	switch msg.Type {
	case MessageOffer:
		return 5 + len(msg.Opaque)
	case MessageAnswer:
		return 4 + len(msg.Opaque)
	case MessageICECandidates:
		n := 2
		for _, c := range msg.Candidates {
			n += 2 + len(c)
		}
		return n
	case MessageHangup:
		return 5
	default:
		return 0
	}
}

// Unmarshal decodes a message produced by Marshal.
func Unmarshal(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, ErrMessageEmpty
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(data), MaxMessageSize)
	}
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, got %d", ErrMessageTruncated, headerSize, len(data))
	}

	msg := &Message{
		Type:         MessageType(data[0]),
		CallID:       CallID(binary.BigEndian.Uint64(data[1:9])),
		SenderDevice: DeviceID(binary.BigEndian.Uint32(data[9:13])),
	}
	r := reader{buf: data[headerSize:]}

	switch msg.Type {
	case MessageOffer:
		msg.Media = MediaType(r.readByte())
		msg.Opaque = r.readBytes(int(r.readUint32()))
	case MessageAnswer:
		msg.Opaque = r.readBytes(int(r.readUint32()))
	case MessageICECandidates:
		count := int(r.readUint16())
		if count > MaxCandidates {
			return nil, fmt.Errorf("%w: %d exceeds limit %d", ErrTooManyCandidates, count, MaxCandidates)
		}
		msg.Candidates = make([][]byte, 0, count)
		for i := 0; i < count && r.err == nil; i++ {
			msg.Candidates = append(msg.Candidates, r.readBytes(int(r.readUint16())))
		}
	case MessageHangup:
		msg.Hangup = HangupType(r.readByte())
		msg.HangupDeviceID = DeviceID(r.readUint32())
	case MessageBusy:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, data[0])
	}

	if r.err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", msg.Type, r.err)
	}
	return msg, nil
}

// reader is a bounds-checked cursor; the first short read sets err and every
// later read returns zero values.
type reader struct {
	buf []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.buf) {
		r.err = ErrMessageTruncated
		return nil
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out
}

func (r *reader) readByte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) readUint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) readUint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) readBytes(n int) []byte {
	b := r.take(n)
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
