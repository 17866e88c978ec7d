package signaling

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{"offer", &Message{Type: MessageOffer, CallID: 1 << 40, SenderDevice: 2, Media: MediaVideo, Opaque: []byte("v=0")}},
		{"answer", &Message{Type: MessageAnswer, CallID: 42, SenderDevice: 1, Opaque: []byte("answer-sdp")}},
		{"ice", &Message{Type: MessageICECandidates, CallID: 42, Candidates: [][]byte{[]byte("cand-1"), []byte("cand-2")}}},
		{"hangup", &Message{Type: MessageHangup, CallID: 7, Hangup: HangupAccepted, HangupDeviceID: 3}},
		{"busy", &Message{Type: MessageBusy, CallID: 9, SenderDevice: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(tt.msg)
			require.NoError(t, err)

			got, err := Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestUnmarshalRejectsBadInput(t *testing.T) {
	offer, err := Marshal(NewOffer(5, MediaAudio, []byte("some sdp")))
	require.NoError(t, err)

	unknown := append([]byte(nil), offer...)
	unknown[0] = 0xee

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrMessageEmpty},
		{"short header", []byte{1, 2, 3}, ErrMessageTruncated},
		{"truncated body", offer[:len(offer)-3], ErrMessageTruncated},
		{"unknown type", unknown, ErrUnknownMessageType},
		{"oversized", bytes.Repeat([]byte{1}, MaxMessageSize+1), ErrMessageTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMarshalEnforcesLimits(t *testing.T) {
	_, err := Marshal(nil)
	assert.Error(t, err)

	many := make([][]byte, MaxCandidates+1)
	for i := range many {
		many[i] = []byte("c")
	}
	_, err = Marshal(NewICECandidates(1, many))
	assert.ErrorIs(t, err, ErrTooManyCandidates)

	_, err = Marshal(NewICECandidates(1, [][]byte{make([]byte, MaxCandidateSize+1)}))
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	_, err = Marshal(NewOffer(1, MediaAudio, make([]byte, MaxMessageSize)))
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	_, err = Marshal(&Message{Type: MessageType(99)})
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}
