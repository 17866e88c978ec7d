package connection

import "github.com/opd-ai/callcore/signaling"

// MediaConnection is the media engine's handle for one peer connection.
// The handle may be shared with the media engine; Close releases only this
// connection's use of it.
type MediaConnection interface {
	CreateOffer() ([]byte, error)
	ApplyRemoteOffer(sdp []byte) error
	CreateAnswer() ([]byte, error)
	ApplyRemoteAnswer(sdp []byte) error
	AddRemoteCandidates(candidates [][]byte) error
	Close() error
}

// MediaObserver receives asynchronous events from a MediaConnection.
// Implementations must not block; the call layer forwards each event onto
// the owning call's actor.
type MediaObserver interface {
	OnLocalCandidates(candidates [][]byte)
	OnIceStateChanged(state IceState)
	OnNetworkRouteChanged(route NetworkRoute)
}

// MediaFactory creates a media connection for a call of the given media type
// that reports to obs.
type MediaFactory func(media signaling.MediaType, obs MediaObserver) (MediaConnection, error)

// NetworkRoute describes the candidate pair currently carrying media.
type NetworkRoute struct {
	LocalAddress  string
	RemoteAddress string
	Relayed       bool
}
