package signaling

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// Capabilities summarizes the media negotiated in a session description.
type Capabilities struct {
	Audio       bool
	Video       bool
	DataChannel bool
	AudioCodecs []string
	VideoCodecs []string
}

// ParseCapabilities extracts the media sections of an SDP blob. Sections with
// port 0 or direction inactive are treated as rejected.
func ParseCapabilities(raw []byte) (Capabilities, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(raw); err != nil {
		return Capabilities{}, fmt.Errorf("failed to parse session description: %w", err)
	}

	var caps Capabilities
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Port.Value == 0 {
			continue
		}
		if _, inactive := md.Attribute(sdp.AttrKeyInactive); inactive {
			continue
		}
		switch md.MediaName.Media {
		case "audio":
			caps.Audio = true
			caps.AudioCodecs = appendCodecs(caps.AudioCodecs, md)
		case "video":
			caps.Video = true
			caps.VideoCodecs = appendCodecs(caps.VideoCodecs, md)
		case "application":
			caps.DataChannel = true
		}
	}
	return caps, nil
}

// appendCodecs adds the encoding names from the rtpmap attributes of md,
// e.g. "111 opus/48000/2" contributes "opus".
func appendCodecs(codecs []string, md *sdp.MediaDescription) []string {
	for _, attr := range md.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}
		fields := strings.Fields(attr.Value)
		if len(fields) < 2 {
			continue
		}
		name := strings.SplitN(fields[1], "/", 2)[0]
		if !containsFold(codecs, name) {
			codecs = append(codecs, name)
		}
	}
	return codecs
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
