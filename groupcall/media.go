package groupcall

import (
	"github.com/sirupsen/logrus"
)

// command forwards a local media command to the media engine on the actor.
func (c *Client) command(op string, fn func() error) error {
	return c.post(op, func() {
		if err := fn(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  op,
				"client_id": c.id,
				"error":     err.Error(),
			}).Warn("Media engine command failed")
		}
	})
}

// RequestVideo asks the media engine for the given decoded resolutions.
// Requests are forwarded verbatim; repeating identical requests is harmless.
func (c *Client) RequestVideo(requests []VideoRequest, activeSpeakerHeight uint16) error {
	requests = append([]VideoRequest(nil), requests...)
	return c.command("RequestVideo", func() error {
		return c.media.RequestVideo(requests, activeSpeakerHeight)
	})
}

// SetOutgoingAudioMuted mutes or unmutes the local microphone.
func (c *Client) SetOutgoingAudioMuted(muted bool) error {
	return c.command("SetOutgoingAudioMuted", func() error {
		return c.media.SetOutgoingAudioMuted(muted)
	})
}

// SetOutgoingVideoMuted mutes or unmutes the local camera.
func (c *Client) SetOutgoingVideoMuted(muted bool) error {
	return c.command("SetOutgoingVideoMuted", func() error {
		return c.media.SetOutgoingVideoMuted(muted)
	})
}

// React sends a reaction to the other participants.
func (c *Client) React(value string) error {
	return c.command("React", func() error {
		return c.media.SendReaction(value)
	})
}

// RaiseHand raises or lowers the local hand.
func (c *Client) RaiseHand(raised bool) error {
	return c.command("RaiseHand", func() error {
		return c.media.RaiseHand(raised)
	})
}

// RequestRemoteMute asks a remote device to mute its microphone.
func (c *Client) RequestRemoteMute(demux DemuxID) error {
	return c.command("RequestRemoteMute", func() error {
		return c.media.RequestRemoteMute(demux)
	})
}

// OverrideSendRates replaces the encoder's bitrate bounds.
func (c *Client) OverrideSendRates(rates SendRates) error {
	return c.command("OverrideSendRates", func() error {
		return c.media.SetSendRates(rates)
	})
}

// HandleSpeaking reports a local speech event from the media engine.
func (c *Client) HandleSpeaking(ev SpeechEvent) error {
	return c.post("HandleSpeaking", func() { c.observer.OnSpeaking(c, ev) })
}

// HandleReactions reports reactions received from the SFU.
func (c *Client) HandleReactions(reactions []Reaction) error {
	return c.post("HandleReactions", func() { c.observer.OnReactions(c, reactions) })
}

// HandleRaisedHands reports the current set of raised hands.
func (c *Client) HandleRaisedHands(hands []DemuxID) error {
	return c.post("HandleRaisedHands", func() { c.observer.OnRaisedHands(c, hands) })
}

// HandleLowBandwidthForVideo reports that there is too little bandwidth for
// video, or that it recovered.
func (c *Client) HandleLowBandwidthForVideo(recovered bool) error {
	return c.post("HandleLowBandwidthForVideo", func() { c.observer.OnLowBandwidthForVideo(c, recovered) })
}

// HandleAudioLevels reports captured and received audio levels.
func (c *Client) HandleAudioLevels(captured AudioLevel, received []ReceivedAudioLevel) error {
	return c.post("HandleAudioLevels", func() { c.observer.OnAudioLevels(c, captured, received) })
}

// HandleRemoteMuteRequest reports that source asked us to mute.
func (c *Client) HandleRemoteMuteRequest(source DemuxID) error {
	return c.post("HandleRemoteMuteRequest", func() { c.observer.OnRemoteMuteRequest(c, source) })
}

// HandleObservedRemoteMute reports that source asked target to mute.
func (c *Client) HandleObservedRemoteMute(source, target DemuxID) error {
	return c.post("HandleObservedRemoteMute", func() { c.observer.OnObservedRemoteMute(c, source, target) })
}

// HandleRemoteMediaState records the media flags a remote device reported.
// A change is announced as a roster change with ReasonMediaStateChanged.
func (c *Client) HandleRemoteMediaState(demux DemuxID, state MediaState) error {
	return c.post("HandleRemoteMediaState", func() {
		i := c.deviceIndex(demux)
		if i < 0 {
			logrus.WithFields(logrus.Fields{
				"function":  "HandleRemoteMediaState",
				"client_id": c.id,
				"demux_id":  demux,
			}).Debug("Media state for unknown device")
			return
		}
		if c.devices[i].Media == state {
			return
		}
		c.mu.Lock()
		c.devices[i].Media = state
		c.mu.Unlock()

		change := RosterChange{Reasons: ReasonMediaStateChanged, MediaUpdated: []DemuxID{demux}}
		c.observer.OnRemoteDevicesChanged(c, change, copyDevices(c.devices))
	})
}

// HandleVideoFrame records metadata of the last frame decoded for a device.
func (c *Client) HandleVideoFrame(demux DemuxID, meta VideoFrameMetadata) error {
	return c.post("HandleVideoFrame", func() {
		i := c.deviceIndex(demux)
		if i < 0 {
			return
		}
		c.mu.Lock()
		c.devices[i].LastFrame = &meta
		c.devices[i].ForwardingVideo = true
		c.mu.Unlock()
	})
}

func (c *Client) deviceIndex(demux DemuxID) int {
	for i, d := range c.devices {
		if d.DemuxID == demux {
			return i
		}
	}
	return -1
}
