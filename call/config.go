package call

import (
	"time"

	"github.com/opd-ai/callcore/signaling"
)

// Config holds the call-level tunables.
type Config struct {
	// LocalPeer is our own peer id. It breaks glare ties between equal
	// call ids.
	LocalPeer signaling.PeerID

	// LocalDevice is stamped on every outgoing message.
	LocalDevice signaling.DeviceID

	// RingTimeout bounds the time spent in StateRinging.
	RingTimeout time.Duration

	// ReconnectTimeout bounds the time a connection may spend reconnecting.
	ReconnectTimeout time.Duration

	// MaxReconnectAttempts bounds route-loss signals per reconnect episode.
	MaxReconnectAttempts int
}

// DefaultConfig returns the default call configuration.
func DefaultConfig() Config {
	return Config{
		LocalDevice:          1,
		RingTimeout:          60 * time.Second,
		ReconnectTimeout:     30 * time.Second,
		MaxReconnectAttempts: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RingTimeout <= 0 {
		c.RingTimeout = d.RingTimeout
	}
	if c.ReconnectTimeout <= 0 {
		c.ReconnectTimeout = d.ReconnectTimeout
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	return c
}
