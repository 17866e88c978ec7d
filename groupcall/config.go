package groupcall

import "time"

// Config holds the tunables of a Client.
type Config struct {
	GroupID GroupID
	Client  ClientInfo

	// PeekInterval is the delay between periodic peeks.
	PeekInterval time.Duration

	// MaxJoinAttempts bounds join requests before the client ends with
	// EndReasonJoinFailed.
	MaxJoinAttempts int

	// JoinRetryDelay is the delay before the second attempt. It doubles for
	// every further attempt, capped at eight times the base.
	JoinRetryDelay time.Duration

	// MembershipProofTTL is the maximum accepted proof age.
	MembershipProofTTL time.Duration

	// ReconnectTimeout is how long each reconnect attempt may take while
	// disrupted.
	ReconnectTimeout time.Duration

	// MaxReconnectAttempts bounds reconnect attempts while disrupted.
	MaxReconnectAttempts int
}

// DefaultConfig returns the configuration used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		PeekInterval:         10 * time.Second,
		MaxJoinAttempts:      3,
		JoinRetryDelay:       time.Second,
		MembershipProofTTL:   24 * time.Hour,
		ReconnectTimeout:     30 * time.Second,
		MaxReconnectAttempts: 3,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PeekInterval <= 0 {
		c.PeekInterval = d.PeekInterval
	}
	if c.MaxJoinAttempts <= 0 {
		c.MaxJoinAttempts = d.MaxJoinAttempts
	}
	if c.JoinRetryDelay <= 0 {
		c.JoinRetryDelay = d.JoinRetryDelay
	}
	if c.MembershipProofTTL <= 0 {
		c.MembershipProofTTL = d.MembershipProofTTL
	}
	if c.ReconnectTimeout <= 0 {
		c.ReconnectTimeout = d.ReconnectTimeout
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	return c
}

func (c Config) validate() error {
	if c.GroupID == "" {
		return ErrEmptyGroupID
	}
	return nil
}

// joinRetryDelay returns the delay before attempt (2-based).
func (c Config) joinRetryDelay(attempt int) time.Duration {
	d := c.JoinRetryDelay
	for i := 2; i < attempt && d < 8*c.JoinRetryDelay; i++ {
		d *= 2
	}
	return min(d, 8*c.JoinRetryDelay)
}
