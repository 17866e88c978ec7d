package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/callcore/groupcall"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 60*time.Second, cfg.RingTimeout)
	assert.Equal(t, 30*time.Second, cfg.ReconnectTimeout)
	assert.Equal(t, 3, cfg.MaxReconnectAttempts)
	assert.Equal(t, 10*time.Second, cfg.PeekInterval)
	assert.Equal(t, 3, cfg.MaxJoinAttempts)
	assert.Equal(t, time.Second, cfg.JoinRetryDelay)
	assert.Equal(t, 24*time.Hour, cfg.MembershipProofTTL)
	assert.Equal(t, "127.0.0.1:8443", cfg.SignalAddr)
	assert.Equal(t, "stun:stun.l.google.com:19302", cfg.ICEAddress)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log: debug
ring-timeout: 45s
max-join-attempts: 5
signal-addr: 0.0.0.0:9000
`), 0o600))
	t.Setenv("CALLCORE_PEEK_INTERVAL", "3s")
	t.Setenv("CALLCORE_RING_TIMEOUT", "20s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 20*time.Second, cfg.RingTimeout, "environment wins over the file")
	assert.Equal(t, 5, cfg.MaxJoinAttempts)
	assert.Equal(t, "0.0.0.0:9000", cfg.SignalAddr)
	assert.Equal(t, 3*time.Second, cfg.PeekInterval)
	assert.Equal(t, 30*time.Second, cfg.ReconnectTimeout)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ring-timeout: -1s\n"), 0o600))
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"defaults", func(*Config) {}, nil},
		{"zero peek interval", func(c *Config) { c.PeekInterval = 0 }, ErrInvalidDuration},
		{"zero join attempts", func(c *Config) { c.MaxJoinAttempts = 0 }, ErrInvalidAttempts},
		{"negative reconnect attempts", func(c *Config) { c.MaxReconnectAttempts = -1 }, ErrInvalidAttempts},
		{"no signal address", func(c *Config) { c.SignalAddr = "" }, ErrEmptySignalAddr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestProjections(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.RingTimeout = 15 * time.Second
	cfg.JoinRetryDelay = 250 * time.Millisecond

	cc := cfg.CallConfig("alice", 2)
	assert.Equal(t, "alice", string(cc.LocalPeer))
	assert.EqualValues(t, 2, cc.LocalDevice)
	assert.Equal(t, 15*time.Second, cc.RingTimeout)
	assert.Equal(t, cfg.ReconnectTimeout, cc.ReconnectTimeout)

	gc := cfg.GroupConfig("g", groupcall.ClientInfo{AudioOnly: true})
	assert.Equal(t, groupcall.GroupID("g"), gc.GroupID)
	assert.True(t, gc.Client.AudioOnly)
	assert.Equal(t, 250*time.Millisecond, gc.JoinRetryDelay)
	assert.Equal(t, cfg.MembershipProofTTL, gc.MembershipProofTTL)
	assert.Equal(t, cfg.MaxReconnectAttempts, gc.MaxReconnectAttempts)
}

func TestICEServers(t *testing.T) {
	cfg := NewDefaultConfig()
	servers := cfg.ICEServers()
	require.Len(t, servers, 1)
	assert.Equal(t, []string{DefaultICEAddress}, servers[0].URLs)
	assert.Empty(t, servers[0].Username)

	cfg.ICEAddress = "turn:turn.example.org:3478"
	cfg.ICEUsername = "user"
	cfg.ICEPassword = "pass"
	servers = cfg.ICEServers()
	assert.Equal(t, "user", servers[0].Username)
	assert.Equal(t, "pass", servers[0].Credential)

	cfg.ICEAddress = ""
	assert.Nil(t, cfg.ICEServers())
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, LogLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, LogLevel("WARN"))
	assert.Equal(t, logrus.TraceLevel, LogLevel("trace"))
	assert.Equal(t, logrus.InfoLevel, LogLevel("nonsense"))
}

func TestLoggerWritesLevelFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.LogLevel = "debug"
	cfg.LogDir = dir

	log := cfg.Logger("test")
	assert.Same(t, log.Logger, cfg.Logger("other").Logger)
	assert.Equal(t, logrus.DebugLevel, log.Logger.GetLevel())

	log.Logger.SetOutput(io.Discard)
	log.WithField("call_id", "42").Info("call created")

	data, err := os.ReadFile(filepath.Join(dir, "callcore_info.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "call created")
	assert.Contains(t, string(data), "call_id=42")
}
