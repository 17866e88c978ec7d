// Package config loads the tunables of the call core and builds loggers for
// the binaries that embed it.
//
// Values come from, in increasing priority: built-in defaults, an optional
// config file (yaml, toml or json), CALLCORE_ environment variables and, for
// commands, bound flags.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/opd-ai/callcore/call"
	"github.com/opd-ai/callcore/groupcall"
	"github.com/opd-ai/callcore/signaling"
)

const (
	DefaultLogLevel             = "info"
	DefaultRingTimeout          = 60 * time.Second
	DefaultReconnectTimeout     = 30 * time.Second
	DefaultMaxReconnectAttempts = 3
	DefaultPeekInterval         = 10 * time.Second
	DefaultMaxJoinAttempts      = 3
	DefaultJoinRetryDelay       = time.Second
	DefaultMembershipProofTTL   = 24 * time.Hour
	DefaultSignalAddr           = "127.0.0.1:8443"
	DefaultICEAddress           = "stun:stun.l.google.com:19302"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CALLCORE"

var (
	ErrInvalidDuration = errors.New("duration must be positive")
	ErrInvalidAttempts = errors.New("attempt limit must be positive")
	ErrEmptySignalAddr = errors.New("signal address is empty")
)

// Config holds every tunable. Keys are the mapstructure tags.
type Config struct {
	LogLevel string `mapstructure:"log"`

	// LogDir, when set, receives one file per level next to stderr output.
	LogDir string `mapstructure:"log-dir"`

	RingTimeout          time.Duration `mapstructure:"ring-timeout"`
	ReconnectTimeout     time.Duration `mapstructure:"reconnect-timeout"`
	MaxReconnectAttempts int           `mapstructure:"max-reconnect-attempts"`

	PeekInterval       time.Duration `mapstructure:"peek-interval"`
	MaxJoinAttempts    int           `mapstructure:"max-join-attempts"`
	JoinRetryDelay     time.Duration `mapstructure:"join-retry-delay"`
	MembershipProofTTL time.Duration `mapstructure:"membership-proof-ttl"`

	SignalAddr  string `mapstructure:"signal-addr"`
	ICEAddress  string `mapstructure:"ice-addr"`
	ICEUsername string `mapstructure:"ice-username"`
	ICEPassword string `mapstructure:"ice-password"`

	loggerOnce sync.Once
	logger     *logrus.Logger
}

// NewDefaultConfig returns a Config holding the defaults.
func NewDefaultConfig() *Config {
	return &Config{
		LogLevel:             DefaultLogLevel,
		RingTimeout:          DefaultRingTimeout,
		ReconnectTimeout:     DefaultReconnectTimeout,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		PeekInterval:         DefaultPeekInterval,
		MaxJoinAttempts:      DefaultMaxJoinAttempts,
		JoinRetryDelay:       DefaultJoinRetryDelay,
		MembershipProofTTL:   DefaultMembershipProofTTL,
		SignalAddr:           DefaultSignalAddr,
		ICEAddress:           DefaultICEAddress,
	}
}

// NewViper returns a viper instance with the defaults registered and
// environment lookup enabled, ready for flags to be bound to it.
func NewViper() *viper.Viper {
	d := NewDefaultConfig()
	v := viper.New()
	v.SetDefault("log", d.LogLevel)
	v.SetDefault("log-dir", d.LogDir)
	v.SetDefault("ring-timeout", d.RingTimeout)
	v.SetDefault("reconnect-timeout", d.ReconnectTimeout)
	v.SetDefault("max-reconnect-attempts", d.MaxReconnectAttempts)
	v.SetDefault("peek-interval", d.PeekInterval)
	v.SetDefault("max-join-attempts", d.MaxJoinAttempts)
	v.SetDefault("join-retry-delay", d.JoinRetryDelay)
	v.SetDefault("membership-proof-ttl", d.MembershipProofTTL)
	v.SetDefault("signal-addr", d.SignalAddr)
	v.SetDefault("ice-addr", d.ICEAddress)
	v.SetDefault("ice-username", d.ICEUsername)
	v.SetDefault("ice-password", d.ICEPassword)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file at path, if any, and the environment.
func Load(path string) (*Config, error) {
	return FromViper(NewViper(), path)
}

// FromViper decodes v into a Config after reading the config file at path.
// An empty path skips the file.
func FromViper(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := NewDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fields := logrus.Fields{
		"function":     "FromViper",
		"ring_timeout": cfg.RingTimeout.String(),
		"signal_addr":  cfg.SignalAddr,
		"log":          cfg.LogLevel,
	}
	if used := v.ConfigFileUsed(); used != "" {
		fields["config_file"] = used
	}
	logrus.WithFields(fields).Debug("Configuration loaded")

	return cfg, nil
}

// Validate checks that every timer and limit is usable.
func (c *Config) Validate() error {
	durations := map[string]time.Duration{
		"ring-timeout":         c.RingTimeout,
		"reconnect-timeout":    c.ReconnectTimeout,
		"peek-interval":        c.PeekInterval,
		"join-retry-delay":     c.JoinRetryDelay,
		"membership-proof-ttl": c.MembershipProofTTL,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s: %w", key, ErrInvalidDuration)
		}
	}
	if c.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("max-reconnect-attempts: %w", ErrInvalidAttempts)
	}
	if c.MaxJoinAttempts <= 0 {
		return fmt.Errorf("max-join-attempts: %w", ErrInvalidAttempts)
	}
	if c.SignalAddr == "" {
		return ErrEmptySignalAddr
	}
	return nil
}

// CallConfig projects the direct-call tunables for local.
func (c *Config) CallConfig(local signaling.PeerID, device signaling.DeviceID) call.Config {
	return call.Config{
		LocalPeer:            local,
		LocalDevice:          device,
		RingTimeout:          c.RingTimeout,
		ReconnectTimeout:     c.ReconnectTimeout,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
	}
}

// GroupConfig projects the group-call tunables for group.
func (c *Config) GroupConfig(group groupcall.GroupID, client groupcall.ClientInfo) groupcall.Config {
	return groupcall.Config{
		GroupID:              group,
		Client:               client,
		PeekInterval:         c.PeekInterval,
		MaxJoinAttempts:      c.MaxJoinAttempts,
		JoinRetryDelay:       c.JoinRetryDelay,
		MembershipProofTTL:   c.MembershipProofTTL,
		ReconnectTimeout:     c.ReconnectTimeout,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
	}
}

// ICEServers returns the ICE servers handed to the media engine.
func (c *Config) ICEServers() []webrtc.ICEServer {
	if c.ICEAddress == "" {
		return nil
	}
	server := webrtc.ICEServer{URLs: []string{c.ICEAddress}}
	if c.ICEUsername != "" {
		server.Username = c.ICEUsername
		server.Credential = c.ICEPassword
		server.CredentialType = webrtc.ICECredentialTypePassword
	}
	return []webrtc.ICEServer{server}
}

// Logger returns an entry on a logger built from the config, prefixed with
// component. The logger is created on first use.
func (c *Config) Logger(component string) *logrus.Entry {
	c.loggerOnce.Do(func() {
		c.logger = logrus.New()
		c.configure(c.logger)
	})
	return c.logger.WithField("prefix", component)
}

// ApplyToStandardLogger configures the package-level logrus logger used by
// the call core packages.
func (c *Config) ApplyToStandardLogger() {
	c.configure(logrus.StandardLogger())
}

func (c *Config) configure(l *logrus.Logger) {
	l.SetLevel(LogLevel(c.LogLevel))
	l.SetFormatter(&prefixed.TextFormatter{FullTimestamp: true})
	if c.LogDir == "" {
		return
	}
	l.AddHook(lfshook.NewHook(lfshook.PathMap{
		logrus.DebugLevel: filepath.Join(c.LogDir, "callcore_debug.log"),
		logrus.InfoLevel:  filepath.Join(c.LogDir, "callcore_info.log"),
		logrus.WarnLevel:  filepath.Join(c.LogDir, "callcore_warn.log"),
		logrus.ErrorLevel: filepath.Join(c.LogDir, "callcore_error.log"),
	}, &logrus.TextFormatter{}))
}

// LogLevel maps a level name to a logrus level. Unknown names mean info.
func LogLevel(l string) logrus.Level {
	switch strings.ToLower(l) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}
