package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultRelayURL = "ws://localhost:8080/ws"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
)

// ICEServer mirrors webrtc.ICEServer without pulling pion into config.
type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// Identity is one credential known to the static identity provider.
type Identity struct {
	UserID     string            `mapstructure:"user_id"`
	Username   string            `mapstructure:"username"`
	ProfilePic string            `mapstructure:"profile_pic"`
	Default    string            `mapstructure:"default_access"`
	Rooms      map[string]string `mapstructure:"rooms"`
}

// PeerConfig configures the participant CLI.
type PeerConfig struct {
	RelayURL           string        `mapstructure:"relay"`
	Room               string        `mapstructure:"room"`
	Username           string        `mapstructure:"username"`
	ProfilePic         string        `mapstructure:"profile_pic"`
	Credential         string        `mapstructure:"credential"`
	LogLevel           string        `mapstructure:"log_level"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	Unmuted            bool          `mapstructure:"unmuted"`
	NoMic              bool          `mapstructure:"no_mic"`
	Rejoin             bool          `mapstructure:"rejoin"`
	RejoinMin          time.Duration `mapstructure:"rejoin_min"`
	RejoinMax          time.Duration `mapstructure:"rejoin_max"`

	ICEServers []ICEServer         `mapstructure:"ice_servers"`
	Identities map[string]Identity `mapstructure:"identities"`
}

func setPeerDefaults(v *viper.Viper) {
	v.SetDefault("relay", DefaultRelayURL)
	v.SetDefault("log_level", "info")
	v.SetDefault("negotiation_timeout", "10s")
	v.SetDefault("rejoin", true)
	v.SetDefault("rejoin_min", "500ms")
	v.SetDefault("rejoin_max", "15s")
	v.SetDefault("ice_servers", []map[string]any{{"urls": []string{DefaultSTUN}}})
}

// LoadPeer merges, from lowest to highest priority: defaults, the optional
// config file, VOICEMESH_* environment variables and command line flags.
func LoadPeer(flags *pflag.FlagSet, file string) (*PeerConfig, error) {
	v := viper.New()
	setPeerDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if f.Name == "config" {
				return
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if err := v.BindPFlag(key, f); err != nil {
				bindErr = errors.Join(bindErr, err)
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	var cfg PeerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings needed to join a room.
func (c *PeerConfig) Validate() error {
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return fmt.Errorf("invalid relay URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("relay URL must be ws:// or wss://, got %q", c.RelayURL)
	}
	if c.Room == "" {
		return errors.New("room is required")
	}
	if c.NegotiationTimeout <= 0 {
		return errors.New("negotiation_timeout must be positive")
	}
	if c.Rejoin && (c.RejoinMin <= 0 || c.RejoinMax < c.RejoinMin) {
		return fmt.Errorf("rejoin backoff range %s..%s is invalid", c.RejoinMin, c.RejoinMax)
	}
	return nil
}

// HTTPBase derives the relay's REST base URL from its WebSocket URL.
func (c *PeerConfig) HTTPBase() (string, error) {
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return "", fmt.Errorf("invalid relay URL: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = ""
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/"), nil
}
