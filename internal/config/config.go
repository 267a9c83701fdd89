package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "VOICEMESH"

// Config is the relay server configuration.
type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`

	JoinLimit    int           `mapstructure:"join_limit"`
	JoinInterval time.Duration `mapstructure:"join_interval"`
	Policy       string        `mapstructure:"policy"`
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 64*1024)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("secret", "voicemesh-dev-secret")
	v.SetDefault("join_limit", 10)
	v.SetDefault("join_interval", "1m")
	v.SetDefault("policy", "kick")
}

// Load reads config/config.<CONFIG_ENV>.yaml, falling back to defaults, and
// keeps watching the file so log_level can change without a restart.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setServerDefaults(v)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
		watch = false
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ApplyLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}

	if watch {
		v.OnConfigChange(func(e fsnotify.Event) {
			level := v.GetString("log_level")
			if err := ApplyLogLevel(level); err != nil {
				log.Error().Err(err).Str("module", "config").Msg("reload log level")
				return
			}
			log.Info().Str("module", "config").Str("file", e.Name).Str("log_level", level).Msg("config reloaded")
		})
		v.WatchConfig()
	}

	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("policy", cfg.Policy).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PingPeriod <= 0 || c.PongWait <= c.PingPeriod {
		return fmt.Errorf("ping_period (%s) must be positive and below pong_wait (%s)", c.PingPeriod, c.PongWait)
	}
	if c.ReadLimit <= 0 || c.SendBuffer <= 0 {
		return fmt.Errorf("read_limit and send_buffer must be positive")
	}
	return nil
}

// ApplyLogLevel sets the zerolog global level by name.
func ApplyLogLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}
