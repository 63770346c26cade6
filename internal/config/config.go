package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	URL         string `mapstructure:"url"`
	Mode        string `mapstructure:"mode"`
	LogLevel    string `mapstructure:"log_level"`
	ControlAddr string `mapstructure:"control_addr"`
	// ControlRateLimit requests per ControlRateInterval are accepted from
	// one client. Zero disables the limit.
	ControlRateLimit    int             `mapstructure:"control_rate_limit"`
	ControlRateInterval time.Duration   `mapstructure:"control_rate_interval"`
	TransitionTimeout   time.Duration   `mapstructure:"transition_timeout"`
	Reconnect           ReconnectConfig `mapstructure:"reconnect"`
	RPC                 RPCConfig       `mapstructure:"rpc"`
	Media               MediaConfig     `mapstructure:"media"`
	ICE                 ICEConfig       `mapstructure:"ice"`
}

type ReconnectConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	// MaxElapsed of zero retries forever.
	MaxElapsed time.Duration `mapstructure:"max_elapsed"`
}

type RPCConfig struct {
	DefaultIdleTimeout  time.Duration `mapstructure:"default_idle_timeout"`
	DefaultPingInterval time.Duration `mapstructure:"default_ping_interval"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
}

type MediaConfig struct {
	Audio         bool   `mapstructure:"audio"`
	Video         bool   `mapstructure:"video"`
	AudioDeviceID string `mapstructure:"audio_device_id"`
	VideoDeviceID string `mapstructure:"video_device_id"`
	// FailDevices are device ids the synthetic capture rejects.
	FailDevices []string `mapstructure:"fail_devices"`
}

type ICEConfig struct {
	StunURLs []string `mapstructure:"stun_urls"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("url", "")
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("control_addr", "127.0.0.1:8090")
	v.SetDefault("control_rate_limit", 20)
	v.SetDefault("control_rate_interval", "1s")
	v.SetDefault("transition_timeout", "10s")
	v.SetDefault("reconnect.initial_delay", "500ms")
	v.SetDefault("reconnect.multiplier", 2.0)
	v.SetDefault("reconnect.max_delay", "10s")
	v.SetDefault("reconnect.max_elapsed", "0s")
	v.SetDefault("rpc.default_idle_timeout", "10s")
	v.SetDefault("rpc.default_ping_interval", "3s")
	v.SetDefault("rpc.write_timeout", "5s")
	v.SetDefault("media.audio", true)
	v.SetDefault("media.video", true)
	v.SetDefault("media.fail_devices", []string{})
	v.SetDefault("ice.stun_urls", []string{"stun:stun.l.google.com:19302"})
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"url":          "url",
	"mode":         "mode",
	"log-level":    "log_level",
	"control-addr": "control_addr",
	"audio":        "media.audio",
	"video":        "media.video",
	"fail-device":  "media.fail_devices",
	"stun":         "ice.stun_urls",
}

// Load reads config/config.<CONFIG_ENV>.yaml, then VOICE_* environment
// variables, then the changed flags of flags, each overriding the previous.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	setDefaults(v)
	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errors.Wrapf(err, "bind flag %s", name)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Str("control_addr", cfg.ControlAddr).
		Dur("transition_timeout", cfg.TransitionTimeout).Msg("config ready")
	return &cfg, nil
}

var (
	ErrMissingURL        = errors.New("join url is not set")
	ErrInvalidMultiplier = errors.New("reconnect multiplier must be at least 1")
)

func (c *Config) validate() error {
	if c.URL == "" {
		return errors.WithStack(ErrMissingURL)
	}
	if c.Reconnect.Multiplier < 1 {
		return errors.WithStack(ErrInvalidMultiplier)
	}
	return nil
}
