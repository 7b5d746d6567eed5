package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/voicelink/internal/adapters/device"
	httpbridge "github.com/dkeye/voicelink/internal/adapters/http"
	"github.com/dkeye/voicelink/internal/adapters/rtc"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode         string `mapstructure:"mode"`
	LogLevel     string `mapstructure:"log_level"`
	Room         string `mapstructure:"room"`
	Identity     string `mapstructure:"identity"`
	DisplayName  string `mapstructure:"display_name"`
	Role         string `mapstructure:"role"`
	AllowPublish bool   `mapstructure:"allow_publish"`
	AutoPublish  bool   `mapstructure:"auto_publish"`

	Credential Credential `mapstructure:"credential"`
	Signal     Signal     `mapstructure:"signal"`
	Retry      Retry      `mapstructure:"retry"`
	WebRTC     rtc.Config `mapstructure:"webrtc"`
	Devices    Devices    `mapstructure:"devices"`
	HTTP       HTTP       `mapstructure:"http"`
}

// Credential configures the token service. A non-empty Token skips the
// service and is used as is against ServerAddress.
type Credential struct {
	URL           string        `mapstructure:"url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Token         string        `mapstructure:"token"`
	ServerAddress string        `mapstructure:"server_address"`
}

type Signal struct {
	Codec          string        `mapstructure:"codec"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	JoinTimeout    time.Duration `mapstructure:"join_timeout"`
	ResumeAttempts int           `mapstructure:"resume_attempts"`
	ResumeDelay    time.Duration `mapstructure:"resume_delay"`
}

type Retry struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
}

type Devices struct {
	device.Config `mapstructure:",squash"`
	Video         Video `mapstructure:"video"`
	Audio         Audio `mapstructure:"audio"`
}

type Video struct {
	Width      int    `mapstructure:"width"`
	Height     int    `mapstructure:"height"`
	FacingMode string `mapstructure:"facing_mode"`
}

type Audio struct {
	EchoCancellation bool `mapstructure:"echo_cancellation"`
	NoiseSuppression bool `mapstructure:"noise_suppression"`
}

type HTTP struct {
	Enabled           bool `mapstructure:"enabled"`
	Port              int  `mapstructure:"port"`
	httpbridge.Config `mapstructure:",squash"`
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"room":         "room",
	"identity":     "identity",
	"display-name": "display_name",
	"role":         "role",
	"publish":      "allow_publish",
	"auto-publish": "auto_publish",
	"token":        "credential.token",
	"server":       "credential.server_address",
	"token-url":    "credential.url",
	"codec":        "signal.codec",
	"max-retries":  "retry.max_retries",
	"retry-delay":  "retry.base_delay",
	"video-file":   "devices.video_file",
	"audio-file":   "devices.audio_file",
	"lock-dir":     "devices.lock_dir",
	"http":         "http.enabled",
	"http-port":    "http.port",
	"log-level":    "log_level",
}

// Load reads config/config.<CONFIG_ENV>.yaml (or path when given), then
// VOICE_* environment variables, then the flags that were set explicitly.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		path = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		log.Warn().Str("module", "config").Str("file", path).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Debug().Str("module", "config").
		Str("mode", cfg.Mode).
		Str("room", cfg.Room).
		Str("identity", cfg.Identity).
		Str("role", cfg.Role).
		Msg("config")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("room", "")
	v.SetDefault("identity", "")
	v.SetDefault("display_name", "")
	v.SetDefault("role", string(domain.RoleGuest))
	v.SetDefault("allow_publish", true)
	v.SetDefault("auto_publish", false)

	v.SetDefault("credential.url", "")
	v.SetDefault("credential.timeout", "10s")
	v.SetDefault("credential.token", "")
	v.SetDefault("credential.server_address", "")

	v.SetDefault("signal.codec", "json")
	v.SetDefault("signal.ping_period", "54s")
	v.SetDefault("signal.pong_wait", "60s")
	v.SetDefault("signal.read_limit", 65536)
	v.SetDefault("signal.join_timeout", "10s")
	v.SetDefault("signal.resume_attempts", 3)
	v.SetDefault("signal.resume_delay", "1s")

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", "1s")

	def := rtc.DefaultConfig()
	v.SetDefault("webrtc.log_level", def.LogLevel)
	v.SetDefault("webrtc.ice_servers", []map[string]any{{"urls": def.ICEServers[0].URLs}})

	v.SetDefault("devices.lock_dir", "")
	v.SetDefault("devices.video_file", "")
	v.SetDefault("devices.audio_file", "")
	v.SetDefault("devices.stream_id", "")
	v.SetDefault("devices.video.width", 1280)
	v.SetDefault("devices.video.height", 720)
	v.SetDefault("devices.video.facing_mode", "user")
	v.SetDefault("devices.audio.echo_cancellation", true)
	v.SetDefault("devices.audio.noise_suppression", true)

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.ping_period", "30s")
	v.SetDefault("http.rate_limit", 20)
	v.SetDefault("http.rate_window", "10s")
}

// Validate checks what cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Room) == "" {
		errs = append(errs, errors.New("room is required"))
	}
	if _, err := domain.ParseIdentity(c.Identity); err != nil {
		errs = append(errs, fmt.Errorf("identity: %w", err))
	}
	switch domain.Role(c.Role) {
	case domain.RoleHost, domain.RoleGuest, domain.RoleListener:
	default:
		errs = append(errs, fmt.Errorf("unknown role %q", c.Role))
	}
	if c.Credential.Token == "" && c.Credential.URL == "" {
		errs = append(errs, errors.New("credential.url or credential.token is required"))
	}
	if c.Credential.Token != "" && c.Credential.ServerAddress == "" {
		errs = append(errs, errors.New("credential.server_address is required with a static token"))
	}
	return errors.Join(errs...)
}
