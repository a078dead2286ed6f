package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "MEET"

type VideoConfig struct {
	Width     int     `mapstructure:"width"`
	Height    int     `mapstructure:"height"`
	FrameRate float64 `mapstructure:"frame_rate"`
}

type Config struct {
	Mode   string `mapstructure:"mode"`
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`

	GatewayURL       string        `mapstructure:"gateway_url"`
	StringRoomIDs    bool          `mapstructure:"string_room_ids"`
	Bitrate          int           `mapstructure:"bitrate"`
	Publishers       int           `mapstructure:"publishers"`
	ICEServers       []string      `mapstructure:"ice_servers"`
	KeepAlivePeriod  time.Duration `mapstructure:"keepalive_period"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	ReconnectCeiling int           `mapstructure:"reconnect_ceiling"`

	StorePath string      `mapstructure:"store_path"`
	MediaDir  string      `mapstructure:"media_dir"`
	RecordDir string      `mapstructure:"record_dir"`
	Video     VideoConfig `mapstructure:"video"`

	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`

	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, dev by default.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads the given yaml file. A missing file leaves the defaults in
// place; MEET_* environment variables override both.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("gateway", cfg.GatewayURL).
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "meet-dev-secret")

	v.SetDefault("gateway_url", "ws://localhost:8188/janus")
	v.SetDefault("string_room_ids", false)
	v.SetDefault("bitrate", 512000)
	v.SetDefault("publishers", 30)
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("keepalive_period", "25s")
	v.SetDefault("reconnect_delay", "2s")
	v.SetDefault("reconnect_ceiling", 5)

	v.SetDefault("store_path", "meet.db")
	v.SetDefault("media_dir", "./media")
	v.SetDefault("record_dir", "")
	v.SetDefault("video.width", 1280)
	v.SetDefault("video.height", 720)
	v.SetDefault("video.frame_rate", 30)

	v.SetDefault("rate_limit", 5)
	v.SetDefault("rate_interval", "10s")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

func (c *Config) validate() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("config: gateway_url is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.ReconnectCeiling < 0 {
		return fmt.Errorf("config: reconnect_ceiling must not be negative")
	}
	return nil
}
