package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string         `mapstructure:"mode"`
	LogLevel string         `mapstructure:"log_level"`
	RTMP     RTMPConfig     `mapstructure:"rtmp"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	External ExternalConfig `mapstructure:"external"`
}

type RTMPConfig struct {
	Addr             string        `mapstructure:"addr"`
	MaxConnections   int           `mapstructure:"max_connections"`
	SendQueue        int           `mapstructure:"send_queue"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	// SlowSubscriber is "kick" or "drop".
	SlowSubscriber  string        `mapstructure:"slow_subscriber"`
	ConnectLimit    int           `mapstructure:"connect_limit"`
	ConnectInterval time.Duration `mapstructure:"connect_interval"`
}

// ProtocolConfig holds the values announced to every client on connect.
type ProtocolConfig struct {
	WindowAckSize   uint32 `mapstructure:"window_ack_size"`
	PeerBandwidth   uint32 `mapstructure:"peer_bandwidth"`
	ChunkSize       uint32 `mapstructure:"chunk_size"`
	MessageStreamID uint32 `mapstructure:"message_stream_id"`
}

type HTTPConfig struct {
	Addr       string        `mapstructure:"addr"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
}

type ExternalConfig struct {
	Service struct {
		Host string `mapstructure:"host"`
	} `mapstructure:"service"`
	Transcoding struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"transcoding"`
	Retries    int           `mapstructure:"retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

var defaults = map[string]any{
	"mode":      "release",
	"log_level": "info",

	"rtmp.addr":              ":1935",
	"rtmp.max_connections":   0,
	"rtmp.send_queue":        256,
	"rtmp.write_timeout":     "5s",
	"rtmp.handshake_timeout": "10s",
	"rtmp.idle_timeout":      "0s",
	"rtmp.slow_subscriber":   "kick",
	"rtmp.connect_limit":     0,
	"rtmp.connect_interval":  "1m",

	"protocol.window_ack_size":   5000000,
	"protocol.peer_bandwidth":    5000000,
	"protocol.chunk_size":        4096,
	"protocol.message_stream_id": 1,

	"http.addr":        ":8080",
	"http.read_limit":  4096,
	"http.ping_period": "54s",

	"external.service.host":     "",
	"external.transcoding.host": "",
	"external.transcoding.port": 0,
	"external.retries":          3,
	"external.retry_delay":      "500ms",
	"external.timeout":          "3s",
}

// Load reads config/config.<CONFIG_ENV>.yaml (CONFIG_ENV defaults to dev).
// LEMONAIR_* environment variables override the file, e.g.
// LEMONAIR_RTMP_ADDR for rtmp.addr.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return load(fmt.Sprintf("config/config.%s.yaml", env))
}

func load(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("LEMONAIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Str("rtmp", cfg.RTMP.Addr).
		Str("http", cfg.HTTP.Addr).
		Msg("config ready")
	return &cfg, nil
}
