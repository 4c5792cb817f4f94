package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the client reads.
const EnvPrefix = "CONVO_"

// Config is the complete client configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Capture   CaptureConfig   `yaml:"capture"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig locates the remote agent.
type ServerConfig struct {
	URL              string        `yaml:"url"`      // ws://host:port, the /ws/chat/<agent> path is appended
	AgentID          string        `yaml:"agent_id"` // default agent when none is given on start
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// TransportConfig tunes the websocket pumps.
type TransportConfig struct {
	WriteWait      time.Duration `yaml:"write_wait"`
	PongWait       time.Duration `yaml:"pong_wait"`
	SendBuffer     int           `yaml:"send_buffer"`      // outbound chunks queued before dropping
	MaxMessageSize int64         `yaml:"max_message_size"` // bytes, inbound
}

// CaptureConfig controls microphone capture.
type CaptureConfig struct {
	SampleRate    int           `yaml:"sample_rate"`
	Channels      int           `yaml:"channels"`
	ChunkInterval time.Duration `yaml:"chunk_interval"` // latency/overhead tradeoff of outbound audio
}

// PlaybackConfig controls the speaker output.
type PlaybackConfig struct {
	FramesPerBuffer int `yaml:"frames_per_buffer"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig controls the prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:              "ws://localhost:8000",
			HandshakeTimeout: 10 * time.Second,
		},
		Transport: TransportConfig{
			WriteWait:      10 * time.Second,
			PongWait:       60 * time.Second,
			SendBuffer:     32,
			MaxMessageSize: 4 << 20,
		},
		Capture: CaptureConfig{
			SampleRate:    16000,
			Channels:      1,
			ChunkInterval: 100 * time.Millisecond,
		},
		Playback: PlaybackConfig{
			FramesPerBuffer: 1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is not empty), then .env, then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}
	duration := func(key string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
		return nil
	}

	str("SERVER_URL", &c.Server.URL)
	str("AGENT_ID", &c.Server.AgentID)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_OUTPUT", &c.Log.Output)
	str("METRICS_ADDR", &c.Metrics.Addr)

	for key, dst := range map[string]*time.Duration{
		"HANDSHAKE_TIMEOUT": &c.Server.HandshakeTimeout,
		"WRITE_WAIT":        &c.Transport.WriteWait,
		"PONG_WAIT":         &c.Transport.PongWait,
		"CHUNK_INTERVAL":    &c.Capture.ChunkInterval,
	} {
		if err := duration(key, dst); err != nil {
			return err
		}
	}
	for key, dst := range map[string]*int{
		"SEND_BUFFER":       &c.Transport.SendBuffer,
		"SAMPLE_RATE":       &c.Capture.SampleRate,
		"CHANNELS":          &c.Capture.Channels,
		"FRAMES_PER_BUFFER": &c.Playback.FramesPerBuffer,
	} {
		if err := integer(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}
	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("url %q: %w", s.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", s.URL)
	}
	if s.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake_timeout must be positive, got %s", s.HandshakeTimeout)
	}
	return nil
}

// Validate validates transport configuration.
func (t *TransportConfig) Validate() error {
	if t.WriteWait <= 0 {
		return fmt.Errorf("write_wait must be positive, got %s", t.WriteWait)
	}
	if t.PongWait <= 0 {
		return fmt.Errorf("pong_wait must be positive, got %s", t.PongWait)
	}
	if t.SendBuffer < 1 {
		return fmt.Errorf("send_buffer must be at least 1, got %d", t.SendBuffer)
	}
	if t.MaxMessageSize < 1024 {
		return fmt.Errorf("max_message_size must be at least 1024 bytes, got %d", t.MaxMessageSize)
	}
	return nil
}

// Validate validates capture configuration.
func (a *CaptureConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}
	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}
	if a.ChunkInterval < 10*time.Millisecond || a.ChunkInterval > 5*time.Second {
		return fmt.Errorf("chunk_interval must be between 10ms and 5s, got %s", a.ChunkInterval)
	}
	return nil
}

// Validate validates playback configuration.
func (p *PlaybackConfig) Validate() error {
	if p.FramesPerBuffer < 64 {
		return fmt.Errorf("frames_per_buffer must be at least 64, got %d", p.FramesPerBuffer)
	}
	return nil
}

// Validate validates logging configuration.
func (l *LogConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}
	switch l.Format {
	case "json", "console":
	default:
		return fmt.Errorf("format must be 'json' or 'console', got '%s'", l.Format)
	}
	return nil
}
