package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate for out-of-range settings.
var ErrInvalid = errors.New("invalid config")

// Config holds all configuration for the application.
type Config struct {
	Port     string `yaml:"port"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`

	// Stroke storage. An empty RedisURL keeps strokes in memory.
	RedisURL        string        `yaml:"redis_url"`
	RedisSegmentTTL time.Duration `yaml:"redis_segment_ttl"`

	AllowedOrigins []string `yaml:"allowed_origins"`

	// Connection limits
	MaxConns      int           `yaml:"max_conns"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SendBuffer    int           `yaml:"send_buffer"`
	MaxFrameBytes int64         `yaml:"max_frame_bytes"`

	// Room retention
	MaxSegmentsPerRoom int           `yaml:"max_segments_per_room"`
	RoomEvictAfter     time.Duration `yaml:"room_evict_after"`

	// New WebSocket connections allowed per client IP per minute.
	ConnectRateLimit int `yaml:"connect_rate_limit"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:             "3000",
		Env:              "development",
		LogLevel:         "info",
		SendBuffer:       256,
		MaxFrameBytes:    64 << 10,
		ConnectRateLimit: 30,
	}
}

// Load builds the configuration from defaults, an optional .env file, an
// optional YAML file named by CONFIG_FILE and finally environment variables,
// each overriding the previous.
func Load() (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.Env, "ENV")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.RedisURL, "REDIS_URL")

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}

	var err error
	ints := []struct {
		key string
		dst *int
	}{
		{"MAX_CONNS", &c.MaxConns},
		{"SEND_BUFFER", &c.SendBuffer},
		{"MAX_SEGMENTS_PER_ROOM", &c.MaxSegmentsPerRoom},
		{"CONNECT_RATE_LIMIT", &c.ConnectRateLimit},
	}
	for _, f := range ints {
		if err = setInt(f.dst, f.key); err != nil {
			return err
		}
	}
	if v := os.Getenv("MAX_FRAME_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_FRAME_BYTES: %w", err)
		}
		c.MaxFrameBytes = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"REDIS_SEGMENT_TTL", &c.RedisSegmentTTL},
		{"IDLE_TIMEOUT", &c.IdleTimeout},
		{"ROOM_EVICT_AFTER", &c.RoomEvictAfter},
	}
	for _, f := range durations {
		if err = setDuration(f.dst, f.key); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "production", "test":
	default:
		return fmt.Errorf("%w: unknown ENV %q", ErrInvalid, c.Env)
	}
	if c.Port == "" {
		return fmt.Errorf("%w: PORT is empty", ErrInvalid)
	}

	for name, v := range map[string]int64{
		"MAX_CONNS":             int64(c.MaxConns),
		"SEND_BUFFER":           int64(c.SendBuffer),
		"MAX_FRAME_BYTES":       c.MaxFrameBytes,
		"MAX_SEGMENTS_PER_ROOM": int64(c.MaxSegmentsPerRoom),
		"CONNECT_RATE_LIMIT":    int64(c.ConnectRateLimit),
		"REDIS_SEGMENT_TTL":     int64(c.RedisSegmentTTL),
		"IDLE_TIMEOUT":          int64(c.IdleTimeout),
		"ROOM_EVICT_AFTER":      int64(c.RoomEvictAfter),
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalid, name)
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// setDuration accepts Go duration strings ("90s", "5m") or a bare number of
// seconds.
func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
