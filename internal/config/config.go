package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Precedence: defaults, then the
// YAML file, then LINGOLINK_* environment overrides.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Classroom ClassroomConfig `yaml:"classroom"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Translate TranslateConfig `yaml:"translate"`
	History   HistoryConfig   `yaml:"history"`
	Log       LogConfig       `yaml:"log"`
}

type HTTPConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// JoinBaseURL is where /join?code=... redirects students; typically
	// the web client origin. Empty disables the redirect endpoint.
	JoinBaseURL string `yaml:"join_base_url"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// SendBuffer is the per-connection outbound queue length. A full
	// buffer counts as a delivery failure for that client only.
	SendBuffer int `yaml:"send_buffer"`
	// MessagesPerMinute is the per-connection inbound rate limit.
	MessagesPerMinute int `yaml:"messages_per_minute"`
}

type ClassroomConfig struct {
	// Expiry is the rolling idle expiry, extended on teacher heartbeats
	// and on successful student binds.
	Expiry time.Duration `yaml:"expiry"`
	// GracePeriod preserves a classroom after its teacher disconnects so
	// the same code can be reclaimed on reconnect.
	GracePeriod time.Duration `yaml:"grace_period"`
	// MaxLifetime caps a session's total wall-clock lifetime regardless
	// of heartbeats.
	MaxLifetime   time.Duration `yaml:"max_lifetime"`
	MaxStudents   int           `yaml:"max_students"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type IngestConfig struct {
	// MaxUtteranceBytes bounds one assembled utterance.
	MaxUtteranceBytes int `yaml:"max_utterance_bytes"`
	// InactivityTimeout discards a buffer that never saw its final chunk.
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	// QueueSize is the utterance channel depth between ingestion and the
	// fan-out router.
	QueueSize int `yaml:"queue_size"`
}

type TranslateConfig struct {
	// Mode selects the provider: "http" or "mock".
	Mode     string        `yaml:"mode"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	// SynthesizeAudio asks the provider for TTS audio on each unit.
	SynthesizeAudio bool `yaml:"synthesize_audio"`
}

type HistoryConfig struct {
	Path string `yaml:"path"`
	// ReplayLimit is how many recent units a late joiner receives.
	ReplayLimit int `yaml:"replay_limit"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns production-ready defaults sized for a single classroom
// server (tens of classrooms, tens of students each).
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval:      30 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      10 * time.Second,
			SendBuffer:        100,
			MessagesPerMinute: 300,
		},
		Classroom: ClassroomConfig{
			Expiry:        10 * time.Minute,
			GracePeriod:   2 * time.Minute,
			MaxLifetime:   4 * time.Hour,
			MaxStudents:   100,
			SweepInterval: 30 * time.Second,
		},
		Ingest: IngestConfig{
			MaxUtteranceBytes: 4 * 1024 * 1024,
			InactivityTimeout: 15 * time.Second,
			SweepInterval:     5 * time.Second,
			QueueSize:         256,
		},
		Translate: TranslateConfig{
			Mode:            "mock",
			Timeout:         20 * time.Second,
			SynthesizeAudio: true,
		},
		History: HistoryConfig{
			Path:        "./lingolink.db",
			ReplayLimit: 50,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the effective configuration. path may be empty, in which
// case only defaults and environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envString("LINGOLINK_HTTP_HOST", &cfg.HTTP.Host)
	envInt("LINGOLINK_HTTP_PORT", &cfg.HTTP.Port)
	envString("LINGOLINK_JOIN_BASE_URL", &cfg.HTTP.JoinBaseURL)
	envDuration("LINGOLINK_WS_PING_INTERVAL", &cfg.WebSocket.PingInterval)
	envDuration("LINGOLINK_WS_READ_TIMEOUT", &cfg.WebSocket.ReadTimeout)
	envInt("LINGOLINK_WS_SEND_BUFFER", &cfg.WebSocket.SendBuffer)
	envDuration("LINGOLINK_CLASSROOM_EXPIRY", &cfg.Classroom.Expiry)
	envDuration("LINGOLINK_CLASSROOM_GRACE_PERIOD", &cfg.Classroom.GracePeriod)
	envDuration("LINGOLINK_CLASSROOM_MAX_LIFETIME", &cfg.Classroom.MaxLifetime)
	envInt("LINGOLINK_CLASSROOM_MAX_STUDENTS", &cfg.Classroom.MaxStudents)
	envString("LINGOLINK_TRANSLATE_MODE", &cfg.Translate.Mode)
	envString("LINGOLINK_TRANSLATE_ENDPOINT", &cfg.Translate.Endpoint)
	envDuration("LINGOLINK_TRANSLATE_TIMEOUT", &cfg.Translate.Timeout)
	envString("LINGOLINK_HISTORY_PATH", &cfg.History.Path)
	envString("LINGOLINK_LOG_LEVEL", &cfg.Log.Level)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate rejects configurations that would misbehave at runtime rather
// than failing loudly at startup.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("http host cannot be empty")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket intervals must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket send buffer must be positive")
	}
	if c.WebSocket.MessagesPerMinute <= 0 {
		return fmt.Errorf("websocket rate limit must be positive")
	}
	if c.Classroom.Expiry <= 0 || c.Classroom.GracePeriod <= 0 || c.Classroom.SweepInterval <= 0 {
		return fmt.Errorf("classroom durations must be positive")
	}
	if c.Classroom.MaxLifetime <= c.Classroom.Expiry {
		return fmt.Errorf("classroom max lifetime must exceed the rolling expiry")
	}
	if c.Classroom.MaxStudents <= 0 {
		return fmt.Errorf("classroom max students must be positive")
	}
	if c.Ingest.MaxUtteranceBytes <= 0 || c.Ingest.QueueSize <= 0 {
		return fmt.Errorf("ingest sizes must be positive")
	}
	if c.Ingest.InactivityTimeout <= 0 || c.Ingest.SweepInterval <= 0 {
		return fmt.Errorf("ingest durations must be positive")
	}
	switch c.Translate.Mode {
	case "http":
		if c.Translate.Endpoint == "" {
			return fmt.Errorf("translate endpoint required in http mode")
		}
	case "mock":
	default:
		return fmt.Errorf("translate mode must be 'http' or 'mock', got %q", c.Translate.Mode)
	}
	if c.Translate.Timeout <= 0 {
		return fmt.Errorf("translate timeout must be positive")
	}
	if c.History.Path == "" {
		return fmt.Errorf("history path cannot be empty")
	}
	if c.History.ReplayLimit < 0 {
		return fmt.Errorf("history replay limit cannot be negative")
	}
	return nil
}
