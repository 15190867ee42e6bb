package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
http:
  port: 9090
classroom:
  expiry: 5m
  grace_period: 90s
  max_students: 25
translate:
  mode: http
  endpoint: http://localhost:7000/translate
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Minute, cfg.Classroom.Expiry)
	assert.Equal(t, 90*time.Second, cfg.Classroom.GracePeriod)
	assert.Equal(t, 25, cfg.Classroom.MaxStudents)
	assert.Equal(t, "http", cfg.Translate.Mode)
	// Untouched sections keep their defaults.
	assert.Equal(t, 100, cfg.WebSocket.SendBuffer)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("LINGOLINK_HTTP_PORT", "7777")
	t.Setenv("LINGOLINK_CLASSROOM_EXPIRY", "3m")
	t.Setenv("LINGOLINK_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.HTTP.Port)
	assert.Equal(t, 3*time.Minute, cfg.Classroom.Expiry)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.HTTP.Port = 0 }},
		{"read timeout below ping", func(c *Config) { c.WebSocket.ReadTimeout = c.WebSocket.PingInterval }},
		{"zero students", func(c *Config) { c.Classroom.MaxStudents = 0 }},
		{"lifetime below expiry", func(c *Config) { c.Classroom.MaxLifetime = c.Classroom.Expiry }},
		{"http mode without endpoint", func(c *Config) { c.Translate.Mode = "http"; c.Translate.Endpoint = "" }},
		{"unknown translate mode", func(c *Config) { c.Translate.Mode = "carrier-pigeon" }},
		{"empty history path", func(c *Config) { c.History.Path = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
