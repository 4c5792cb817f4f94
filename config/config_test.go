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
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100*time.Millisecond, cfg.Capture.ChunkInterval)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convo.yaml")
	yamlDoc := `
server:
  url: ws://agents.example:9000
  agent_id: from-file
capture:
  sample_rate: 24000
  chunk_interval: 250ms
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	t.Setenv("CONVO_AGENT_ID", "from-env")
	t.Setenv("CONVO_SEND_BUFFER", "8")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://agents.example:9000", cfg.Server.URL)
	assert.Equal(t, "from-env", cfg.Server.AgentID)
	assert.Equal(t, 24000, cfg.Capture.SampleRate)
	assert.Equal(t, 250*time.Millisecond, cfg.Capture.ChunkInterval)
	assert.Equal(t, 8, cfg.Transport.SendBuffer)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched sections keep their defaults
	assert.Equal(t, 1024, cfg.Playback.FramesPerBuffer)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad duration", env: map[string]string{"CONVO_CHUNK_INTERVAL": "soon"}},
		{name: "bad integer", env: map[string]string{"CONVO_SAMPLE_RATE": "lots"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := cfg.applyEnv(func(k string) (string, bool) {
				v, ok := tt.env[k]
				return v, ok
			})
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "http scheme", mutate: func(c *Config) { c.Server.URL = "http://localhost:8000" }, wantErr: "server config"},
		{name: "no host", mutate: func(c *Config) { c.Server.URL = "ws://" }, wantErr: "server config"},
		{name: "zero send buffer", mutate: func(c *Config) { c.Transport.SendBuffer = 0 }, wantErr: "transport config"},
		{name: "tiny chunk interval", mutate: func(c *Config) { c.Capture.ChunkInterval = time.Millisecond }, wantErr: "capture config"},
		{name: "three channels", mutate: func(c *Config) { c.Capture.Channels = 3 }, wantErr: "capture config"},
		{name: "small playback buffer", mutate: func(c *Config) { c.Playback.FramesPerBuffer = 1 }, wantErr: "playback config"},
		{name: "unknown level", mutate: func(c *Config) { c.Log.Level = "trace" }, wantErr: "log config"},
		{name: "unknown format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "log config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
