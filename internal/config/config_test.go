package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Audio.SampleRate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 1 {
		t.Errorf("Audio.Channels = %d, want 1", cfg.Audio.Channels)
	}
	if cfg.Audio.BufferMS != 50 {
		t.Errorf("Audio.BufferMS = %d, want 50", cfg.Audio.BufferMS)
	}
	if cfg.Audio.QueueSize != 100 {
		t.Errorf("Audio.QueueSize = %d, want 100", cfg.Audio.QueueSize)
	}
	if cfg.Audio.VAD.Hangover != 2*time.Second {
		t.Errorf("Audio.VAD.Hangover = %v, want 2s", cfg.Audio.VAD.Hangover)
	}
	if cfg.Transcribe.Backend != "auto" {
		t.Errorf("Transcribe.Backend = %q, want %q", cfg.Transcribe.Backend, "auto")
	}
	if cfg.Transcribe.Model != "base.en" {
		t.Errorf("Transcribe.Model = %q, want %q", cfg.Transcribe.Model, "base.en")
	}
	if cfg.Transcribe.Remote.MaxPayloadMB != 25 {
		t.Errorf("Remote.MaxPayloadMB = %d, want 25", cfg.Transcribe.Remote.MaxPayloadMB)
	}
	if cfg.Transcribe.Streaming.FlushInterval != 3*time.Second {
		t.Errorf("Streaming.FlushInterval = %v, want 3s", cfg.Transcribe.Streaming.FlushInterval)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.BufferDuration() != 50*time.Millisecond {
		t.Errorf("BufferDuration() = %v, want 50ms", cfg.BufferDuration())
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
audio:
  device: "usb-mic"
  sample_rate: 48000
  channels: 2
  processing:
    gain: 1.5
    agc: true
  vad:
    threshold: 0.02
    hangover: 1500ms
transcribe:
  backend: remote
  model: small
  remote:
    api_key: sk-test
    timeout: 10s
    stream_url: ws://localhost:9000/stream
  streaming:
    flush_interval: 500ms
events:
  redis_addr: localhost:6379
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Audio.Device != "usb-mic" {
		t.Errorf("Audio.Device = %q, want %q", cfg.Audio.Device, "usb-mic")
	}
	if cfg.Audio.SampleRate != 48000 || cfg.Audio.Channels != 2 {
		t.Errorf("Audio = %dHz %dch, want 48000Hz 2ch", cfg.Audio.SampleRate, cfg.Audio.Channels)
	}
	if cfg.Audio.BufferMS != 50 {
		t.Errorf("Audio.BufferMS = %d, want default 50", cfg.Audio.BufferMS)
	}
	if cfg.Audio.Processing.Gain != 1.5 || !cfg.Audio.Processing.AGC {
		t.Errorf("Audio.Processing = %+v", cfg.Audio.Processing)
	}
	if cfg.Audio.VAD.Hangover != 1500*time.Millisecond {
		t.Errorf("Audio.VAD.Hangover = %v, want 1.5s", cfg.Audio.VAD.Hangover)
	}
	if cfg.Transcribe.Backend != "remote" || cfg.Transcribe.Model != "small" {
		t.Errorf("Transcribe = %q/%q", cfg.Transcribe.Backend, cfg.Transcribe.Model)
	}
	if cfg.Transcribe.Remote.Timeout != 10*time.Second {
		t.Errorf("Remote.Timeout = %v, want 10s", cfg.Transcribe.Remote.Timeout)
	}
	if cfg.Transcribe.Remote.Model != "whisper-1" {
		t.Errorf("Remote.Model = %q, want default whisper-1", cfg.Transcribe.Remote.Model)
	}
	if cfg.Transcribe.Streaming.FlushInterval != 500*time.Millisecond {
		t.Errorf("Streaming.FlushInterval = %v", cfg.Transcribe.Streaming.FlushInterval)
	}
	if cfg.Events.RedisAddr != "localhost:6379" {
		t.Errorf("Events.RedisAddr = %q", cfg.Events.RedisAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
transcribe:
  models_dir: ~/models
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := filepath.Join(home, "models")
	if cfg.Transcribe.ModelsDir != expected {
		t.Errorf("ModelsDir = %q, want %q", cfg.Transcribe.ModelsDir, expected)
	}
}

func TestLoadAPIKeyFromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("log_level: info\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("VOICECORE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Transcribe.Remote.APIKey != "sk-openai" {
		t.Errorf("APIKey = %q, want OPENAI_API_KEY fallback", cfg.Transcribe.Remote.APIKey)
	}

	t.Setenv("VOICECORE_API_KEY", "sk-voicecore")
	cfg, err = Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Transcribe.Remote.APIKey != "sk-voicecore" {
		t.Errorf("APIKey = %q, want VOICECORE_API_KEY", cfg.Transcribe.Remote.APIKey)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	content := "transcribe:\n  streaming:\n    flush_interval: soon\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should reject an unparseable duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "zero sample rate",
			modify:  func(c *Config) { c.Audio.SampleRate = 0 },
			wantErr: true,
		},
		{
			name:    "zero channels",
			modify:  func(c *Config) { c.Audio.Channels = 0 },
			wantErr: true,
		},
		{
			name:    "zero buffer",
			modify:  func(c *Config) { c.Audio.BufferMS = 0 },
			wantErr: true,
		},
		{
			name:    "zero queue size",
			modify:  func(c *Config) { c.Audio.QueueSize = 0 },
			wantErr: true,
		},
		{
			name:    "vad threshold out of range",
			modify:  func(c *Config) { c.Audio.VAD.Threshold = 2 },
			wantErr: true,
		},
		{
			name:    "unknown backend",
			modify:  func(c *Config) { c.Transcribe.Backend = "whisper" },
			wantErr: true,
		},
		{
			name:    "empty model",
			modify:  func(c *Config) { c.Transcribe.Model = "" },
			wantErr: true,
		},
		{
			name:    "zero threads",
			modify:  func(c *Config) { c.Transcribe.Threads = 0 },
			wantErr: true,
		},
		{
			name: "remote backend without api key",
			modify: func(c *Config) {
				c.Transcribe.Backend = "remote"
				c.Transcribe.Remote.APIKey = ""
			},
			wantErr: true,
		},
		{
			name: "remote backend with api key",
			modify: func(c *Config) {
				c.Transcribe.Backend = "remote"
				c.Transcribe.Remote.APIKey = "sk-test"
			},
			wantErr: false,
		},
		{
			name:    "zero payload limit",
			modify:  func(c *Config) { c.Transcribe.Remote.MaxPayloadMB = 0 },
			wantErr: true,
		},
		{
			name:    "zero remote concurrency",
			modify:  func(c *Config) { c.Transcribe.Remote.MaxConcurrency = 0 },
			wantErr: true,
		},
		{
			name:    "zero flush interval",
			modify:  func(c *Config) { c.Transcribe.Streaming.FlushInterval = 0 },
			wantErr: true,
		},
		{
			name:    "negative reconnects",
			modify:  func(c *Config) { c.Transcribe.Streaming.MaxReconnects = -1 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "voicecore", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# voicecore") {
		t.Error("written config should start with header comment")
	}

	// Should be valid YAML that parses into the defaults
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	def := Default()
	if cfg.Audio != def.Audio {
		t.Errorf("written audio config = %+v, want %+v", cfg.Audio, def.Audio)
	}
	if cfg.Transcribe.Streaming != def.Transcribe.Streaming {
		t.Errorf("written streaming config = %+v, want %+v", cfg.Transcribe.Streaming, def.Transcribe.Streaming)
	}
	if cfg.Transcribe.Remote.Timeout != def.Transcribe.Remote.Timeout {
		t.Errorf("written remote timeout = %v", cfg.Transcribe.Remote.Timeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "voicecore")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}
