package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Audio      AudioConfig      `yaml:"audio"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Events     EventsConfig     `yaml:"events"`
	LogLevel   string           `yaml:"log_level"`
}

// AudioConfig holds audio capture settings.
type AudioConfig struct {
	Device     string           `yaml:"device"` // empty = system default
	SampleRate uint32           `yaml:"sample_rate"`
	Channels   uint32           `yaml:"channels"`
	BufferMS   uint32           `yaml:"buffer_ms"`
	QueueSize  int              `yaml:"queue_size"`
	Processing ProcessingConfig `yaml:"processing"`
	VAD        VADConfig        `yaml:"vad"`
}

// ProcessingConfig toggles the DSP stages.
type ProcessingConfig struct {
	Gain             float32 `yaml:"gain"`
	NoiseSuppression bool    `yaml:"noise_suppression"`
	AGC              bool    `yaml:"agc"`
	EchoSuppression  bool    `yaml:"echo_suppression"`
}

// VADConfig holds voice activity detection settings.
type VADConfig struct {
	Threshold float32       `yaml:"threshold"`
	Hangover  time.Duration `yaml:"hangover"`
}

// TranscribeConfig holds transcription backend settings.
type TranscribeConfig struct {
	Backend   string          `yaml:"backend"` // "auto", "remote", "local", or "simulated"
	Model     string          `yaml:"model"`
	ModelsDir string          `yaml:"models_dir"`
	Threads   int             `yaml:"threads"`
	Language  string          `yaml:"language"`
	GPU       bool            `yaml:"gpu"`
	Remote    RemoteConfig    `yaml:"remote"`
	Streaming StreamingConfig `yaml:"streaming"`
}

// RemoteConfig holds remote API settings.
type RemoteConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxPayloadMB   int           `yaml:"max_payload_mb"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	HTTP2          bool          `yaml:"http2"`
	StreamURL      string        `yaml:"stream_url"`
}

// StreamingConfig holds streaming session settings.
type StreamingConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxReconnects int           `yaml:"max_reconnects"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
}

// EventsConfig holds event publishing settings.
type EventsConfig struct {
	RedisAddr    string `yaml:"redis_addr"` // empty disables publishing
	RedisChannel string `yaml:"redis_channel"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "voicecore")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultModelsDir returns the default model storage directory.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "models"
	}
	return filepath.Join(home, ".local", "share", "voicecore", "models")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			BufferMS:   50,
			QueueSize:  100,
			Processing: ProcessingConfig{Gain: 1.0},
			VAD: VADConfig{
				Threshold: 0.01,
				Hangover:  2 * time.Second,
			},
		},
		Transcribe: TranscribeConfig{
			Backend:   "auto",
			Model:     "base.en",
			ModelsDir: DefaultModelsDir(),
			Threads:   4,
			Language:  "auto",
			GPU:       true,
			Remote: RemoteConfig{
				BaseURL:        "https://api.openai.com",
				Model:          "whisper-1",
				Timeout:        60 * time.Second,
				MaxPayloadMB:   25,
				MaxConcurrency: 4,
				HTTP2:          true,
			},
			Streaming: StreamingConfig{
				FlushInterval: 3 * time.Second,
				MaxReconnects: 5,
				MaxBackoff:    30 * time.Second,
			},
		},
		Events: EventsConfig{
			RedisChannel: "voicecore.events",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home
// directory, and an empty remote.api_key is read from VOICECORE_API_KEY or
// OPENAI_API_KEY.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Transcribe.ModelsDir = expandTilde(cfg.Transcribe.ModelsDir)
	cfg.ApplyEnv()

	return cfg, nil
}

// ApplyEnv fills secrets from the environment when the file leaves them empty.
func (c *Config) ApplyEnv() {
	if c.Transcribe.Remote.APIKey != "" {
		return
	}
	for _, name := range []string{"VOICECORE_API_KEY", "OPENAI_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			c.Transcribe.Remote.APIKey = v
			return
		}
	}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Audio.SampleRate == 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}

	if c.Audio.Channels == 0 {
		return fmt.Errorf("audio.channels must be > 0")
	}

	if c.Audio.BufferMS == 0 {
		return fmt.Errorf("audio.buffer_ms must be > 0")
	}

	if c.Audio.QueueSize <= 0 {
		return fmt.Errorf("audio.queue_size must be > 0")
	}

	if c.Audio.VAD.Threshold < 0 || c.Audio.VAD.Threshold > 1 {
		return fmt.Errorf("audio.vad.threshold must be between 0 and 1, got %v", c.Audio.VAD.Threshold)
	}

	switch c.Transcribe.Backend {
	case "auto", "remote", "local", "simulated":
	default:
		return fmt.Errorf("transcribe.backend must be auto, remote, local, or simulated, got %q", c.Transcribe.Backend)
	}

	if c.Transcribe.Model == "" {
		return fmt.Errorf("transcribe.model must not be empty")
	}

	if c.Transcribe.Threads <= 0 {
		return fmt.Errorf("transcribe.threads must be > 0")
	}

	if c.Transcribe.Remote.MaxPayloadMB <= 0 {
		return fmt.Errorf("transcribe.remote.max_payload_mb must be > 0")
	}

	if c.Transcribe.Remote.MaxConcurrency <= 0 {
		return fmt.Errorf("transcribe.remote.max_concurrency must be > 0")
	}

	if c.Transcribe.Backend == "remote" && c.Transcribe.Remote.APIKey == "" {
		return fmt.Errorf("transcribe.remote.api_key is required for the remote backend (or set VOICECORE_API_KEY)")
	}

	if c.Transcribe.Streaming.FlushInterval <= 0 {
		return fmt.Errorf("transcribe.streaming.flush_interval must be > 0")
	}

	if c.Transcribe.Streaming.MaxReconnects < 0 {
		return fmt.Errorf("transcribe.streaming.max_reconnects must be >= 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// BufferDuration returns audio.buffer_ms as a duration.
func (c *Config) BufferDuration() time.Duration {
	return time.Duration(c.Audio.BufferMS) * time.Millisecond
}

// ParseLogLevel maps a config log level to slog. Unknown values map to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultConfigYAML = `# voicecore configuration
# Generated with defaults; edit as needed.

log_level: info   # debug, info, warn, error

audio:
  device: ""        # empty = system default; see --list-devices
  sample_rate: 16000
  channels: 1
  buffer_ms: 50
  queue_size: 100
  processing:
    gain: 1.0
    noise_suppression: false
    agc: false
    echo_suppression: false
  vad:
    threshold: 0.01
    hangover: 2s

transcribe:
  backend: auto     # auto, remote, local, simulated
  model: base.en
  models_dir: ~/.local/share/voicecore/models
  threads: 4
  language: auto
  gpu: true
  remote:
    base_url: https://api.openai.com
    api_key: ""     # or set VOICECORE_API_KEY
    model: whisper-1
    timeout: 60s
    max_payload_mb: 25
    max_concurrency: 4
    http2: true
    stream_url: ""  # ws:// endpoint for streaming sessions
  streaming:
    flush_interval: 3s
    max_reconnects: 5
    max_backoff: 30s

events:
  redis_addr: ""    # host:port to publish events, empty disables
  redis_channel: voicecore.events
`

// WriteDefault writes a commented default config to DefaultConfigPath and
// returns its path. An existing file is left untouched and "" is returned.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0644); err != nil {
		return "", fmt.Errorf("writing default config: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
