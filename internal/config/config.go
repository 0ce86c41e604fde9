// Package config provides the configuration structure for the kokoro-tts service.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"

	"github.com/book-expert/kokoro-tts/internal/audio"
)

// Provider kinds.
const (
	ProviderExec = "exec"
	ProviderHTTP = "http"
)

// Storage backends.
const (
	StorageFile = "file"
	StorageNATS = "nats"
)

var (
	// ErrInvalidConfig is wrapped by every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// recommendedVoices are the Kokoro voices that read calm, clear English best.
var recommendedVoices = []string{
	"af_heart",
	"af_bella",
	"af_nicole",
	"af_sarah",
	"bf_emma",
	"bf_isabella",
	"am_michael",
	"am_fenrir",
	"bm_george",
	"bm_fable",
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host                   string `toml:"host"`
	Port                   int    `toml:"port"`
	ReadHeaderTimeoutSecs  int    `toml:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
	Debug                  bool   `toml:"debug"`
}

// TTSServiceConfig holds the synthesis provider and request policy.
type TTSServiceConfig struct {
	Provider          string   `toml:"provider"`
	Command           string   `toml:"command"`
	Endpoint          string   `toml:"endpoint"`
	Model             string   `toml:"model"`
	LangCode          string   `toml:"lang_code"`
	DefaultVoice      string   `toml:"default_voice"`
	DefaultSampleRate int      `toml:"default_sample_rate"`
	DefaultSpeed      float64  `toml:"default_speed"`
	MinSpeed          float64  `toml:"min_speed"`
	MaxSpeed          float64  `toml:"max_speed"`
	Voices            []string `toml:"voices"`
	RestrictVoices    bool     `toml:"restrict_voices"`
	TimeoutSeconds    int      `toml:"timeout_seconds"`
}

// AudioConfig holds the post-processing policy.
type AudioConfig struct {
	SilenceThreshold float64 `toml:"silence_threshold"`
	BacktrackSamples int     `toml:"backtrack_samples"`
	FadeMS           float64 `toml:"fade_ms"`
}

// StorageConfig selects where synthesized files are kept.
type StorageConfig struct {
	Backend   string `toml:"backend"`
	OutputDir string `toml:"output_dir"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	Embedded               bool   `toml:"embedded"`
	EmbeddedPort           int    `toml:"embedded_port"`
	StoreDir               string `toml:"store_dir"`
	WorkerEnabled          bool   `toml:"worker_enabled"`
	TextProcessedSubject   string `toml:"text_processed_subject"`
	TextObjectStoreBucket  string `toml:"text_object_store_bucket"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	AudioTTLHours          int    `toml:"audio_ttl_hours"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig     `toml:"server"`
	TTS     TTSServiceConfig `toml:"tts_service"`
	Audio   AudioConfig      `toml:"audio"`
	Storage StorageConfig    `toml:"storage"`
	NATS    NATSConfig       `toml:"nats"`
	Metrics MetricsConfig    `toml:"metrics"`
	Paths   PathsConfig      `toml:"paths"`
}

// Load loads the configuration through the central configurator.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	err := configurator.Load(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finalize(cfg)
}

// LoadFile loads the configuration from a local TOML file. Keys missing from the
// file keep their default values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}

	cfg := Default()

	err = toml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode configuration file %s: %w", path, err)
	}

	return finalize(cfg)
}

func finalize(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()

	return cfg
}

// ApplyDefaults fills zero-valued fields. Booleans are left as they are.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Server.Host, "0.0.0.0")
	setDefault(&c.Server.Port, 8000)
	setDefault(&c.Server.ReadHeaderTimeoutSecs, 5)
	setDefault(&c.Server.ShutdownTimeoutSeconds, 10)

	setDefault(&c.TTS.Provider, ProviderExec)
	setDefault(&c.TTS.Command, "python3 scripts/kokoro_worker.py")
	setDefault(&c.TTS.Endpoint, "http://localhost:8880")
	setDefault(&c.TTS.Model, "kokoro")
	setDefault(&c.TTS.LangCode, "a")
	setDefault(&c.TTS.DefaultVoice, "af_heart")
	setDefault(&c.TTS.DefaultSampleRate, audio.DEFAULT_SAMPLE_RATE)
	setDefault(&c.TTS.DefaultSpeed, 0.5)
	setDefault(&c.TTS.MinSpeed, 0.25)
	setDefault(&c.TTS.MaxSpeed, 1.0)
	setDefault(&c.TTS.TimeoutSeconds, 120)

	if len(c.TTS.Voices) == 0 {
		c.TTS.Voices = append([]string(nil), recommendedVoices...)
	}

	setDefault(&c.Audio.SilenceThreshold, audio.DEFAULT_SILENCE_THRESHOLD)
	setDefault(&c.Audio.BacktrackSamples, audio.DEFAULT_BACKTRACK_SAMPLES)
	setDefault(&c.Audio.FadeMS, audio.DEFAULT_FADE_MS)

	setDefault(&c.Storage.Backend, StorageFile)
	setDefault(&c.Storage.OutputDir, "outputs")

	setDefault(&c.NATS.EmbeddedPort, 4222)
	setDefault(&c.NATS.StoreDir, "./data/nats")
	setDefault(&c.NATS.TextProcessedSubject, "text.processed")
	setDefault(&c.NATS.TextObjectStoreBucket, "TEXT_FILES")
	setDefault(&c.NATS.AudioObjectStoreBucket, "AUDIO_FILES")

	setDefault(&c.Metrics.ServiceName, "kokoro-tts")
	setDefault(&c.Paths.BaseLogsDir, "logs")
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.TTS.Provider {
	case ProviderExec, ProviderHTTP:
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.TTS.Provider)
	}

	if c.TTS.MinSpeed <= 0 || c.TTS.MinSpeed > c.TTS.MaxSpeed {
		return fmt.Errorf("%w: speed range [%g, %g] is empty", ErrInvalidConfig, c.TTS.MinSpeed, c.TTS.MaxSpeed)
	}

	if c.TTS.DefaultSpeed < c.TTS.MinSpeed || c.TTS.DefaultSpeed > c.TTS.MaxSpeed {
		return fmt.Errorf("%w: default speed %g outside [%g, %g]",
			ErrInvalidConfig, c.TTS.DefaultSpeed, c.TTS.MinSpeed, c.TTS.MaxSpeed)
	}

	err := audio.ValidateSampleRate(c.TTS.DefaultSampleRate)
	if err != nil {
		return fmt.Errorf("%w: default sample rate: %w", ErrInvalidConfig, err)
	}

	err = c.AudioSettings().Validate()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch c.Storage.Backend {
	case StorageFile:
	case StorageNATS:
		if !c.NATS.Enabled() {
			return fmt.Errorf("%w: storage backend nats needs nats.url or nats.embedded", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Storage.Backend)
	}

	if c.NATS.WorkerEnabled && !c.NATS.Enabled() {
		return fmt.Errorf("%w: nats worker needs nats.url or nats.embedded", ErrInvalidConfig)
	}

	return nil
}

// AudioSettings converts the audio section into pipeline settings.
func (c *Config) AudioSettings() audio.Settings {
	return audio.Settings{
		SilenceThreshold: c.Audio.SilenceThreshold,
		BacktrackSamples: c.Audio.BacktrackSamples,
		FadeMS:           c.Audio.FadeMS,
	}
}

// Addr returns the host:port the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Timeout returns the provider timeout.
func (t TTSServiceConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// Enabled reports whether any NATS connection is configured.
func (n NATSConfig) Enabled() bool {
	return n.URL != "" || n.Embedded
}

// AudioTTL returns the retention of the audio bucket.
func (n NATSConfig) AudioTTL() time.Duration {
	return time.Duration(n.AudioTTLHours) * time.Hour
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}
