// Package config loads and validates the gateway configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Models    ModelsConfig    `yaml:"models"`
	Audio     AudioConfig     `yaml:"audio"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Identify  IdentifyConfig  `yaml:"identify"`
	Pool      PoolConfig      `yaml:"pool"`
	Registry  RegistryConfig  `yaml:"registry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	Port int    `yaml:"port"`
}

func (c *ServerConfig) setDefaults() {
	if c.Addr == "" {
		c.Addr = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Port)
	}
	return nil
}

// ModelsConfig names the models each pipeline loads.
type ModelsConfig struct {
	// Root is the directory models are unpacked under.
	Root string `yaml:"root"`

	ASR     string `yaml:"asr"`
	TTS     string `yaml:"tts"`
	Speaker string `yaml:"speaker"`

	// Threshold is the speaker acceptance threshold. Model-specific
	// overrides may apply when this is left at the default.
	Threshold float32 `yaml:"threshold"`
}

func (c *ModelsConfig) setDefaults() {
	if c.Root == "" {
		c.Root = "models"
	}
	if c.ASR == "" {
		c.ASR = "zipformer-streaming"
	}
	if c.TTS == "" {
		c.TTS = "vits-melo"
	}
	if c.Speaker == "" {
		c.Speaker = "3dspeaker"
	}
	if c.Threshold == 0 {
		c.Threshold = 0.7
	}
}

func (c *ModelsConfig) Validate() error {
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return fmt.Errorf("models.threshold %v out of range (0, 1)", c.Threshold)
	}
	return nil
}

// AudioConfig sets client-facing audio parameters.
type AudioConfig struct {
	// SampleRate is the default rate when a client does not declare
	// one.
	SampleRate int `yaml:"sample_rate"`

	// ChunkSize is the default samples per synthesized chunk.
	ChunkSize int `yaml:"chunk_size"`
}

func (c *AudioConfig) setDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 1024
	}
}

func (c *AudioConfig) Validate() error {
	if c.SampleRate < 8000 || c.SampleRate > 48000 {
		return fmt.Errorf("audio.sample_rate %d out of range [8000, 48000]", c.SampleRate)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("audio.chunk_size must be positive")
	}
	return nil
}

// SynthesisConfig sets TTS defaults.
type SynthesisConfig struct {
	Speed   float32 `yaml:"speed"`
	Split   *bool   `yaml:"split"`
	PauseMs int     `yaml:"pause_ms"`
}

func (c *SynthesisConfig) setDefaults() {
	if c.Speed == 0 {
		c.Speed = 1.0
	}
	if c.Split == nil {
		v := true
		c.Split = &v
	}
	if c.PauseMs == 0 {
		c.PauseMs = 200
	}
}

func (c *SynthesisConfig) Validate() error {
	if c.Speed <= 0 {
		return fmt.Errorf("synthesis.speed must be positive")
	}
	if c.PauseMs < 0 {
		return fmt.Errorf("synthesis.pause_ms must not be negative")
	}
	return nil
}

// Pause returns the inter-segment pause as a duration.
func (c *SynthesisConfig) Pause() time.Duration {
	return time.Duration(c.PauseMs) * time.Millisecond
}

// IdentifyConfig sets speaker identification windows.
type IdentifyConfig struct {
	// MinSeconds of audio per identification verdict.
	MinSeconds float64 `yaml:"min_seconds"`

	// EnrollSeconds of audio per enrollment.
	EnrollSeconds float64 `yaml:"enroll_seconds"`
}

func (c *IdentifyConfig) setDefaults() {
	if c.MinSeconds == 0 {
		c.MinSeconds = 3.0
	}
	if c.EnrollSeconds == 0 {
		c.EnrollSeconds = 5.0
	}
}

func (c *IdentifyConfig) Validate() error {
	if c.MinSeconds <= 0 {
		return fmt.Errorf("identify.min_seconds must be positive")
	}
	if c.EnrollSeconds < c.MinSeconds {
		return fmt.Errorf("identify.enroll_seconds %v below min_seconds %v",
			c.EnrollSeconds, c.MinSeconds)
	}
	return nil
}

// Window returns the identification window as a duration.
func (c *IdentifyConfig) Window() time.Duration {
	return time.Duration(c.MinSeconds * float64(time.Second))
}

// EnrollWindow returns the enrollment minimum as a duration.
func (c *IdentifyConfig) EnrollWindow() time.Duration {
	return time.Duration(c.EnrollSeconds * float64(time.Second))
}

// PoolConfig bounds engine concurrency.
type PoolConfig struct {
	Workers int `yaml:"workers"`
}

func (c *PoolConfig) setDefaults() {
	if c.Workers == 0 {
		c.Workers = 8
	}
}

func (c *PoolConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("pool.workers must be positive")
	}
	return nil
}

// RegistryConfig selects the speaker-profile persistence backend.
type RegistryConfig struct {
	// Backend is "file" or "badger".
	Backend string `yaml:"backend"`

	// Dir holds the registry files or database.
	Dir string `yaml:"dir"`
}

func (c *RegistryConfig) setDefaults() {
	if c.Backend == "" {
		c.Backend = "file"
	}
	if c.Dir == "" {
		c.Dir = "data"
	}
}

func (c *RegistryConfig) Validate() error {
	switch c.Backend {
	case "file", "badger":
		return nil
	default:
		return fmt.Errorf("registry.backend %q unknown (want file or badger)", c.Backend)
	}
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

func (c *LoggingConfig) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q unknown", c.Level)
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q unknown", c.Format)
	}
	return nil
}

// Default returns the configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	c.Server.setDefaults()
	c.Models.setDefaults()
	c.Audio.setDefaults()
	c.Synthesis.setDefaults()
	c.Identify.setDefaults()
	c.Pool.setDefaults()
	c.Registry.setDefaults()
	c.Logging.setDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	for _, v := range []interface{ Validate() error }{
		&c.Server, &c.Models, &c.Audio, &c.Synthesis,
		&c.Identify, &c.Pool, &c.Registry, &c.Logging,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a YAML config file, applies defaults for anything unset,
// and validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
