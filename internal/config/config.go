// Package config loads and validates the service configuration from
// project.toml. Secrets never live in the file; the config only names the
// environment variables that hold them.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// DefaultConfigFilename is the config file resolved relative to the working
// directory when no explicit path is given.
const DefaultConfigFilename = "project.toml"

var (
	// ErrMaxConcurrencyInvalid indicates a non-positive provider ceiling.
	ErrMaxConcurrencyInvalid = errors.New("pipeline.max_concurrency must be positive")
	// ErrUnknownEngine indicates an unsupported pipeline engine name.
	ErrUnknownEngine = errors.New("pipeline.engine must be \"concurrent\" or \"serial\"")
	// ErrUnknownImageProvider indicates an unsupported image provider name.
	ErrUnknownImageProvider = errors.New("image.provider must be \"flux\" or \"openai\"")
)

// Config is the root of project.toml.
type Config struct {
	Project  Project        `toml:"project"`
	Paths    PathsConfig    `toml:"paths"`
	LLM      LLMConfig      `toml:"llm"`
	Image    ImageConfig    `toml:"image"`
	TTS      TTSConfig      `toml:"tts"`
	Pipeline PipelineConfig `toml:"pipeline"`
	NATS     NATSConfig     `toml:"nats"`
}

// Project identifies the service.
type Project struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Description string `toml:"description"`
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	MediaDir    string `toml:"media_dir"`
}

// LLMConfig configures the segmentation/prompting collaborator.
type LLMConfig struct {
	APIKeyVariable    string   `toml:"api_key_variable"`
	Models            []string `toml:"models"`
	Temperature       float64  `toml:"temperature"`
	MaxRetries        int      `toml:"max_retries"`
	RetryDelaySeconds int      `toml:"retry_delay_seconds"`
	TimeoutSeconds    int      `toml:"timeout_seconds"`
	MaxScenes         int      `toml:"max_scenes"`
	StyleGuide        string   `toml:"style_guide"`
}

// ImageConfig configures the image provider adapter.
type ImageConfig struct {
	Provider            string `toml:"provider"`
	APIKeyVariable      string `toml:"api_key_variable"`
	BaseURL             string `toml:"base_url"`
	Model               string `toml:"model"`
	AspectRatio         string `toml:"aspect_ratio"`
	FallbackAspectRatio string `toml:"fallback_aspect_ratio"`
	DefaultWidth        int    `toml:"default_width"`
	DefaultHeight       int    `toml:"default_height"`
	TimeoutSeconds      int    `toml:"timeout_seconds"`
	PublicBaseURL       string `toml:"public_base_url"`
	ResolveRedirects    bool   `toml:"resolve_redirects"`
}

// TTSConfig configures the speech adapter.
type TTSConfig struct {
	APIKeyVariable string `toml:"api_key_variable"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Voice          string `toml:"voice"`
	OutputDir      string `toml:"output_dir"`
	PublicBasePath string `toml:"public_base_path"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// PipelineConfig selects the execution strategy and the provider ceiling.
type PipelineConfig struct {
	Engine         string `toml:"engine"`
	MaxConcurrency int    `toml:"max_concurrency"`
}

// NATSConfig configures the worker-mode transport.
type NATSConfig struct {
	URL                   string `toml:"url"`
	StreamName            string `toml:"stream"`
	RequestSubject        string `toml:"request_subject"`
	ConsumerName          string `toml:"consumer"`
	ProgressSubjectPrefix string `toml:"progress_subject_prefix"`
	CompletedSubject      string `toml:"completed_subject"`
	DeadLetterSubject     string `toml:"dead_letter_subject"`
}

// Load reads the config file, applies defaults, and validates.
func Load(filePath string, loggerInstance *logger.Logger) (*Config, error) {
	if filePath == "" {
		filePath = DefaultConfigFilename
	}

	configFile, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open config file '%s': %w", filePath, err)
	}
	defer func() {
		closeErr := configFile.Close()
		if closeErr != nil && loggerInstance != nil {
			loggerInstance.Warnf("Failed to close config file: %v", closeErr)
		}
	}()

	var configuration Config

	decoder := toml.NewDecoder(configFile)

	err = decoder.Decode(&configuration)
	if err != nil {
		return nil, fmt.Errorf("decode TOML configuration: %w", err)
	}

	configuration.applyDefaults()

	err = configuration.validate()
	if err != nil {
		return nil, err
	}

	return &configuration, nil
}

func (c *Config) applyDefaults() {
	if c.Paths.MediaDir == "" {
		c.Paths.MediaDir = filepath.Join(os.TempDir(), "visurai-media")
	}

	if len(c.LLM.Models) == 0 {
		c.LLM.Models = []string{"gemini-2.0-flash"}
	}

	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}

	if c.LLM.RetryDelaySeconds == 0 {
		c.LLM.RetryDelaySeconds = 2
	}

	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 120
	}

	if c.LLM.MaxScenes == 0 {
		c.LLM.MaxScenes = 8
	}

	if c.LLM.StyleGuide == "" {
		c.LLM.StyleGuide = "Friendly illustrated style; kid- and dyslexia-friendly; " +
			"gentle colors; clear primary subject; soft lighting; clean composition; " +
			"avoid text overlays and watermarks; consistent characters and props across scenes."
	}

	if c.Image.Provider == "" {
		c.Image.Provider = "flux"
	}

	if c.Image.AspectRatio == "" {
		c.Image.AspectRatio = "16:9"
	}

	if c.Image.FallbackAspectRatio == "" {
		c.Image.FallbackAspectRatio = "4:3"
	}

	if c.Image.DefaultWidth == 0 {
		c.Image.DefaultWidth = 1280
	}

	if c.Image.DefaultHeight == 0 {
		c.Image.DefaultHeight = 720
	}

	if c.Image.TimeoutSeconds == 0 {
		c.Image.TimeoutSeconds = 300
	}

	if c.TTS.Model == "" {
		c.TTS.Model = "gpt-4o-mini-tts"
	}

	if c.TTS.Voice == "" {
		c.TTS.Voice = "alloy"
	}

	if c.TTS.OutputDir == "" {
		c.TTS.OutputDir = filepath.Join(c.Paths.MediaDir, "audio")
	}

	if c.TTS.PublicBasePath == "" {
		c.TTS.PublicBasePath = "/static/audio"
	}

	if c.TTS.TimeoutSeconds == 0 {
		c.TTS.TimeoutSeconds = 120
	}

	if c.Pipeline.Engine == "" {
		c.Pipeline.Engine = "concurrent"
	}

	if c.Pipeline.MaxConcurrency == 0 {
		c.Pipeline.MaxConcurrency = 4
	}
}

func (c *Config) validate() error {
	if c.Pipeline.MaxConcurrency < 1 {
		return ErrMaxConcurrencyInvalid
	}

	switch c.Pipeline.Engine {
	case "concurrent", "serial":
	default:
		return ErrUnknownEngine
	}

	switch c.Image.Provider {
	case "flux", "openai":
	default:
		return ErrUnknownImageProvider
	}

	return nil
}

// LLMAPIKey resolves the language-model API key from the environment.
func (c *Config) LLMAPIKey() string {
	return os.Getenv(c.LLM.APIKeyVariable)
}

// ImageAPIKey resolves the image-provider API key from the environment.
func (c *Config) ImageAPIKey() string {
	return os.Getenv(c.Image.APIKeyVariable)
}

// TTSAPIKey resolves the speech-provider API key from the environment.
func (c *Config) TTSAPIKey() string {
	return os.Getenv(c.TTS.APIKeyVariable)
}
