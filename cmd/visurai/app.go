package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/book-expert/logger"
	"github.com/joho/godotenv"

	"github.com/masibasi/visurai/internal/audiomerge"
	"github.com/masibasi/visurai/internal/config"
	"github.com/masibasi/visurai/internal/ffprobe"
	"github.com/masibasi/visurai/internal/imagegen"
	"github.com/masibasi/visurai/internal/llm"
	"github.com/masibasi/visurai/internal/ocr"
	"github.com/masibasi/visurai/internal/pipeline"
	"github.com/masibasi/visurai/internal/provider"
	"github.com/masibasi/visurai/internal/tts"
)

var errMissingLLMKey = errors.New("language model API key is not set")

// app holds the wired components shared by the serve and generate commands.
type app struct {
	cfg          *config.Config
	log          *logger.Logger
	orchestrator *pipeline.Orchestrator
	extractor    *ocr.Extractor
}

// buildApp loads configuration and wires the full component graph. A single
// provider limiter is shared by the image and speech adapters so the
// configured ceiling bounds the whole process.
func buildApp(ctx context.Context, configPath string) (*app, error) {
	// Secrets may come from a local .env during development.
	_ = godotenv.Load()

	bootstrapLog, err := logger.New(os.TempDir(), "visurai-bootstrap.log")
	if err != nil {
		return nil, fmt.Errorf("create bootstrap logger: %w", err)
	}

	cfg, err := config.Load(configPath, bootstrapLog)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, "visurai.log")
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	llmKey := cfg.LLMAPIKey()
	if llmKey == "" {
		return nil, fmt.Errorf("%w: ensure %s is set", errMissingLLMKey, cfg.LLM.APIKeyVariable)
	}

	llmClient, err := llm.New(ctx, llm.Config{
		APIKey:            llmKey,
		Models:            cfg.LLM.Models,
		Temperature:       cfg.LLM.Temperature,
		MaxRetries:        cfg.LLM.MaxRetries,
		RetryDelaySeconds: cfg.LLM.RetryDelaySeconds,
		TimeoutSeconds:    cfg.LLM.TimeoutSeconds,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("create language model client: %w", err)
	}

	limiter := provider.NewLimiter(cfg.Pipeline.MaxConcurrency)
	images := newImageGenerator(cfg, limiter, log)
	prober := ffprobe.NewProber()

	speech := tts.New(tts.Config{
		APIKey:         cfg.TTSAPIKey(),
		BaseURL:        cfg.TTS.BaseURL,
		Model:          cfg.TTS.Model,
		Voice:          cfg.TTS.Voice,
		OutputDir:      cfg.TTS.OutputDir,
		PublicBasePath: cfg.TTS.PublicBasePath,
		TimeoutSeconds: cfg.TTS.TimeoutSeconds,
	}, limiter, prober, log)

	merger := audiomerge.NewMerger(cfg.TTS.OutputDir, cfg.TTS.PublicBasePath, prober, log)

	strategy, err := pipeline.StrategyFromName(cfg.Pipeline.Engine)
	if err != nil {
		return nil, fmt.Errorf("resolve pipeline engine: %w", err)
	}

	orchestrator := pipeline.New(
		llmClient,
		images,
		speech,
		merger,
		strategy,
		cfg.LLM.StyleGuide,
		cfg.LLM.MaxScenes,
		log,
	)

	return &app{
		cfg:          cfg,
		log:          log,
		orchestrator: orchestrator,
		extractor:    ocr.NewExtractor(llmClient, log),
	}, nil
}

func newImageGenerator(
	cfg *config.Config,
	limiter *provider.Limiter,
	log *logger.Logger,
) imagegen.Generator {
	if cfg.Image.Provider == "openai" {
		return imagegen.NewOpenAIClient(imagegen.OpenAIConfig{
			APIKey:           cfg.ImageAPIKey(),
			BaseURL:          cfg.Image.BaseURL,
			Model:            cfg.Image.Model,
			AspectRatio:      cfg.Image.AspectRatio,
			TimeoutSeconds:   cfg.Image.TimeoutSeconds,
			PublicBaseURL:    cfg.Image.PublicBaseURL,
			ResolveRedirects: cfg.Image.ResolveRedirects,
		}, limiter, log)
	}

	return imagegen.NewFluxClient(imagegen.FluxConfig{
		APIKey:              cfg.ImageAPIKey(),
		BaseURL:             cfg.Image.BaseURL,
		Model:               cfg.Image.Model,
		AspectRatio:         cfg.Image.AspectRatio,
		FallbackAspectRatio: cfg.Image.FallbackAspectRatio,
		DefaultWidth:        cfg.Image.DefaultWidth,
		DefaultHeight:       cfg.Image.DefaultHeight,
		TimeoutSeconds:      cfg.Image.TimeoutSeconds,
		PublicBaseURL:       cfg.Image.PublicBaseURL,
		ResolveRedirects:    cfg.Image.ResolveRedirects,
	}, limiter, log)
}
