// Package tts synthesizes per-scene narration audio through an OpenAI-style
// speech endpoint and measures each clip's playable duration.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/masibasi/visurai/internal/provider"
)

var (
	// ErrEmptyText indicates a synthesis request without narration text.
	ErrEmptyText = errors.New("tts: empty text")
	// ErrEmptyAudio indicates the provider returned a zero-byte clip.
	ErrEmptyAudio = errors.New("tts: provider returned empty audio")
)

const (
	ttsProviderName = "tts"
	audioDirPerms   = 0o755
	audioFilePerms  = 0o644
)

// DurationProber measures the playable duration of an audio file.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Config configures the speech adapter.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Voice          string
	OutputDir      string
	PublicBasePath string
	TimeoutSeconds int
}

// Result is one synthesized narration clip.
type Result struct {
	Path            string
	URL             string
	DurationSeconds float64
}

// Client synthesizes narration clips. Synthesis is not retried: a failed
// scene simply ships without audio, so the adapter surfaces the first
// failure and lets the orchestrator decide.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *provider.Limiter
	prober     DurationProber
	logger     *logger.Logger
}

// New creates a speech client sharing the process-wide limiter.
func New(
	config Config,
	limiter *provider.Limiter,
	prober DurationProber,
	log *logger.Logger,
) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		limiter: limiter,
		prober:  prober,
		logger:  log,
	}
}

type speechRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice"`
	Input string `json:"input"`
}

// Synthesize narrates one scene's text into an MP3 file under the output
// directory and returns its path, public URL, and measured duration.
func (c *Client) Synthesize(ctx context.Context, sceneID int, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyText
	}

	audioData, err := c.requestSpeech(ctx, text)
	if err != nil {
		return Result{}, err
	}

	if len(audioData) == 0 {
		return Result{}, ErrEmptyAudio
	}

	path, err := c.writeClip(sceneID, audioData)
	if err != nil {
		return Result{}, err
	}

	duration, err := c.prober.Duration(ctx, path)
	if err != nil {
		return Result{}, fmt.Errorf("measure clip duration: %w", err)
	}

	c.logger.Infof("Synthesized scene %d narration: %s (%.2fs)", sceneID, path, duration)

	return Result{
		Path:            path,
		URL:             c.publicURL(path),
		DurationSeconds: duration,
	}, nil
}

func (c *Client) requestSpeech(ctx context.Context, text string) ([]byte, error) {
	payload := speechRequest{
		Model: c.config.Model,
		Voice: c.config.Voice,
		Input: text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal speech request: %w", err)
	}

	err = c.limiter.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire provider slot: %w", err)
	}
	defer c.limiter.Release()

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/v1/audio/speech"

	httpRequest, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		endpoint,
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("build speech request: %w", err)
	}

	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, &provider.Error{
			Provider: ttsProviderName,
			Kind:     provider.FailureUnavailable,
			Message:  "request failed",
			Err:      err,
		}
	}

	defer func() {
		closeErr := httpResponse.Body.Close()
		if closeErr != nil {
			c.logger.Warnf("Failed to close speech response body: %v", closeErr)
		}
	}()

	responseBody, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech response: %w", err)
	}

	if httpResponse.StatusCode != http.StatusOK {
		return nil, &provider.Error{
			Provider:   ttsProviderName,
			Kind:       provider.ClassifyStatus(httpResponse.StatusCode, string(responseBody)),
			StatusCode: httpResponse.StatusCode,
			Message:    strings.TrimSpace(string(responseBody)),
		}
	}

	return responseBody, nil
}

// writeClip stores the clip under a collision-proof name carrying the scene
// ID and voice, so concurrent runs never overwrite each other's files.
func (c *Client) writeClip(sceneID int, audioData []byte) (string, error) {
	err := os.MkdirAll(c.config.OutputDir, audioDirPerms)
	if err != nil {
		return "", fmt.Errorf("create audio output dir: %w", err)
	}

	filename := fmt.Sprintf(
		"scene_%d_%s_%d_%s.mp3",
		sceneID,
		sanitizeVoice(c.config.Voice),
		time.Now().UnixNano(),
		uuid.NewString()[:6],
	)

	path := filepath.Join(c.config.OutputDir, filename)

	err = os.WriteFile(path, audioData, audioFilePerms)
	if err != nil {
		return "", fmt.Errorf("write audio clip: %w", err)
	}

	return path, nil
}

func (c *Client) publicURL(path string) string {
	base := strings.TrimRight(c.config.PublicBasePath, "/")

	return base + "/" + filepath.Base(path)
}

// sanitizeVoice keeps voice names filesystem-safe.
func sanitizeVoice(voice string) string {
	var builder strings.Builder

	for _, r := range voice {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}

	if builder.Len() == 0 {
		return "voice"
	}

	return builder.String()
}
