package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/masibasi/visurai/internal/provider"
)

const fluxProviderName = "flux"

// FluxConfig configures the Flux adapter.
type FluxConfig struct {
	APIKey              string
	BaseURL             string
	Model               string
	AspectRatio         string
	FallbackAspectRatio string
	DefaultWidth        int
	DefaultHeight       int
	TimeoutSeconds      int
	PublicBaseURL       string
	ResolveRedirects    bool
}

// FluxClient generates images through a Flux-style HTTP endpoint. When the
// provider rejects the requested aspect ratio it walks a fixed fallback
// sequence: requested ratio, configured fallback ratio, then explicit pixel
// dimensions snapped to the model's 64-pixel grid.
type FluxClient struct {
	config     FluxConfig
	httpClient *http.Client
	limiter    *provider.Limiter
	logger     *logger.Logger
}

// NewFluxClient creates a Flux adapter sharing the process-wide limiter.
func NewFluxClient(
	config FluxConfig,
	limiter *provider.Limiter,
	log *logger.Logger,
) *FluxClient {
	return &FluxClient{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		limiter: limiter,
		logger:  log,
	}
}

// fluxRequest is the provider wire format. Either AspectRatio or explicit
// Width/Height is set, never both.
type fluxRequest struct {
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Seed        *int64 `json:"seed,omitempty"`
}

type fluxResponse struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

// Generate produces one image URL, walking the parameter fallback sequence
// on invalid-parameter rejections. Billing failures abort immediately since
// no parameter change can fix them.
func (f *FluxClient) Generate(ctx context.Context, request Request) (string, error) {
	if strings.TrimSpace(request.Prompt) == "" {
		return "", ErrEmptyPrompt
	}

	var lastErr error

	for _, attempt := range f.attempts(request) {
		imageURL, err := f.generateOnce(ctx, attempt)
		if err == nil {
			return f.finalize(ctx, imageURL), nil
		}

		lastErr = err

		if provider.KindOf(err) != provider.FailureInvalidParameter {
			return "", err
		}

		f.logger.Warnf(
			"Flux rejected parameters (ratio=%q w=%d h=%d), trying next fallback: %v",
			attempt.AspectRatio, attempt.Width, attempt.Height, err,
		)
	}

	return "", fmt.Errorf("flux: all parameter fallbacks rejected: %w", lastErr)
}

// attempts builds the ordered parameter sequence for one request.
func (f *FluxClient) attempts(request Request) []fluxRequest {
	base := fluxRequest{
		Model:  f.config.Model,
		Prompt: request.Prompt,
		Seed:   request.Seed,
	}

	requested := request.AspectRatio
	if requested == "" {
		requested = f.config.AspectRatio
	}

	sequence := make([]fluxRequest, 0, 3)

	withRatio := base
	withRatio.AspectRatio = requested
	sequence = append(sequence, withRatio)

	if f.config.FallbackAspectRatio != "" && f.config.FallbackAspectRatio != requested {
		withFallback := base
		withFallback.AspectRatio = f.config.FallbackAspectRatio
		sequence = append(sequence, withFallback)
	}

	withPixels := base
	withPixels.Width = clampTo64(f.config.DefaultWidth)
	withPixels.Height = clampTo64(f.config.DefaultHeight)
	sequence = append(sequence, withPixels)

	return sequence
}

func (f *FluxClient) generateOnce(ctx context.Context, payload fluxRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal flux request: %w", err)
	}

	err = f.limiter.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire provider slot: %w", err)
	}
	defer f.limiter.Release()

	httpRequest, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		f.config.BaseURL,
		bytes.NewReader(body),
	)
	if err != nil {
		return "", fmt.Errorf("build flux request: %w", err)
	}

	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Authorization", "Bearer "+f.config.APIKey)

	httpResponse, err := f.httpClient.Do(httpRequest)
	if err != nil {
		return "", &provider.Error{
			Provider: fluxProviderName,
			Kind:     provider.FailureUnavailable,
			Message:  "request failed",
			Err:      err,
		}
	}

	defer func() {
		closeErr := httpResponse.Body.Close()
		if closeErr != nil {
			f.logger.Warnf("Failed to close flux response body: %v", closeErr)
		}
	}()

	responseBody, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return "", fmt.Errorf("read flux response: %w", err)
	}

	if httpResponse.StatusCode != http.StatusOK {
		return "", &provider.Error{
			Provider:   fluxProviderName,
			Kind:       provider.ClassifyStatus(httpResponse.StatusCode, string(responseBody)),
			StatusCode: httpResponse.StatusCode,
			Message:    strings.TrimSpace(string(responseBody)),
		}
	}

	var decoded fluxResponse

	err = json.Unmarshal(responseBody, &decoded)
	if err != nil {
		return "", fmt.Errorf("decode flux response: %w", err)
	}

	if len(decoded.Images) == 0 || decoded.Images[0].URL == "" {
		return "", ErrNoImage
	}

	return decoded.Images[0].URL, nil
}

// finalize normalizes the returned URL and optionally chases redirects to
// the durable asset location.
func (f *FluxClient) finalize(ctx context.Context, imageURL string) string {
	finalURL := normalizeURL(imageURL, f.config.PublicBaseURL)
	if f.config.ResolveRedirects {
		finalURL = resolveFinalURL(ctx, f.httpClient, finalURL)
	}

	return finalURL
}

var _ Generator = (*FluxClient)(nil)
