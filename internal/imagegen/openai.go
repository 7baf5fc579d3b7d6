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

const openAIProviderName = "openai"

// allowedSizes is the provider's discrete size catalog in retry preference
// order: landscape first, then square, then portrait.
var allowedSizes = []string{"1792x1024", "1024x1024", "1024x1792"}

// OpenAIConfig configures the OpenAI images adapter.
type OpenAIConfig struct {
	APIKey           string
	BaseURL          string
	Model            string
	AspectRatio      string
	TimeoutSeconds   int
	PublicBaseURL    string
	ResolveRedirects bool
}

// OpenAIClient generates images through the OpenAI images endpoint. The
// provider only accepts a discrete size catalog, so the requested aspect
// ratio is mapped to the nearest catalog entry; on rejection the remaining
// sizes are tried in fixed preference order.
type OpenAIClient struct {
	config     OpenAIConfig
	httpClient *http.Client
	limiter    *provider.Limiter
	logger     *logger.Logger
}

// NewOpenAIClient creates an OpenAI adapter sharing the process-wide limiter.
func NewOpenAIClient(
	config OpenAIConfig,
	limiter *provider.Limiter,
	log *logger.Logger,
) *OpenAIClient {
	return &OpenAIClient{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		limiter: limiter,
		logger:  log,
	}
}

type openAIImageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
	N      int    `json:"n"`
}

type openAIImageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// Generate produces one image URL. Seeds are accepted but ignored since the
// endpoint offers no seed parameter.
func (o *OpenAIClient) Generate(ctx context.Context, request Request) (string, error) {
	if strings.TrimSpace(request.Prompt) == "" {
		return "", ErrEmptyPrompt
	}

	ratio := request.AspectRatio
	if ratio == "" {
		ratio = o.config.AspectRatio
	}

	var lastErr error

	for _, size := range sizeSequence(ratio) {
		imageURL, err := o.generateOnce(ctx, request.Prompt, size)
		if err == nil {
			return o.finalize(ctx, imageURL), nil
		}

		lastErr = err

		if provider.KindOf(err) != provider.FailureInvalidParameter {
			return "", err
		}

		o.logger.Warnf("OpenAI rejected size %s, trying next: %v", size, err)
	}

	return "", fmt.Errorf("openai: all sizes rejected: %w", lastErr)
}

// sizeSequence puts the nearest catalog size first, followed by the rest of
// the catalog in preference order.
func sizeSequence(aspectRatio string) []string {
	first := nearestSize(aspectRatio)
	sequence := make([]string, 0, len(allowedSizes))
	sequence = append(sequence, first)

	for _, size := range allowedSizes {
		if size != first {
			sequence = append(sequence, size)
		}
	}

	return sequence
}

// nearestSize maps an aspect ratio onto the catalog: clearly wide ratios get
// the landscape size, clearly tall ones the portrait size, everything else
// the square.
func nearestSize(aspectRatio string) string {
	width, height, err := parseAspectRatio(aspectRatio)
	if err != nil {
		return allowedSizes[1]
	}

	ratio := float64(width) / float64(height)

	switch {
	case ratio >= 1.3:
		return "1792x1024"
	case ratio <= 0.77:
		return "1024x1792"
	default:
		return "1024x1024"
	}
}

func (o *OpenAIClient) generateOnce(
	ctx context.Context,
	prompt, size string,
) (string, error) {
	payload := openAIImageRequest{
		Model:  o.config.Model,
		Prompt: prompt,
		Size:   size,
		N:      1,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal openai request: %w", err)
	}

	err = o.limiter.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire provider slot: %w", err)
	}
	defer o.limiter.Release()

	endpoint := strings.TrimRight(o.config.BaseURL, "/") + "/v1/images/generations"

	httpRequest, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		endpoint,
		bytes.NewReader(body),
	)
	if err != nil {
		return "", fmt.Errorf("build openai request: %w", err)
	}

	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Authorization", "Bearer "+o.config.APIKey)

	httpResponse, err := o.httpClient.Do(httpRequest)
	if err != nil {
		return "", &provider.Error{
			Provider: openAIProviderName,
			Kind:     provider.FailureUnavailable,
			Message:  "request failed",
			Err:      err,
		}
	}

	defer func() {
		closeErr := httpResponse.Body.Close()
		if closeErr != nil {
			o.logger.Warnf("Failed to close openai response body: %v", closeErr)
		}
	}()

	responseBody, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return "", fmt.Errorf("read openai response: %w", err)
	}

	if httpResponse.StatusCode != http.StatusOK {
		return "", &provider.Error{
			Provider:   openAIProviderName,
			Kind:       provider.ClassifyStatus(httpResponse.StatusCode, string(responseBody)),
			StatusCode: httpResponse.StatusCode,
			Message:    strings.TrimSpace(string(responseBody)),
		}
	}

	var decoded openAIImageResponse

	err = json.Unmarshal(responseBody, &decoded)
	if err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}

	if len(decoded.Data) == 0 || decoded.Data[0].URL == "" {
		return "", ErrNoImage
	}

	return decoded.Data[0].URL, nil
}

// finalize normalizes the returned URL and optionally chases redirects to
// the durable asset location.
func (o *OpenAIClient) finalize(ctx context.Context, imageURL string) string {
	finalURL := normalizeURL(imageURL, o.config.PublicBaseURL)
	if o.config.ResolveRedirects {
		finalURL = resolveFinalURL(ctx, o.httpClient, finalURL)
	}

	return finalURL
}

var _ Generator = (*OpenAIClient)(nil)
