// Package imagegen holds the image provider adapters. Each adapter owns its
// provider's parameter-fallback sequence; the orchestrator only sees a
// public image URL or a classified provider failure.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

var (
	// ErrEmptyPrompt indicates a generation request without a prompt.
	ErrEmptyPrompt = errors.New("imagegen: empty prompt")
	// ErrNoImage indicates a provider response that carried no image URL.
	ErrNoImage = errors.New("imagegen: response carried no image URL")
)

// Request describes one image to generate.
type Request struct {
	Prompt      string
	AspectRatio string
	Seed        *int64
}

// Generator produces one publicly reachable image URL per request.
type Generator interface {
	Generate(ctx context.Context, request Request) (string, error)
}

// normalizeURL makes a provider-returned URL publicly usable. Absolute URLs
// pass through; relative paths are joined onto the provider's public base.
func normalizeURL(raw, publicBaseURL string) string {
	if raw == "" || strings.Contains(raw, "://") {
		return raw
	}

	base := strings.TrimRight(publicBaseURL, "/")
	if base == "" {
		return raw
	}

	return base + "/" + strings.TrimLeft(raw, "/")
}

// resolveFinalURL follows redirects so the stored URL is the durable asset
// location, not a short-lived signed pointer.
func resolveFinalURL(ctx context.Context, client *http.Client, rawURL string) string {
	request, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return rawURL
	}

	response, err := client.Do(request)
	if err != nil {
		return rawURL
	}

	defer func() { _ = response.Body.Close() }()

	if response.Request != nil && response.Request.URL != nil {
		return response.Request.URL.String()
	}

	return rawURL
}

// clampTo64 rounds a pixel dimension down to the nearest multiple of 64,
// which diffusion backends require, with 64 as the floor.
func clampTo64(pixels int) int {
	if pixels < 64 {
		return 64
	}

	return pixels - pixels%64
}

// parseAspectRatio parses "W:H" into its two terms.
func parseAspectRatio(ratio string) (int, int, error) {
	parts := strings.SplitN(ratio, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("imagegen: malformed aspect ratio %q", ratio)
	}

	width, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("imagegen: malformed aspect ratio %q: %w", ratio, err)
	}

	height, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("imagegen: malformed aspect ratio %q: %w", ratio, err)
	}

	if width < 1 || height < 1 {
		return 0, 0, fmt.Errorf("imagegen: malformed aspect ratio %q", ratio)
	}

	return width, height, nil
}
