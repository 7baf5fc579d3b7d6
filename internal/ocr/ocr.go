// Package ocr extracts readable text from images so that picture-based input
// (a photographed book page, a slide) can feed the same story pipeline as
// plain text.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/logger"
)

var (
	// ErrEmptyImage indicates extraction was asked to run on zero bytes.
	ErrEmptyImage = errors.New("ocr: empty image data")
	// ErrNoText indicates the image contained no recoverable text.
	ErrNoText = errors.New("ocr: no text found in image")
	// ErrUnsupportedImage indicates bytes that are not a known image format.
	ErrUnsupportedImage = errors.New("ocr: unsupported image format")
)

const (
	downloadTimeout  = 60 * time.Second
	maxImageBytes    = 20 * 1024 * 1024
	defaultImageMIME = "image/png"
)

// Vision is the model capability the extractor depends on.
type Vision interface {
	ExtractText(ctx context.Context, imageData []byte, mimeType, hint string) (string, error)
}

// Extractor turns images into cleaned plain text via a vision model.
type Extractor struct {
	vision     Vision
	cleaner    *Cleaner
	httpClient *http.Client
	logger     *logger.Logger
}

// NewExtractor creates an extractor backed by the given vision model.
func NewExtractor(vision Vision, log *logger.Logger) *Extractor {
	return &Extractor{
		vision:     vision,
		cleaner:    NewCleaner(),
		httpClient: &http.Client{Timeout: downloadTimeout},
		logger:     log,
	}
}

// FromBytes extracts and cleans text from raw image bytes.
func (e *Extractor) FromBytes(ctx context.Context, imageData []byte) (string, error) {
	if len(imageData) == 0 {
		return "", ErrEmptyImage
	}

	mimeType := detectImageMIME(imageData)
	if mimeType == "" {
		return "", ErrUnsupportedImage
	}

	raw, err := e.vision.ExtractText(ctx, imageData, mimeType, "")
	if err != nil {
		return "", fmt.Errorf("vision extraction: %w", err)
	}

	cleaned := e.cleaner.Clean(raw)
	if cleaned == "" {
		return "", ErrNoText
	}

	e.logger.Infof("Extracted %d characters of text from %s image", len(cleaned), mimeType)

	return cleaned, nil
}

// FromURL downloads an image and extracts its text.
func (e *Extractor) FromURL(ctx context.Context, imageURL string) (string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build image request: %w", err)
	}

	response, err := e.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("download image %s: %w", imageURL, err)
	}

	defer func() {
		closeErr := response.Body.Close()
		if closeErr != nil {
			e.logger.Warnf("Failed to close image response body: %v", closeErr)
		}
	}()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf(
			"download image %s: unexpected status %d",
			imageURL,
			response.StatusCode,
		)
	}

	imageData, err := io.ReadAll(io.LimitReader(response.Body, maxImageBytes))
	if err != nil {
		return "", fmt.Errorf("read image body: %w", err)
	}

	return e.FromBytes(ctx, imageData)
}

// detectImageMIME sniffs the image format from magic bytes. Content sniffing
// is preferred over trusting URLs or headers because the bytes go straight
// into a model request that validates them again.
func detectImageMIME(data []byte) string {
	detected := http.DetectContentType(data)

	switch detected {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return detected
	case "application/octet-stream":
		// DetectContentType misses some valid encoder outputs; let the
		// vision model make the final call.
		return defaultImageMIME
	default:
		return ""
	}
}
