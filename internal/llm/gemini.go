// Package llm is the language-model collaborator used for scene
// segmentation, global summarization, visual prompt derivation, and image
// text extraction. It talks to Gemini through the official genai SDK with a
// model fallback list and bounded retries per model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"google.golang.org/genai"
)

var (
	// ErrEmptyText is returned when an operation receives no input text.
	ErrEmptyText = errors.New("input text is empty")
	// ErrEmptyImage is returned when extraction receives no image bytes.
	ErrEmptyImage = errors.New("image data is empty")
	// ErrEmptyResponse is returned when every model produced blank output.
	ErrEmptyResponse = errors.New("empty model response")
)

const (
	segmentationSystemPrompt = "You are a skilled story editor for visual learners. " +
		"Split the user's text into at most %d clear story beats. Each beat must be a " +
		"short, concrete scene that is visually depictable. Preserve important factual " +
		"details: names, dates, places, numbers, distinctive objects, colors, and actions. " +
		"For each scene, list which original sentences (by 1-based index) you used and " +
		"include their exact text. Respond as a JSON object with fields: title (short " +
		"chapter title for the whole text), scenes (array of objects with scene_id " +
		"(1-based), scene_summary (<= 30 words), source_sentence_indices (array of " +
		"1-based integers), source_sentences (array of strings))."

	summarySystemPrompt = "You write a single concise summary capturing overall " +
		"narrative, recurring characters, setting, and tone for consistent visuals. " +
		"Respond with 1-2 sentences, at most 400 characters, plain text."

	promptSystemPrompt = "You are a prompt engineer creating concise, concrete prompts " +
		"for an illustration model. Keep critical details from the scene summary so the " +
		"image stays informative. Respond with a single-sentence image prompt " +
		"(35-60 words, present tense). Avoid text overlays and watermarks."

	defaultExtractionHint = "Extract all readable text from this image as plain text. " +
		"Preserve line breaks."

	maxSummaryChars = 400
)

// Config holds the Gemini client settings.
type Config struct {
	APIKey            string
	Models            []string
	Temperature       float64
	MaxRetries        int
	RetryDelaySeconds int
	TimeoutSeconds    int
}

// Client wraps the genai SDK with fallback and retry policy.
type Client struct {
	client *genai.Client
	config Config
	logger *logger.Logger
}

// New creates a Gemini-backed client.
func New(ctx context.Context, config Config, log *logger.Logger) (*Client, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}

	return &Client{
		client: genaiClient,
		config: config,
		logger: log,
	}, nil
}

// Summarize condenses the full input into a short global context string used
// to keep per-scene visuals consistent.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}

	out, err := c.generate(ctx, summarySystemPrompt, genai.Text(text), "")
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}

	return truncateSummary(strings.TrimSpace(out)), nil
}

// truncateSummary caps the summary at maxSummaryChars runes. Cutting on a
// rune boundary keeps multi-byte text valid UTF-8.
func truncateSummary(summary string) string {
	runes := []rune(summary)
	if len(runes) <= maxSummaryChars {
		return summary
	}

	return string(runes[:maxSummaryChars-1]) + "…"
}

// DerivePrompt turns one scene summary into a style-consistent visual prompt.
func (c *Client) DerivePrompt(
	ctx context.Context,
	summary, globalSummary, styleGuide string,
	sourceSentences []string,
) (string, error) {
	if strings.TrimSpace(summary) == "" {
		return "", ErrEmptyText
	}

	var userPrompt strings.Builder

	fmt.Fprintf(&userPrompt, "Scene: %s\n", summary)
	if globalSummary != "" {
		fmt.Fprintf(&userPrompt, "Global context (for consistency across scenes): %s\n", globalSummary)
	}

	if styleGuide != "" {
		fmt.Fprintf(&userPrompt, "Style guide: %s\n", styleGuide)
	}

	if len(sourceSentences) > 0 {
		fmt.Fprintf(
			&userPrompt,
			"Reference snippets from the original text (verbatim, for factual fidelity):\n%s\n",
			strings.Join(sourceSentences, "\n"),
		)
	}

	out, err := c.generate(ctx, promptSystemPrompt, genai.Text(userPrompt.String()), "")
	if err != nil {
		return "", fmt.Errorf("derive prompt: %w", err)
	}

	return strings.TrimSpace(out), nil
}

// ExtractText reads visible text out of an image using Gemini vision.
func (c *Client) ExtractText(
	ctx context.Context,
	imageData []byte,
	mimeType, hint string,
) (string, error) {
	if len(imageData) == 0 {
		return "", ErrEmptyImage
	}

	if strings.TrimSpace(hint) == "" {
		hint = defaultExtractionHint
	}

	parts := []*genai.Part{
		genai.NewPartFromText(hint),
		genai.NewPartFromBytes(imageData, mimeType),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	out, err := c.generate(ctx, "", contents, "")
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}

	return strings.TrimSpace(out), nil
}

// generate walks the model fallback list, retrying each model up to the
// configured attempt count before moving on.
func (c *Client) generate(
	ctx context.Context,
	systemInstruction string,
	contents []*genai.Content,
	responseMIMEType string,
) (string, error) {
	var lastErr error

	for _, model := range c.config.Models {
		result, err := c.tryModelWithRetries(ctx, model, systemInstruction, contents, responseMIMEType)
		if err == nil && strings.TrimSpace(result) != "" {
			return result, nil
		}

		if err == nil {
			err = ErrEmptyResponse
		}

		lastErr = err
		c.logger.Warnf("Model %s failed: %v", model, err)
	}

	return "", fmt.Errorf("all models failed, last error: %w", lastErr)
}

func (c *Client) tryModelWithRetries(
	ctx context.Context,
	model, systemInstruction string,
	contents []*genai.Content,
	responseMIMEType string,
) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		result, err := c.callModel(ctx, model, systemInstruction, contents, responseMIMEType)
		if err == nil && strings.TrimSpace(result) != "" {
			return result, nil
		}

		lastErr = err

		if attempt < c.config.MaxRetries {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("context done: %w", ctx.Err())
			case <-time.After(time.Duration(c.config.RetryDelaySeconds) * time.Second):
			}
		}
	}

	return "", fmt.Errorf(
		"model %s failed after %d attempts: %w",
		model,
		c.config.MaxRetries,
		lastErr,
	)
}

func (c *Client) callModel(
	ctx context.Context,
	model, systemInstruction string,
	contents []*genai.Content,
	responseMIMEType string,
) (string, error) {
	callCtx, cancel := context.WithTimeout(
		ctx,
		time.Duration(c.config.TimeoutSeconds)*time.Second,
	)
	defer cancel()

	generationConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(c.config.Temperature)),
	}
	if systemInstruction != "" {
		generationConfig.SystemInstruction = genai.NewContentFromText(
			systemInstruction,
			genai.RoleUser,
		)
	}

	if responseMIMEType != "" {
		generationConfig.ResponseMIMEType = responseMIMEType
	}

	response, err := c.client.Models.GenerateContent(callCtx, model, contents, generationConfig)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	return response.Text(), nil
}
