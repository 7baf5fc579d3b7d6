package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/masibasi/visurai/internal/story"
)

var (
	// ErrNoScenes is returned when segmentation yields zero usable scenes.
	ErrNoScenes = errors.New("segmentation produced no scenes")
	// ErrMalformedSegmentation is returned when no JSON payload can be
	// recovered from the model output.
	ErrMalformedSegmentation = errors.New("malformed segmentation response")
)

// segmentationPayload mirrors the JSON shape the segmentation prompt asks
// the model to produce.
type segmentationPayload struct {
	Title  string        `json:"title"`
	Scenes []story.Scene `json:"scenes"`
}

// Segment splits the input text into at most maxScenes ordered scenes and
// returns a chapter title alongside them. Scene IDs in the result are always
// contiguous starting at 1, regardless of what the model emitted.
func (c *Client) Segment(
	ctx context.Context,
	text string,
	maxScenes int,
) (string, []story.Scene, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil, ErrEmptyText
	}

	if maxScenes < 1 {
		maxScenes = 1
	}

	systemPrompt := fmt.Sprintf(segmentationSystemPrompt, maxScenes)

	raw, err := c.generate(ctx, systemPrompt, genai.Text(text), "application/json")
	if err != nil {
		return "", nil, fmt.Errorf("segment: %w", err)
	}

	title, scenes, err := ParseSegmentation(raw, maxScenes)
	if err != nil {
		return "", nil, fmt.Errorf("segment: %w", err)
	}

	return title, scenes, nil
}

// ParseSegmentation decodes a segmentation response. It first tries a strict
// decode of the whole payload, then falls back to extracting the first JSON
// object or array embedded in surrounding prose or markdown fences. Scenes
// are reindexed 1..N and truncated to maxScenes.
func ParseSegmentation(raw string, maxScenes int) (string, []story.Scene, error) {
	cleaned := stripCodeFences(raw)

	payload, err := decodeSegmentation(cleaned)
	if err != nil {
		extracted, ok := extractJSON(cleaned)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s", ErrMalformedSegmentation, snippet(raw))
		}

		payload, err = decodeSegmentation(extracted)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %s", ErrMalformedSegmentation, snippet(raw))
		}
	}

	scenes := make([]story.Scene, 0, len(payload.Scenes))

	for _, scene := range payload.Scenes {
		if strings.TrimSpace(scene.Summary) == "" {
			continue
		}

		scenes = append(scenes, scene)
		if maxScenes > 0 && len(scenes) == maxScenes {
			break
		}
	}

	if len(scenes) == 0 {
		return "", nil, ErrNoScenes
	}

	for i := range scenes {
		scenes[i].ID = i + 1
	}

	return strings.TrimSpace(payload.Title), scenes, nil
}

func decodeSegmentation(raw string) (segmentationPayload, error) {
	var payload segmentationPayload

	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "[") {
		// Some models answer with the bare scenes array.
		err := json.Unmarshal([]byte(trimmed), &payload.Scenes)
		if err != nil {
			return segmentationPayload{}, fmt.Errorf("decode scenes array: %w", err)
		}

		return payload, nil
	}

	err := json.Unmarshal([]byte(trimmed), &payload)
	if err != nil {
		return segmentationPayload{}, fmt.Errorf("decode segmentation object: %w", err)
	}

	return payload, nil
}

// extractJSON recovers the first balanced JSON object or array from text
// that wraps the payload in prose.
func extractJSON(raw string) (string, bool) {
	start := -1

	for i, r := range raw {
		if r == '{' || r == '[' {
			start = i

			break
		}
	}

	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(raw); i++ {
		ch := raw[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}

			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}

	return "", false
}

func stripCodeFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")

	return strings.TrimSpace(trimmed)
}

func snippet(raw string) string {
	const maxLen = 120

	trimmed := strings.TrimSpace(raw)
	if len(trimmed) > maxLen {
		return trimmed[:maxLen] + "..."
	}

	return trimmed
}
