// Package pipeline orchestrates a story generation run: segmentation,
// global summarization, per-scene prompting, image generation, optional
// narration, and the single-track audio merge.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/book-expert/logger"

	"github.com/masibasi/visurai/internal/audiomerge"
	"github.com/masibasi/visurai/internal/imagegen"
	"github.com/masibasi/visurai/internal/progress"
	"github.com/masibasi/visurai/internal/story"
	"github.com/masibasi/visurai/internal/tts"
)

// LanguageModel is the text collaborator the orchestrator depends on.
type LanguageModel interface {
	Segment(ctx context.Context, text string, maxScenes int) (string, []story.Scene, error)
	Summarize(ctx context.Context, text string) (string, error)
	DerivePrompt(
		ctx context.Context,
		summary, globalSummary, styleGuide string,
		sourceSentences []string,
	) (string, error)
}

// SpeechSynthesizer narrates one scene's text.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, sceneID int, text string) (tts.Result, error)
}

// AudioMerger concatenates scene clips into one track.
type AudioMerger interface {
	Merge(ctx context.Context, inputs []audiomerge.Input) (audiomerge.Result, error)
}

// Options selects the response variant for one run.
type Options struct {
	MaxScenes   int
	WithAudio   bool
	SingleTrack bool
	AspectRatio string
	Seed        *int64
}

// Orchestrator runs the full pipeline. Image and speech providers are
// injected as interfaces; the limiter lives inside the adapters, so the
// orchestrator never has to reason about ceilings.
type Orchestrator struct {
	languageModel LanguageModel
	images        imagegen.Generator
	speech        SpeechSynthesizer
	merger        AudioMerger
	strategy      Strategy
	styleGuide    string
	maxScenes     int
	logger        *logger.Logger
}

// New creates an orchestrator. merger may be nil when single-track output is
// never requested; speech may be nil when narration is never requested.
func New(
	languageModel LanguageModel,
	images imagegen.Generator,
	speech SpeechSynthesizer,
	merger AudioMerger,
	strategy Strategy,
	styleGuide string,
	maxScenes int,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		languageModel: languageModel,
		images:        images,
		speech:        speech,
		merger:        merger,
		strategy:      strategy,
		styleGuide:    styleGuide,
		maxScenes:     maxScenes,
		logger:        log,
	}
}

// Run executes all stages and returns the finished story. Per-scene failures
// degrade the affected scene; a stage in which every scene fails aborts the
// run with an AggregateError.
func (o *Orchestrator) Run(
	ctx context.Context,
	text string,
	options Options,
	reporter *progress.Reporter,
) (*story.Story, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	reporter.Publish(progress.Event{Kind: progress.KindStarted})

	title, scenes, err := o.segment(ctx, text, options, reporter)
	if err != nil {
		return nil, err
	}

	globalSummary := o.summarize(ctx, text, reporter)

	o.derivePrompts(ctx, scenes, globalSummary, reporter)

	err = o.generateImages(ctx, scenes, options, reporter)
	if err != nil {
		return nil, err
	}

	result := &story.Story{
		Title:  title,
		Scenes: scenes,
	}

	if options.WithAudio {
		err = o.narrate(ctx, scenes, reporter)
		if err != nil {
			return nil, err
		}

		if options.SingleTrack {
			o.mergeNarration(ctx, result, reporter)
		}
	}

	if result.Title == "" && len(result.Scenes) > 0 {
		result.Title = result.Scenes[0].Summary
	}

	story.SortScenes(result.Scenes)

	reporter.Publish(progress.Event{
		Kind:       progress.KindComplete,
		SceneCount: len(result.Scenes),
		Title:      result.Title,
	})

	return result, nil
}

func (o *Orchestrator) segment(
	ctx context.Context,
	text string,
	options Options,
	reporter *progress.Reporter,
) (string, []story.Scene, error) {
	maxScenes := options.MaxScenes
	if maxScenes < 1 {
		maxScenes = o.maxScenes
	}

	title, scenes, err := o.languageModel.Segment(ctx, text, maxScenes)
	if err != nil {
		reporter.Publish(progress.Event{
			Kind:    progress.KindError,
			Message: err.Error(),
		})

		return "", nil, fmt.Errorf("segment input: %w", err)
	}

	reporter.Publish(progress.Event{
		Kind:       progress.KindSegmented,
		SceneCount: len(scenes),
		Title:      title,
	})

	return title, scenes, nil
}

// summarize is best-effort: prompts degrade gracefully without a global
// summary, so a failure here never aborts the run.
func (o *Orchestrator) summarize(
	ctx context.Context,
	text string,
	reporter *progress.Reporter,
) string {
	globalSummary, err := o.languageModel.Summarize(ctx, text)
	if err != nil {
		o.logger.Warnf("Global summary failed, prompts will lack cross-scene context: %v", err)

		return ""
	}

	reporter.Publish(progress.Event{
		Kind:    progress.KindSummarized,
		Message: globalSummary,
	})

	return globalSummary
}

// derivePrompts fills each scene's visual prompt. Failures fall back to the
// scene summary plus the style guide so every scene reaches the image stage
// with a usable prompt.
func (o *Orchestrator) derivePrompts(
	ctx context.Context,
	scenes []story.Scene,
	globalSummary string,
	reporter *progress.Reporter,
) {
	o.strategy.ForEach(ctx, len(scenes), func(ctx context.Context, index int) error {
		scene := &scenes[index]

		prompt, err := o.languageModel.DerivePrompt(
			ctx,
			scene.Summary,
			globalSummary,
			o.styleGuide,
			scene.SourceSentences,
		)
		if err != nil {
			o.logger.Warnf(
				"Prompt derivation failed for scene %d, using summary fallback: %v",
				scene.ID, err,
			)

			prompt = strings.TrimSpace(scene.Summary + ". " + o.styleGuide)
		}

		scene.Prompt = prompt

		reporter.Publish(progress.Event{
			Kind:    progress.KindPrompt,
			SceneID: scene.ID,
			Prompt:  prompt,
		})

		return nil
	})
}

func (o *Orchestrator) generateImages(
	ctx context.Context,
	scenes []story.Scene,
	options Options,
	reporter *progress.Reporter,
) error {
	sceneErrors := o.strategy.ForEach(
		ctx,
		len(scenes),
		func(ctx context.Context, index int) error {
			scene := &scenes[index]

			reporter.Publish(progress.Event{
				Kind:    progress.KindImageStarted,
				SceneID: scene.ID,
			})

			imageURL, err := o.images.Generate(ctx, imagegen.Request{
				Prompt:      scene.Prompt,
				AspectRatio: options.AspectRatio,
				Seed:        options.Seed,
			})
			if err != nil {
				o.logger.Errorf("Image generation failed for scene %d: %v", scene.ID, err)
				reporter.Publish(progress.Event{
					Kind:    progress.KindError,
					SceneID: scene.ID,
					Message: err.Error(),
				})

				return err
			}

			scene.ImageURL = imageURL

			reporter.Publish(progress.Event{
				Kind:     progress.KindImageDone,
				SceneID:  scene.ID,
				ImageURL: imageURL,
			})

			return nil
		},
	)

	return o.failIfAllFailed("image generation", scenes, sceneErrors, reporter)
}

func (o *Orchestrator) narrate(
	ctx context.Context,
	scenes []story.Scene,
	reporter *progress.Reporter,
) error {
	sceneErrors := o.strategy.ForEach(
		ctx,
		len(scenes),
		func(ctx context.Context, index int) error {
			scene := &scenes[index]

			reporter.Publish(progress.Event{
				Kind:    progress.KindTTSStarted,
				SceneID: scene.ID,
			})

			result, err := o.speech.Synthesize(ctx, scene.ID, narrationText(scene))
			if err != nil {
				o.logger.Errorf("Narration failed for scene %d: %v", scene.ID, err)
				reporter.Publish(progress.Event{
					Kind:    progress.KindError,
					SceneID: scene.ID,
					Message: err.Error(),
				})

				return err
			}

			scene.AudioPath = result.Path
			scene.AudioURL = result.URL
			scene.AudioDurationSeconds = result.DurationSeconds

			reporter.Publish(progress.Event{
				Kind:            progress.KindTTSDone,
				SceneID:         scene.ID,
				AudioURL:        result.URL,
				DurationSeconds: result.DurationSeconds,
			})

			return nil
		},
	)

	return o.failIfAllFailed("narration", scenes, sceneErrors, reporter)
}

// mergeNarration is a degrading stage: on any failure the story ships with
// its per-scene clips and no merged track. A merge is all-or-nothing: when
// any scene lacks a clip it is skipped entirely, since a subset merge would
// produce a track whose timeline is silently missing scenes.
func (o *Orchestrator) mergeNarration(
	ctx context.Context,
	result *story.Story,
	reporter *progress.Reporter,
) {
	story.SortScenes(result.Scenes)

	inputs := make([]audiomerge.Input, 0, len(result.Scenes))

	var missing []int

	for _, scene := range result.Scenes {
		if scene.AudioPath == "" {
			missing = append(missing, scene.ID)

			continue
		}

		inputs = append(inputs, audiomerge.Input{
			SceneID: scene.ID,
			Path:    scene.AudioPath,
		})
	}

	if len(missing) > 0 {
		missingErr := &audiomerge.MissingScenesError{SceneIDs: missing}

		o.logger.Errorf("Audio merge skipped, shipping per-scene clips only: %v", missingErr)
		reporter.Publish(progress.Event{
			Kind:    progress.KindError,
			Message: fmt.Sprintf("audio merge skipped: %v", missingErr),
		})

		return
	}

	if len(inputs) == 0 {
		return
	}

	reporter.Publish(progress.Event{Kind: progress.KindMergeStarted})

	merged, err := o.merger.Merge(ctx, inputs)
	if err != nil {
		o.logger.Errorf("Audio merge failed, shipping per-scene clips only: %v", err)
		reporter.Publish(progress.Event{
			Kind:    progress.KindError,
			Message: fmt.Sprintf("audio merge failed: %v", err),
		})

		return
	}

	result.AudioURL = merged.URL
	result.DurationSeconds = merged.DurationSeconds
	result.Timeline = merged.Timeline

	reporter.Publish(progress.Event{
		Kind:            progress.KindMergeDone,
		AudioURL:        merged.URL,
		DurationSeconds: merged.DurationSeconds,
	})
}

// failIfAllFailed converts a stage where no scene succeeded into an
// AggregateError keyed by scene ID.
func (o *Orchestrator) failIfAllFailed(
	stage string,
	scenes []story.Scene,
	indexErrors map[int]error,
	reporter *progress.Reporter,
) error {
	if len(indexErrors) < len(scenes) || len(scenes) == 0 {
		return nil
	}

	sceneErrors := make(map[int]error, len(indexErrors))
	for index, err := range indexErrors {
		sceneErrors[scenes[index].ID] = err
	}

	aggregate := newAggregateError(stage, sceneErrors)

	reporter.Publish(progress.Event{
		Kind:    progress.KindError,
		Message: aggregate.Error(),
	})

	return aggregate
}

// narrationText prefers the scene's verbatim source sentences so the voice
// track reads the original text, not the compressed summary.
func narrationText(scene *story.Scene) string {
	if len(scene.SourceSentences) > 0 {
		return strings.Join(scene.SourceSentences, " ")
	}

	return scene.Summary
}
