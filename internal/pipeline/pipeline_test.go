package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masibasi/visurai/internal/audiomerge"
	"github.com/masibasi/visurai/internal/imagegen"
	"github.com/masibasi/visurai/internal/pipeline"
	"github.com/masibasi/visurai/internal/progress"
	"github.com/masibasi/visurai/internal/provider"
	"github.com/masibasi/visurai/internal/story"
	"github.com/masibasi/visurai/internal/tts"
)

var (
	errSegmentationDown = errors.New("segmentation down")
	errPromptDown       = errors.New("prompt derivation down")
	errMergeDown        = errors.New("merge down")
)

type mockLanguageModel struct {
	SegmentFunc      func(ctx context.Context, text string, maxScenes int) (string, []story.Scene, error)
	SummarizeFunc    func(ctx context.Context, text string) (string, error)
	DerivePromptFunc func(ctx context.Context, summary, globalSummary, styleGuide string, sources []string) (string, error)
}

func (m *mockLanguageModel) Segment(
	ctx context.Context,
	text string,
	maxScenes int,
) (string, []story.Scene, error) {
	return m.SegmentFunc(ctx, text, maxScenes)
}

func (m *mockLanguageModel) Summarize(ctx context.Context, text string) (string, error) {
	if m.SummarizeFunc == nil {
		return "a global summary", nil
	}

	return m.SummarizeFunc(ctx, text)
}

func (m *mockLanguageModel) DerivePrompt(
	ctx context.Context,
	summary, globalSummary, styleGuide string,
	sources []string,
) (string, error) {
	if m.DerivePromptFunc == nil {
		return "prompt for " + summary, nil
	}

	return m.DerivePromptFunc(ctx, summary, globalSummary, styleGuide, sources)
}

type mockImageGenerator struct {
	GenerateFunc func(ctx context.Context, request imagegen.Request) (string, error)
}

func (m *mockImageGenerator) Generate(
	ctx context.Context,
	request imagegen.Request,
) (string, error) {
	return m.GenerateFunc(ctx, request)
}

type mockSpeech struct {
	SynthesizeFunc func(ctx context.Context, sceneID int, text string) (tts.Result, error)
}

func (m *mockSpeech) Synthesize(
	ctx context.Context,
	sceneID int,
	text string,
) (tts.Result, error) {
	return m.SynthesizeFunc(ctx, sceneID, text)
}

type mockMerger struct {
	MergeFunc func(ctx context.Context, inputs []audiomerge.Input) (audiomerge.Result, error)
}

func (m *mockMerger) Merge(
	ctx context.Context,
	inputs []audiomerge.Input,
) (audiomerge.Result, error) {
	return m.MergeFunc(ctx, inputs)
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return log
}

func threeScenes() []story.Scene {
	return []story.Scene{
		{ID: 1, Summary: "A rocket launches.", SourceSentences: []string{"The rocket launched."}},
		{ID: 2, Summary: "The crew orbits Earth.", SourceSentences: []string{"They orbited twice."}},
		{ID: 3, Summary: "A capsule splashes down.", SourceSentences: []string{"The capsule returned."}},
	}
}

func segmentThree() *mockLanguageModel {
	return &mockLanguageModel{
		SegmentFunc: func(_ context.Context, _ string, _ int) (string, []story.Scene, error) {
			return "Mission Story", threeScenes(), nil
		},
	}
}

func happyImages() *mockImageGenerator {
	return &mockImageGenerator{
		GenerateFunc: func(_ context.Context, request imagegen.Request) (string, error) {
			return "https://cdn.example.com/" + request.Prompt, nil
		},
	}
}

func happySpeech() *mockSpeech {
	return &mockSpeech{
		SynthesizeFunc: func(_ context.Context, sceneID int, _ string) (tts.Result, error) {
			return tts.Result{
				Path:            fmt.Sprintf("/tmp/scene_%d.mp3", sceneID),
				URL:             fmt.Sprintf("/static/audio/scene_%d.mp3", sceneID),
				DurationSeconds: 2.0,
			}, nil
		},
	}
}

func newOrchestrator(
	t *testing.T,
	languageModel pipeline.LanguageModel,
	images imagegen.Generator,
	speech pipeline.SpeechSynthesizer,
	merger pipeline.AudioMerger,
) *pipeline.Orchestrator {
	t.Helper()

	strategy, err := pipeline.StrategyFromName("concurrent")
	require.NoError(t, err)

	return pipeline.New(
		languageModel, images, speech, merger,
		strategy, "soft watercolor style", 8, newTestLogger(t),
	)
}

func collectEvents(reporter *progress.Reporter) []progress.Event {
	var events []progress.Event
	for event := range reporter.Events() {
		events = append(events, event)
	}

	return events
}

func kindsOf(events []progress.Event) []progress.Kind {
	kinds := make([]progress.Kind, 0, len(events))
	for _, event := range events {
		kinds = append(kinds, event.Kind)
	}

	return kinds
}

func TestRunFullPipelineSingleTrack(t *testing.T) {
	t.Parallel()

	merger := &mockMerger{
		MergeFunc: func(_ context.Context, inputs []audiomerge.Input) (audiomerge.Result, error) {
			require.Len(t, inputs, 3)
			// Inputs arrive in scene order.
			assert.Equal(t, []int{1, 2, 3}, []int{
				inputs[0].SceneID, inputs[1].SceneID, inputs[2].SceneID,
			})

			return audiomerge.Result{
				Path:            "/tmp/merged.mp3",
				URL:             "/static/audio/merged.mp3",
				DurationSeconds: 6.0,
				Timeline: []story.TimelineEntry{
					{SceneID: 1, StartSec: 0, DurationSec: 2},
					{SceneID: 2, StartSec: 2, DurationSec: 2},
					{SceneID: 3, StartSec: 4, DurationSec: 2},
				},
			}, nil
		},
	}

	orchestrator := newOrchestrator(t, segmentThree(), happyImages(), happySpeech(), merger)

	reporter := progress.NewReporter(128)

	result, err := orchestrator.Run(
		context.Background(),
		"The rocket launched. They orbited twice. The capsule returned.",
		pipeline.Options{WithAudio: true, SingleTrack: true},
		reporter,
	)
	reporter.Close()
	require.NoError(t, err)

	assert.Equal(t, "Mission Story", result.Title)
	require.Len(t, result.Scenes, 3)

	for i, scene := range result.Scenes {
		assert.Equal(t, i+1, scene.ID)
		assert.NotEmpty(t, scene.Prompt)
		assert.NotEmpty(t, scene.ImageURL)
		assert.NotEmpty(t, scene.AudioURL)
	}

	assert.Equal(t, "/static/audio/merged.mp3", result.AudioURL)
	assert.InDelta(t, 6.0, result.DurationSeconds, 0.0001)
	require.Len(t, result.Timeline, 3)

	events := collectEvents(reporter)
	kinds := kindsOf(events)

	assert.Equal(t, progress.KindStarted, kinds[0])
	assert.Equal(t, progress.KindComplete, kinds[len(kinds)-1])
	assert.Contains(t, kinds, progress.KindSegmented)
	assert.Contains(t, kinds, progress.KindMergeDone)

	// Sequence numbers are strictly increasing.
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq)
	}
}

func TestRunEmptyInput(t *testing.T) {
	t.Parallel()

	orchestrator := newOrchestrator(t, segmentThree(), happyImages(), nil, nil)

	_, err := orchestrator.Run(context.Background(), "  \n ", pipeline.Options{}, nil)
	require.ErrorIs(t, err, pipeline.ErrEmptyInput)
}

func TestRunSegmentationFailurePropagates(t *testing.T) {
	t.Parallel()

	languageModel := &mockLanguageModel{
		SegmentFunc: func(_ context.Context, _ string, _ int) (string, []story.Scene, error) {
			return "", nil, errSegmentationDown
		},
	}

	orchestrator := newOrchestrator(t, languageModel, happyImages(), nil, nil)

	_, err := orchestrator.Run(context.Background(), "some text", pipeline.Options{}, nil)
	require.ErrorIs(t, err, errSegmentationDown)
}

func TestRunPartialImageFailureDegrades(t *testing.T) {
	t.Parallel()

	images := &mockImageGenerator{
		GenerateFunc: func(_ context.Context, request imagegen.Request) (string, error) {
			if strings.Contains(request.Prompt, "orbits") {
				return "", &provider.Error{
					Provider: "flux",
					Kind:     provider.FailureUnavailable,
					Message:  "timeout",
				}
			}

			return "https://cdn.example.com/ok.png", nil
		},
	}

	orchestrator := newOrchestrator(t, segmentThree(), images, nil, nil)

	reporter := progress.NewReporter(128)

	result, err := orchestrator.Run(
		context.Background(), "some text", pipeline.Options{}, reporter,
	)
	reporter.Close()
	require.NoError(t, err)

	require.Len(t, result.Scenes, 3)
	assert.NotEmpty(t, result.Scenes[0].ImageURL)
	assert.Empty(t, result.Scenes[1].ImageURL)
	assert.NotEmpty(t, result.Scenes[2].ImageURL)

	kinds := kindsOf(collectEvents(reporter))
	assert.Contains(t, kinds, progress.KindError)
	assert.Equal(t, progress.KindComplete, kinds[len(kinds)-1])
}

func TestRunAllImagesFailAggregates(t *testing.T) {
	t.Parallel()

	images := &mockImageGenerator{
		GenerateFunc: func(_ context.Context, _ imagegen.Request) (string, error) {
			return "", &provider.Error{
				Provider: "flux",
				Kind:     provider.FailureCreditExhausted,
				Message:  "out of credits",
			}
		},
	}

	orchestrator := newOrchestrator(t, segmentThree(), images, nil, nil)

	_, err := orchestrator.Run(context.Background(), "some text", pipeline.Options{}, nil)

	var aggregate *pipeline.AggregateError

	require.ErrorAs(t, err, &aggregate)
	assert.Equal(t, "image generation", aggregate.Stage)
	assert.Equal(t, provider.FailureCreditExhausted, aggregate.Kind)
	assert.Len(t, aggregate.Scenes, 3)
}

func TestRunPromptDerivationFallsBackToSummary(t *testing.T) {
	t.Parallel()

	languageModel := segmentThree()
	languageModel.DerivePromptFunc = func(
		_ context.Context, _, _, _ string, _ []string,
	) (string, error) {
		return "", errPromptDown
	}

	var prompts atomic.Value

	images := &mockImageGenerator{
		GenerateFunc: func(_ context.Context, request imagegen.Request) (string, error) {
			if request.Prompt != "" && prompts.Load() == nil {
				prompts.Store(request.Prompt)
			}

			return "https://cdn.example.com/ok.png", nil
		},
	}

	orchestrator := newOrchestrator(t, languageModel, images, nil, nil)

	result, err := orchestrator.Run(context.Background(), "some text", pipeline.Options{}, nil)
	require.NoError(t, err)

	for _, scene := range result.Scenes {
		assert.Contains(t, scene.Prompt, scene.Summary)
		assert.Contains(t, scene.Prompt, "soft watercolor style")
	}
}

func TestRunMergeFailureDegrades(t *testing.T) {
	t.Parallel()

	merger := &mockMerger{
		MergeFunc: func(_ context.Context, _ []audiomerge.Input) (audiomerge.Result, error) {
			return audiomerge.Result{}, errMergeDown
		},
	}

	orchestrator := newOrchestrator(t, segmentThree(), happyImages(), happySpeech(), merger)

	reporter := progress.NewReporter(128)

	result, err := orchestrator.Run(
		context.Background(),
		"some text",
		pipeline.Options{WithAudio: true, SingleTrack: true},
		reporter,
	)
	reporter.Close()
	require.NoError(t, err)

	// Per-scene audio survives; the merged track is simply absent.
	assert.Empty(t, result.AudioURL)
	assert.Empty(t, result.Timeline)

	for _, scene := range result.Scenes {
		assert.NotEmpty(t, scene.AudioURL)
	}

	kinds := kindsOf(collectEvents(reporter))
	assert.Contains(t, kinds, progress.KindError)
	assert.NotContains(t, kinds, progress.KindMergeDone)
}

func TestRunPartialNarrationSkipsMerge(t *testing.T) {
	t.Parallel()

	speech := &mockSpeech{
		SynthesizeFunc: func(_ context.Context, sceneID int, _ string) (tts.Result, error) {
			if sceneID == 2 {
				return tts.Result{}, &provider.Error{
					Provider: "tts",
					Kind:     provider.FailureUnavailable,
					Message:  "timeout",
				}
			}

			return tts.Result{
				Path:            fmt.Sprintf("/tmp/scene_%d.mp3", sceneID),
				URL:             fmt.Sprintf("/static/audio/scene_%d.mp3", sceneID),
				DurationSeconds: 2.0,
			}, nil
		},
	}

	merger := &mockMerger{
		MergeFunc: func(_ context.Context, inputs []audiomerge.Input) (audiomerge.Result, error) {
			t.Errorf("merge must not run with scenes missing audio, got inputs %v", inputs)

			return audiomerge.Result{}, nil
		},
	}

	orchestrator := newOrchestrator(t, segmentThree(), happyImages(), speech, merger)

	reporter := progress.NewReporter(128)

	result, err := orchestrator.Run(
		context.Background(),
		"some text",
		pipeline.Options{WithAudio: true, SingleTrack: true},
		reporter,
	)
	reporter.Close()
	require.NoError(t, err)

	// The surviving clips ship per scene; no merged track exists.
	assert.Empty(t, result.AudioURL)
	assert.Empty(t, result.Timeline)
	assert.NotEmpty(t, result.Scenes[0].AudioURL)
	assert.Empty(t, result.Scenes[1].AudioURL)
	assert.NotEmpty(t, result.Scenes[2].AudioURL)

	events := collectEvents(reporter)
	kinds := kindsOf(events)
	assert.NotContains(t, kinds, progress.KindMergeStarted)
	assert.NotContains(t, kinds, progress.KindMergeDone)

	found := false

	for _, event := range events {
		if event.Kind == progress.KindError &&
			strings.Contains(event.Message, "scenes [2]") {
			found = true
		}
	}

	assert.True(t, found, "expected an error event naming the audio-less scene")
}

func TestRunAllNarrationFailsAggregates(t *testing.T) {
	t.Parallel()

	speech := &mockSpeech{
		SynthesizeFunc: func(_ context.Context, _ int, _ string) (tts.Result, error) {
			return tts.Result{}, &provider.Error{
				Provider: "tts",
				Kind:     provider.FailureUnavailable,
				Message:  "down",
			}
		},
	}

	orchestrator := newOrchestrator(t, segmentThree(), happyImages(), speech, nil)

	_, err := orchestrator.Run(
		context.Background(), "some text", pipeline.Options{WithAudio: true}, nil,
	)

	var aggregate *pipeline.AggregateError

	require.ErrorAs(t, err, &aggregate)
	assert.Equal(t, "narration", aggregate.Stage)
	assert.Equal(t, provider.FailureUnavailable, aggregate.Kind)
}

func TestRunTitleFallsBackToFirstSceneSummary(t *testing.T) {
	t.Parallel()

	languageModel := &mockLanguageModel{
		SegmentFunc: func(_ context.Context, _ string, _ int) (string, []story.Scene, error) {
			return "", []story.Scene{{ID: 1, Summary: "A storm gathers."}}, nil
		},
	}

	orchestrator := newOrchestrator(t, languageModel, happyImages(), nil, nil)

	result, err := orchestrator.Run(context.Background(), "some text", pipeline.Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "A storm gathers.", result.Title)
}

func TestRunPassesSceneOptionsThrough(t *testing.T) {
	t.Parallel()

	seed := int64(42)

	images := &mockImageGenerator{
		GenerateFunc: func(_ context.Context, request imagegen.Request) (string, error) {
			assert.Equal(t, "21:9", request.AspectRatio)
			require.NotNil(t, request.Seed)
			assert.Equal(t, seed, *request.Seed)

			return "https://cdn.example.com/ok.png", nil
		},
	}

	languageModel := segmentThree()

	var maxSeen atomic.Int64

	languageModel.SegmentFunc = func(
		_ context.Context, _ string, maxScenes int,
	) (string, []story.Scene, error) {
		maxSeen.Store(int64(maxScenes))

		return "T", threeScenes(), nil
	}

	orchestrator := newOrchestrator(t, languageModel, images, nil, nil)

	_, err := orchestrator.Run(context.Background(), "some text", pipeline.Options{
		MaxScenes:   5,
		AspectRatio: "21:9",
		Seed:        &seed,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), maxSeen.Load())
}
