// Package audiomerge_test contains tests for the ffmpeg concat merger.
package audiomerge_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masibasi/visurai/internal/audiomerge"
)

var errFfmpegCrashed = errors.New("ffmpeg crashed")

type mockRunner struct {
	RunFunc func(ctx context.Context, name string, args ...string) (string, string, error)
}

func (m *mockRunner) Run(
	ctx context.Context,
	name string,
	args ...string,
) (string, string, error) {
	return m.RunFunc(ctx, name, args...)
}

// mockProber returns per-path durations, with a distinct value for the
// merged output.
type mockProber struct {
	clips  map[string]float64
	merged float64
}

func (m *mockProber) Duration(_ context.Context, path string) (float64, error) {
	if duration, ok := m.clips[path]; ok {
		return duration, nil
	}

	return m.merged, nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return log
}

func writeClip(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte("fake-mp3"), 0o644)
	require.NoError(t, err)

	return path
}

func okRunner() *mockRunner {
	return &mockRunner{
		RunFunc: func(_ context.Context, _ string, _ ...string) (string, string, error) {
			return "", "", nil
		},
	}
}

func TestMergeBuildsContiguousTimeline(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clipA := writeClip(t, dir, "a.mp3")
	clipB := writeClip(t, dir, "b.mp3")
	clipC := writeClip(t, dir, "c.mp3")

	prober := &mockProber{
		clips:  map[string]float64{clipA: 2.0, clipB: 3.5, clipC: 1.5},
		merged: 7.0,
	}

	merger := audiomerge.NewMergerWithRunner(
		"ffmpeg", okRunner(), dir, "/static/audio", prober, newTestLogger(t),
	)

	result, err := merger.Merge(context.Background(), []audiomerge.Input{
		{SceneID: 1, Path: clipA},
		{SceneID: 2, Path: clipB},
		{SceneID: 3, Path: clipC},
	})
	require.NoError(t, err)

	assert.InDelta(t, 7.0, result.DurationSeconds, 0.0001)
	assert.True(t, strings.HasPrefix(result.URL, "/static/audio/merged_"))

	require.Len(t, result.Timeline, 3)
	assert.Equal(t, 1, result.Timeline[0].SceneID)
	assert.InDelta(t, 0.0, result.Timeline[0].StartSec, 0.0001)
	assert.InDelta(t, 2.0, result.Timeline[1].StartSec, 0.0001)
	assert.InDelta(t, 5.5, result.Timeline[2].StartSec, 0.0001)

	// Entries are contiguous: each start is the sum of preceding durations.
	total := 0.0
	for _, entry := range result.Timeline {
		assert.InDelta(t, total, entry.StartSec, 0.0001)
		total += entry.DurationSec
	}

	assert.InDelta(t, result.DurationSeconds, total, 0.0001)
}

func TestMergeRescalesTimelineOnDiscrepancy(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clipA := writeClip(t, dir, "a.mp3")
	clipB := writeClip(t, dir, "b.mp3")

	prober := &mockProber{
		clips: map[string]float64{clipA: 2.0, clipB: 2.0},
		// Concat shifted frame boundaries: the merged track measures
		// half a second longer than the clip sum.
		merged: 4.5,
	}

	merger := audiomerge.NewMergerWithRunner(
		"ffmpeg", okRunner(), dir, "/static/audio", prober, newTestLogger(t),
	)

	result, err := merger.Merge(context.Background(), []audiomerge.Input{
		{SceneID: 1, Path: clipA},
		{SceneID: 2, Path: clipB},
	})
	require.NoError(t, err)

	require.Len(t, result.Timeline, 2)
	assert.InDelta(t, 2.25, result.Timeline[0].DurationSec, 0.0001)
	assert.InDelta(t, 2.25, result.Timeline[1].DurationSec, 0.0001)
	assert.InDelta(t, 2.25, result.Timeline[1].StartSec, 0.0001)
}

func TestMergeReportsMissingScenes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clipA := writeClip(t, dir, "a.mp3")

	merger := audiomerge.NewMergerWithRunner(
		"ffmpeg", okRunner(), dir, "/static/audio",
		&mockProber{merged: 1.0}, newTestLogger(t),
	)

	_, err := merger.Merge(context.Background(), []audiomerge.Input{
		{SceneID: 1, Path: clipA},
		{SceneID: 3, Path: filepath.Join(dir, "gone-3.mp3")},
		{SceneID: 2, Path: filepath.Join(dir, "gone-2.mp3")},
	})

	var missingErr *audiomerge.MissingScenesError

	require.ErrorAs(t, err, &missingErr)
	assert.Equal(t, []int{2, 3}, missingErr.SceneIDs)
}

func TestMergeWritesConcatListInOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clipA := writeClip(t, dir, "a.mp3")
	clipB := writeClip(t, dir, "b.mp3")

	var listContent string

	runner := &mockRunner{
		RunFunc: func(_ context.Context, name string, args ...string) (string, string, error) {
			assert.Equal(t, "ffmpeg", name)
			assert.Contains(t, args, "concat")
			assert.Contains(t, args, "copy")

			for i, arg := range args {
				if arg == "-i" {
					data, err := os.ReadFile(args[i+1])
					require.NoError(t, err)

					listContent = string(data)
				}
			}

			return "", "", nil
		},
	}

	prober := &mockProber{
		clips:  map[string]float64{clipA: 1.0, clipB: 1.0},
		merged: 2.0,
	}

	merger := audiomerge.NewMergerWithRunner(
		"ffmpeg", runner, dir, "/static/audio", prober, newTestLogger(t),
	)

	_, err := merger.Merge(context.Background(), []audiomerge.Input{
		{SceneID: 1, Path: clipA},
		{SceneID: 2, Path: clipB},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(listContent), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "file '"+clipA+"'", lines[0])
	assert.Equal(t, "file '"+clipB+"'", lines[1])
}

func TestMergeToolFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clipA := writeClip(t, dir, "a.mp3")

	runner := &mockRunner{
		RunFunc: func(_ context.Context, _ string, _ ...string) (string, string, error) {
			return "", "invalid data found", errFfmpegCrashed
		},
	}

	merger := audiomerge.NewMergerWithRunner(
		"ffmpeg", runner, dir, "/static/audio",
		&mockProber{clips: map[string]float64{clipA: 1.0}}, newTestLogger(t),
	)

	_, err := merger.Merge(context.Background(), []audiomerge.Input{
		{SceneID: 1, Path: clipA},
	})
	require.ErrorIs(t, err, errFfmpegCrashed)
	assert.Contains(t, err.Error(), "invalid data found")
}

func TestMergeNoInputs(t *testing.T) {
	t.Parallel()

	merger := audiomerge.NewMergerWithRunner(
		"ffmpeg", okRunner(), t.TempDir(), "/static/audio",
		&mockProber{}, newTestLogger(t),
	)

	_, err := merger.Merge(context.Background(), nil)
	require.ErrorIs(t, err, audiomerge.ErrNoInputs)
}
