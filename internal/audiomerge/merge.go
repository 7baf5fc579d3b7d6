// Package audiomerge concatenates per-scene narration clips into a single
// track with ffmpeg and computes the scene timeline against the merged
// file's real duration.
package audiomerge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/masibasi/visurai/internal/ffprobe"
	"github.com/masibasi/visurai/internal/story"
)

var (
	// ErrNoInputs indicates a merge request with zero clips.
	ErrNoInputs = errors.New("audiomerge: no input clips")
)

// Clip durations and the merged total are both container metadata, but
// concat can shift frame boundaries slightly. Discrepancies beyond this
// tolerance trigger a proportional timeline rescale.
const durationTolerance = 0.05

const (
	mergeDirPerms = 0o755
)

// Input is one scene clip to merge, in playback order.
type Input struct {
	SceneID int
	Path    string
}

// Result is the merged track plus its timeline.
type Result struct {
	Path            string
	URL             string
	DurationSeconds float64
	Timeline        []story.TimelineEntry
}

// MissingScenesError reports clips that vanished between synthesis and
// merge. The merge refuses to run with holes: a track silently missing
// scenes would desynchronize the timeline.
type MissingScenesError struct {
	SceneIDs []int
}

func (e *MissingScenesError) Error() string {
	return fmt.Sprintf("audiomerge: clips missing for scenes %v", e.SceneIDs)
}

// DurationProber measures the playable duration of an audio file.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Merger concatenates clips with ffmpeg's concat demuxer. Stream copy keeps
// the merge fast and lossless; all clips come from the same encoder so no
// re-encode is needed.
type Merger struct {
	binary         string
	runner         ffprobe.Runner
	prober         DurationProber
	outputDir      string
	publicBasePath string
	logger         *logger.Logger
}

// NewMerger creates a merger using ffmpeg from PATH.
func NewMerger(
	outputDir, publicBasePath string,
	prober DurationProber,
	log *logger.Logger,
) *Merger {
	return &Merger{
		binary:         "ffmpeg",
		runner:         ffprobe.ExecRunner{},
		prober:         prober,
		outputDir:      outputDir,
		publicBasePath: publicBasePath,
		logger:         log,
	}
}

// NewMergerWithRunner creates a merger with an injected process runner.
func NewMergerWithRunner(
	binary string,
	runner ffprobe.Runner,
	outputDir, publicBasePath string,
	prober DurationProber,
	log *logger.Logger,
) *Merger {
	if binary == "" {
		binary = "ffmpeg"
	}

	return &Merger{
		binary:         binary,
		runner:         runner,
		prober:         prober,
		outputDir:      outputDir,
		publicBasePath: publicBasePath,
		logger:         log,
	}
}

// Merge concatenates the clips in input order and returns the merged track
// with a timeline whose entries sum to the track's measured duration.
func (m *Merger) Merge(ctx context.Context, inputs []Input) (Result, error) {
	if len(inputs) == 0 {
		return Result{}, ErrNoInputs
	}

	err := m.checkInputs(inputs)
	if err != nil {
		return Result{}, err
	}

	timeline, clipSum, err := m.measureClips(ctx, inputs)
	if err != nil {
		return Result{}, err
	}

	outputPath, err := m.concatenate(ctx, inputs)
	if err != nil {
		return Result{}, err
	}

	total, err := m.prober.Duration(ctx, outputPath)
	if err != nil {
		return Result{}, fmt.Errorf("measure merged track: %w", err)
	}

	timeline = rescaleTimeline(timeline, clipSum, total)

	m.logger.Infof(
		"Merged %d clips into %s (%.2fs total)",
		len(inputs), outputPath, total,
	)

	return Result{
		Path:            outputPath,
		URL:             m.publicURL(outputPath),
		DurationSeconds: total,
		Timeline:        timeline,
	}, nil
}

// checkInputs verifies every clip still exists on disk.
func (m *Merger) checkInputs(inputs []Input) error {
	var missing []int

	for _, input := range inputs {
		_, err := os.Stat(input.Path)
		if err != nil {
			missing = append(missing, input.SceneID)
		}
	}

	if len(missing) > 0 {
		sort.Ints(missing)

		return &MissingScenesError{SceneIDs: missing}
	}

	return nil
}

func (m *Merger) measureClips(
	ctx context.Context,
	inputs []Input,
) ([]story.TimelineEntry, float64, error) {
	timeline := make([]story.TimelineEntry, 0, len(inputs))
	cursor := 0.0

	for _, input := range inputs {
		duration, err := m.prober.Duration(ctx, input.Path)
		if err != nil {
			return nil, 0, fmt.Errorf(
				"measure clip for scene %d: %w",
				input.SceneID,
				err,
			)
		}

		timeline = append(timeline, story.TimelineEntry{
			SceneID:     input.SceneID,
			StartSec:    cursor,
			DurationSec: duration,
		})
		cursor += duration
	}

	return timeline, cursor, nil
}

func (m *Merger) concatenate(ctx context.Context, inputs []Input) (string, error) {
	err := os.MkdirAll(m.outputDir, mergeDirPerms)
	if err != nil {
		return "", fmt.Errorf("create merge output dir: %w", err)
	}

	listPath, err := m.writeConcatList(inputs)
	if err != nil {
		return "", err
	}

	defer func() {
		removeErr := os.Remove(listPath)
		if removeErr != nil {
			m.logger.Warnf("Failed to remove concat list %s: %v", listPath, removeErr)
		}
	}()

	outputPath := filepath.Join(m.outputDir, fmt.Sprintf(
		"merged_%d_%s.mp3",
		time.Now().UnixNano(),
		uuid.NewString()[:6],
	))

	_, stderr, err := m.runner.Run(ctx, m.binary,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outputPath,
	)
	if err != nil {
		return "", fmt.Errorf(
			"ffmpeg concat: %w (stderr: %s)",
			err,
			strings.TrimSpace(stderr),
		)
	}

	return outputPath, nil
}

// writeConcatList writes the concat demuxer input file. Single quotes in
// paths are escaped per the demuxer's quoting rules.
func (m *Merger) writeConcatList(inputs []Input) (string, error) {
	listFile, err := os.CreateTemp(m.outputDir, "concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create concat list: %w", err)
	}

	var builder strings.Builder

	for _, input := range inputs {
		escaped := strings.ReplaceAll(input.Path, "'", `'\''`)
		fmt.Fprintf(&builder, "file '%s'\n", escaped)
	}

	_, err = listFile.WriteString(builder.String())
	if err != nil {
		_ = listFile.Close()

		return "", fmt.Errorf("write concat list: %w", err)
	}

	err = listFile.Close()
	if err != nil {
		return "", fmt.Errorf("close concat list: %w", err)
	}

	return listFile.Name(), nil
}

// rescaleTimeline stretches or shrinks entries proportionally when the
// merged track's measured duration disagrees with the clip sum beyond
// tolerance, so entry starts and durations always line up with the real
// track.
func rescaleTimeline(
	timeline []story.TimelineEntry,
	clipSum, total float64,
) []story.TimelineEntry {
	if clipSum <= 0 || math.Abs(clipSum-total) <= durationTolerance {
		return timeline
	}

	factor := total / clipSum
	cursor := 0.0

	for i := range timeline {
		timeline[i].DurationSec *= factor
		timeline[i].StartSec = cursor
		cursor += timeline[i].DurationSec
	}

	return timeline
}

func (m *Merger) publicURL(path string) string {
	base := strings.TrimRight(m.publicBasePath, "/")

	return base + "/" + filepath.Base(path)
}
