// Package ffprobe measures media durations with the external ffprobe tool.
// Durations feed the audio timeline, so they come from container metadata,
// never from text-length estimates.
package ffprobe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrEmptyPath indicates a probe request without a file path.
var ErrEmptyPath = errors.New("ffprobe: empty path")

// Runner abstracts external process execution for testability.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

// ExecRunner executes commands via os/exec.
type ExecRunner struct{}

// Run executes one command and captures stdout and stderr.
func (ExecRunner) Run(
	ctx context.Context,
	name string,
	args ...string,
) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("run %s: %w", name, err)
	}

	return stdout.String(), stderr.String(), nil
}

// Prober reads playable durations from audio files.
type Prober struct {
	binary string
	runner Runner
}

// NewProber constructs a prober using ffprobe from PATH.
func NewProber() *Prober {
	return &Prober{
		binary: "ffprobe",
		runner: ExecRunner{},
	}
}

// NewProberWithRunner constructs a prober with an injected runner.
func NewProberWithRunner(binary string, runner Runner) *Prober {
	if binary == "" {
		binary = "ffprobe"
	}

	return &Prober{
		binary: binary,
		runner: runner,
	}
}

// Duration returns the container-reported duration of the file in seconds.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	if strings.TrimSpace(path) == "" {
		return 0, ErrEmptyPath
	}

	stdout, stderr, err := p.runner.Run(ctx, p.binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w (stderr: %s)", path, err, strings.TrimSpace(stderr))
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q for %s: %w", strings.TrimSpace(stdout), path, err)
	}

	return seconds, nil
}
