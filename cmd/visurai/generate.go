package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/masibasi/visurai/internal/pipeline"
	"github.com/masibasi/visurai/internal/progress"
)

var errNoGenerateInput = errors.New("one of --text, --file, or --image is required")

const generateProgressBuffer = 256

func newGenerateCommand(configFlag *string) *cobra.Command {
	var (
		textFlag        string
		fileFlag        string
		imageFlag       string
		scenesFlag      int
		audioFlag       bool
		singleTrackFlag bool
		aspectRatioFlag string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one story from text, a text file, or an image URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(
				context.Background(),
				syscall.SIGINT,
				syscall.SIGTERM,
			)
			defer stop()

			application, err := buildApp(ctx, *configFlag)
			if err != nil {
				return err
			}

			text, err := resolveInput(ctx, application, textFlag, fileFlag, imageFlag)
			if err != nil {
				return err
			}

			reporter := progress.NewReporter(generateProgressBuffer)

			var drained sync.WaitGroup

			drained.Add(1)

			go func() {
				defer drained.Done()

				for event := range reporter.Events() {
					application.log.Infof(
						"[%s] scene=%d %s",
						event.Kind, event.SceneID, event.Message,
					)
				}
			}()

			result, runErr := application.orchestrator.Run(ctx, text, pipeline.Options{
				MaxScenes:   scenesFlag,
				WithAudio:   audioFlag,
				SingleTrack: singleTrackFlag,
				AspectRatio: aspectRatioFlag,
				Seed:        nil,
			}, reporter)

			reporter.Close()
			drained.Wait()

			if runErr != nil {
				return runErr
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")

			return encoder.Encode(result)
		},
	}

	cmd.Flags().StringVar(&textFlag, "text", "", "Input text to visualize")
	cmd.Flags().StringVar(&fileFlag, "file", "", "Path to a text file to visualize")
	cmd.Flags().StringVar(&imageFlag, "image", "", "URL of an image to extract text from")
	cmd.Flags().IntVar(&scenesFlag, "scenes", 0, "Maximum number of scenes (0 uses the configured default)")
	cmd.Flags().BoolVar(&audioFlag, "audio", false, "Narrate each scene")
	cmd.Flags().BoolVar(&singleTrackFlag, "single-track", false, "Merge narration into one track with a timeline")
	cmd.Flags().StringVar(&aspectRatioFlag, "aspect-ratio", "", "Image aspect ratio, e.g. 16:9")

	return cmd
}

func resolveInput(
	ctx context.Context,
	application *app,
	textFlag, fileFlag, imageFlag string,
) (string, error) {
	switch {
	case textFlag != "":
		return textFlag, nil
	case fileFlag != "":
		data, err := os.ReadFile(fileFlag)
		if err != nil {
			return "", fmt.Errorf("read input file: %w", err)
		}

		return string(data), nil
	case imageFlag != "":
		text, err := application.extractor.FromURL(ctx, imageFlag)
		if err != nil {
			return "", fmt.Errorf("extract text from image: %w", err)
		}

		return text, nil
	default:
		return "", errNoGenerateInput
	}
}
