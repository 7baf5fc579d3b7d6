// Package worker provides a NATS worker for processing story generation jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/masibasi/visurai/internal/events"
	"github.com/masibasi/visurai/internal/pipeline"
	"github.com/masibasi/visurai/internal/progress"
	"github.com/masibasi/visurai/internal/story"
)

const (
	// NatsConnectTimeoutSeconds defines the timeout for NATS connection attempts.
	NatsConnectTimeoutSeconds = 10
	// NatsMaxReconnectAttempts defines the maximum number of reconnect attempts for NATS.
	NatsMaxReconnectAttempts = 5
	// NatsFetchMaxWaitSeconds defines the maximum time to wait for messages during a fetch operation.
	NatsFetchMaxWaitSeconds = 5

	progressBuffer = 256
)

// ErrNoInput indicates a request event carrying neither text nor an image.
var ErrNoInput = errors.New("worker: request carries neither text nor image_url")

// TextExtractor turns a request's image URL into pipeline input text.
type TextExtractor interface {
	FromURL(ctx context.Context, imageURL string) (string, error)
}

// StoryPipeline runs one generation end to end.
type StoryPipeline interface {
	Run(
		ctx context.Context,
		text string,
		options pipeline.Options,
		reporter *progress.Reporter,
	) (*story.Story, error)
}

// Config names the subjects the worker consumes and publishes on.
type Config struct {
	URL                   string
	StreamName            string
	RequestSubject        string
	ConsumerName          string
	ProgressSubjectPrefix string
	CompletedSubject      string
	DeadLetterSubject     string
}

// NatsWorker manages the NATS connection and message consumption. Progress
// events for a run are republished live on a per-workflow subject so
// frontends can stream them while the run is still going.
type NatsWorker struct {
	jetstream nats.JetStreamContext
	nc        *nats.Conn
	pipeline  StoryPipeline
	extractor TextExtractor
	config    Config
	logger    *logger.Logger
}

// New connects to NATS and verifies the stream exists.
func New(
	config Config,
	storyPipeline StoryPipeline,
	extractor TextExtractor,
	log *logger.Logger,
) (*NatsWorker, error) {
	natsConn, err := nats.Connect(
		config.URL,
		nats.Timeout(NatsConnectTimeoutSeconds*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(NatsMaxReconnectAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Infof("Connected to NATS server at %s", config.URL)

	jetstream, err := natsConn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get JetStream context: %w", err)
	}

	// Ensure the stream exists.
	_, streamInfoErr := jetstream.StreamInfo(config.StreamName)
	if streamInfoErr != nil {
		return nil, fmt.Errorf("stream '%s' not found: %w", config.StreamName, streamInfoErr)
	}

	log.Infof("Found stream '%s'.", config.StreamName)

	return &NatsWorker{
		nc:        natsConn,
		jetstream: jetstream,
		pipeline:  storyPipeline,
		extractor: extractor,
		config:    config,
		logger:    log,
	}, nil
}

// Run starts the worker's message processing loop.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.jetstream.PullSubscribe(
		w.config.RequestSubject,
		w.config.ConsumerName,
		nats.BindStream(w.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("pull subscribe: %w", err)
	}

	w.logger.Infof("Consumer '%s' is ready.", w.config.ConsumerName)
	w.logger.Infof("Worker is running, listening for jobs on '%s'...", w.config.RequestSubject)

	for {
		select {
		case <-ctx.Done():
			w.logger.Infof("Context canceled, worker shutting down.")

			return nil
		default:
			msgs, err := sub.Fetch(1, nats.MaxWait(NatsFetchMaxWaitSeconds*time.Second))
			if err != nil {
				if errors.Is(err, nats.ErrTimeout) {
					continue // No messages, just loop again.
				}

				w.logger.Errorf("Fetch messages: %v", err)

				continue
			}

			if len(msgs) > 0 {
				w.handleMsg(ctx, msgs[0])
			}
		}
	}
}

// Close drains the NATS connection.
func (w *NatsWorker) Close() {
	err := w.nc.Drain()
	if err != nil {
		w.logger.Errorf("Failed to drain NATS connection: %v", err)
	}
}

func (w *NatsWorker) handleMsg(ctx context.Context, msg *nats.Msg) {
	startTime := time.Now()

	metaErr := w.checkMessageMetadata(msg)
	if metaErr != nil {
		w.handleMessageMetadataError(msg, metaErr)

		return
	}

	var event events.StoryRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.handleMessageMetadataError(
			msg,
			fmt.Errorf("failed to unmarshal StoryRequestedEvent: %w", err),
		)

		return
	}

	w.logger.Infof("Processing job for workflow: %s", event.Header.WorkflowID)

	result, processErr := w.runStory(ctx, &event)
	if processErr != nil {
		w.handleMessagePipelineError(msg, &event, processErr)

		return
	}

	publishErr := w.publishCompleted(&event, result)
	if publishErr != nil {
		w.handleMessagePipelineError(msg, &event, publishErr)

		return
	}

	w.logger.Successf(
		"Generated story %q (%d scenes) for workflow %s in %s",
		result.Title, len(result.Scenes), event.Header.WorkflowID, time.Since(startTime),
	)

	ackErr := msg.Ack()
	if ackErr != nil {
		w.logger.Errorf(
			"failed to acknowledge successful message for workflow %s: %v",
			event.Header.WorkflowID,
			ackErr,
		)
	}
}

// runStory resolves the input text, then runs the pipeline while streaming
// its progress events to the per-workflow subject.
func (w *NatsWorker) runStory(
	ctx context.Context,
	event *events.StoryRequestedEvent,
) (*story.Story, error) {
	text := event.Text

	if text == "" && event.ImageURL != "" {
		extracted, err := w.extractor.FromURL(ctx, event.ImageURL)
		if err != nil {
			return nil, fmt.Errorf("extract text from image: %w", err)
		}

		text = extracted
	}

	if text == "" {
		return nil, ErrNoInput
	}

	reporter := progress.NewReporter(progressBuffer)

	var drained sync.WaitGroup

	drained.Add(1)

	go func() {
		defer drained.Done()
		w.streamProgress(event.Header.WorkflowID, reporter)
	}()

	result, err := w.pipeline.Run(ctx, text, pipeline.Options{
		MaxScenes:   event.MaxScenes,
		WithAudio:   event.WithAudio,
		SingleTrack: event.SingleTrack,
		AspectRatio: event.AspectRatio,
		Seed:        nil,
	}, reporter)

	reporter.Close()
	drained.Wait()

	if err != nil {
		return nil, fmt.Errorf("pipeline failed for workflow '%s': %w", event.Header.WorkflowID, err)
	}

	return result, nil
}

// streamProgress republishes the run's progress events on
// <prefix>.<workflow_id> until the reporter closes. Publish failures are
// logged and skipped; progress streaming never gates the run.
func (w *NatsWorker) streamProgress(workflowID string, reporter *progress.Reporter) {
	subject := w.config.ProgressSubjectPrefix + "." + workflowID

	for event := range reporter.Events() {
		payload, err := json.Marshal(event)
		if err != nil {
			w.logger.Errorf("Failed to marshal progress event: %v", err)

			continue
		}

		publishErr := w.nc.Publish(subject, payload)
		if publishErr != nil {
			w.logger.Errorf("Failed to publish progress event: %v", publishErr)
		}
	}
}

func (w *NatsWorker) publishCompleted(
	event *events.StoryRequestedEvent,
	result *story.Story,
) error {
	completed := events.StoryCompletedEvent{
		Header: event.Header,
		Story:  *result,
	}

	payload, err := json.Marshal(completed)
	if err != nil {
		return fmt.Errorf("failed to marshal StoryCompletedEvent: %w", err)
	}

	_, publishErr := w.jetstream.Publish(w.config.CompletedSubject, payload)
	if publishErr != nil {
		return fmt.Errorf("failed to publish StoryCompletedEvent: %w", publishErr)
	}

	return nil
}

func (w *NatsWorker) checkMessageMetadata(msg *nats.Msg) error {
	_, metaErr := msg.Metadata()
	if metaErr != nil {
		return fmt.Errorf("failed to get message metadata: %w", metaErr)
	}

	return nil
}

func (w *NatsWorker) handleMessageMetadataError(msg *nats.Msg, metaErr error) {
	w.logger.Errorf(
		"Failed to get message metadata: %v. Acknowledging to discard.",
		metaErr,
	)

	ackErr := msg.Ack()
	if ackErr != nil {
		w.logger.Errorf("failed to acknowledge message: %v", ackErr)
	}
}

func (w *NatsWorker) handleMessagePipelineError(
	msg *nats.Msg,
	event *events.StoryRequestedEvent,
	pipelineErr error,
) {
	w.logger.Errorf("Pipeline failed for workflow '%s': %v", event.Header.WorkflowID, pipelineErr)

	failed := events.StoryFailedEvent{
		Header: event.Header,
		Error:  pipelineErr.Error(),
	}

	payload, marshalErr := json.Marshal(failed)
	if marshalErr == nil {
		_, pubErr := w.jetstream.Publish(w.config.DeadLetterSubject, payload)
		if pubErr != nil {
			w.logger.Errorf(
				"Failed to publish failure to dead-letter subject for workflow %s: %v",
				event.Header.WorkflowID,
				pubErr,
			)
		}
	}

	ackErr := msg.Ack()
	if ackErr != nil {
		w.logger.Errorf(
			"failed to acknowledge failed message for workflow %s: %v",
			event.Header.WorkflowID,
			ackErr,
		)
	}
}
