// Package progress provides the per-run event channel the orchestrator uses
// to publish lifecycle events for live streaming by a transport consumer.
package progress

import (
	"sync"
	"time"
)

// Kind tags a progress event.
type Kind string

const (
	KindStarted      Kind = "started"
	KindSegmented    Kind = "segmented"
	KindSummarized   Kind = "summarized"
	KindPrompt       Kind = "prompt"
	KindImageStarted Kind = "image:started"
	KindImageDone    Kind = "image:done"
	KindTTSStarted   Kind = "tts:started"
	KindTTSDone      Kind = "tts:done"
	KindMergeStarted Kind = "tts:merge_started"
	KindMergeDone    Kind = "tts:merge_done"
	KindComplete     Kind = "complete"
	KindError        Kind = "error"
)

// Event is one lifecycle notification. Scene-scoped kinds carry SceneID;
// stage-scoped kinds leave it zero. Events for different scenes may
// interleave, but stage transitions are emitted in strict stage order.
type Event struct {
	Seq             int64     `json:"seq"`
	Timestamp       time.Time `json:"timestamp"`
	Kind            Kind      `json:"kind"`
	SceneID         int       `json:"scene_id,omitempty"`
	SceneCount      int       `json:"scene_count,omitempty"`
	Title           string    `json:"title,omitempty"`
	Prompt          string    `json:"prompt,omitempty"`
	ImageURL        string    `json:"image_url,omitempty"`
	AudioURL        string    `json:"audio_url,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Message         string    `json:"message,omitempty"`
}

// Reporter is a single-producer event channel scoped to one pipeline run.
// Publishing never blocks: when no subscriber drains the channel and the
// buffer fills, events are dropped. The reporter is observability, not a
// control dependency.
type Reporter struct {
	mu      sync.Mutex
	events  chan Event
	nextSeq int64
	closed  bool
}

// NewReporter creates a reporter with the given channel buffer.
func NewReporter(buffer int) *Reporter {
	if buffer < 1 {
		buffer = 64
	}

	return &Reporter{
		events: make(chan Event, buffer),
	}
}

// Publish stamps and emits one event. Safe on a nil reporter so callers
// without a subscriber can pass nil instead of a throwaway instance.
func (r *Reporter) Publish(event Event) {
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.nextSeq++
	event.Seq = r.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case r.events <- event:
	default:
		// Subscriber is absent or slow; drop rather than stall the run.
	}
}

// Events exposes the stream for a single subscriber to drain.
func (r *Reporter) Events() <-chan Event {
	if r == nil {
		return nil
	}

	return r.events
}

// Close ends the stream. Subsequent publishes are ignored.
func (r *Reporter) Close() {
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.closed = true
	close(r.events)
}
