// Package events defines the NATS message contracts for story generation
// jobs: the request, the terminal results, and the envelope header shared by
// all of them.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/masibasi/visurai/internal/story"
)

// EventHeader identifies and correlates one workflow across services.
type EventHeader struct {
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id"`
	UserID     string    `json:"user_id,omitempty"`
	TenantID   string    `json:"tenant_id,omitempty"`
	EventID    string    `json:"event_id"`
}

// NewHeader stamps a fresh header carrying the given workflow correlation ID.
func NewHeader(workflowID, userID, tenantID string) EventHeader {
	if workflowID == "" {
		workflowID = uuid.NewString()
	}

	return EventHeader{
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		UserID:     userID,
		TenantID:   tenantID,
		EventID:    uuid.NewString(),
	}
}

// StoryRequestedEvent asks the worker to generate one story. Exactly one of
// Text or ImageURL must be set; an image is OCR'd into text first.
type StoryRequestedEvent struct {
	Header      EventHeader `json:"header"`
	Text        string      `json:"text,omitempty"`
	ImageURL    string      `json:"image_url,omitempty"`
	MaxScenes   int         `json:"max_scenes,omitempty"`
	WithAudio   bool        `json:"with_audio,omitempty"`
	SingleTrack bool        `json:"single_track,omitempty"`
	AspectRatio string      `json:"aspect_ratio,omitempty"`
}

// StoryCompletedEvent carries the finished story.
type StoryCompletedEvent struct {
	Header EventHeader `json:"header"`
	Story  story.Story `json:"story"`
}

// StoryFailedEvent reports a run that aborted.
type StoryFailedEvent struct {
	Header EventHeader `json:"header"`
	Error  string      `json:"error"`
}
