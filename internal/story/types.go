// Package story defines the domain types shared across the generation
// pipeline: scenes, the merged-audio timeline, and the final story payload.
package story

import "sort"

// Scene is one visual/narrative unit produced by segmentation and enriched
// by the downstream stages. IDs are 1-based ordinals, stable for the life of
// a run; ordering by ID determines both playback order and timeline
// accumulation.
type Scene struct {
	ID                    int      `json:"scene_id"`
	Summary               string   `json:"scene_summary"`
	SourceSentenceIndices []int    `json:"source_sentence_indices,omitempty"`
	SourceSentences       []string `json:"source_sentences,omitempty"`
	Prompt                string   `json:"prompt,omitempty"`
	ImageURL              string   `json:"image_url,omitempty"`
	AudioURL              string   `json:"audio_url,omitempty"`
	AudioDurationSeconds  float64  `json:"audio_duration_seconds,omitempty"`

	// AudioPath is the local file backing AudioURL. It feeds the merge
	// stage and is never serialized to callers.
	AudioPath string `json:"-"`
}

// TimelineEntry places one scene inside the merged audio track. Entries are
// contiguous: each StartSec equals the sum of all preceding durations.
type TimelineEntry struct {
	SceneID     int     `json:"scene_id"`
	StartSec    float64 `json:"start_sec"`
	DurationSec float64 `json:"duration_sec"`
}

// Story is the terminal result of one pipeline run. The audio fields are only
// populated for the single-track variant and stay absent otherwise, so
// callers can detect partial success without parsing error text.
type Story struct {
	Title           string          `json:"title"`
	Scenes          []Scene         `json:"scenes"`
	AudioURL        string          `json:"audio_url,omitempty"`
	DurationSeconds float64         `json:"duration_seconds,omitempty"`
	Timeline        []TimelineEntry `json:"timeline,omitempty"`
}

// SortScenes orders scenes ascending by ID in place.
func SortScenes(scenes []Scene) {
	sort.Slice(scenes, func(i, j int) bool {
		return scenes[i].ID < scenes[j].ID
	})
}
