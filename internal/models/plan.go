package models

import (
	"time"

	"github.com/google/uuid"
)

type ResultStatus string

const (
	ResultIdentified ResultStatus = "identified"
	ResultUnknown    ResultStatus = "unknown"
	ResultSkipped    ResultStatus = "skipped"
)

// SegmentResult is the decision for one segment. Distance is the average
// cosine distance that produced the decision; nil when the segment was
// skipped before search.
type SegmentResult struct {
	SegmentID         uuid.UUID    `json:"segment_id"`
	SegmentStart      float64      `json:"segment_start"`
	SegmentEnd        float64      `json:"segment_end"`
	Status            ResultStatus `json:"status"`
	SpeakerID         string       `json:"speaker_id,omitempty"`
	IdentifiedSpeaker string       `json:"identified_speaker,omitempty"`
	Distance          *float64     `json:"distance,omitempty"`
	Reason            string       `json:"reason,omitempty"`
}

// Plan is the full output of one identification run over a video: one result
// per input segment, in input order. Plans are immutable once produced; a
// rerun creates a new plan.
type Plan struct {
	ID        uuid.UUID       `json:"id"`
	VideoID   uuid.UUID       `json:"video_id"`
	CacheKey  string          `json:"cache_key"`
	Threshold float64         `json:"threshold"`
	TopK      int             `json:"top_k"`
	Results   []SegmentResult `json:"results"`
	CacheHit  bool            `json:"cache_hit,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Counts tallies results by status.
func (p *Plan) Counts() (identified, unknown, skipped int) {
	for _, r := range p.Results {
		switch r.Status {
		case ResultIdentified:
			identified++
		case ResultUnknown:
			unknown++
		case ResultSkipped:
			skipped++
		}
	}
	return
}

// IdentifyTask is the message published to NATS for worker processing.
type IdentifyTask struct {
	VideoID     uuid.UUID `json:"video_id"`
	Threshold   float64   `json:"threshold,omitempty"`
	TopK        int       `json:"top_k,omitempty"`
	UseCache    bool      `json:"use_cache"`
	RequestedAt time.Time `json:"requested_at"`
}

// PlanEvent is published by a worker when a plan is finished.
type PlanEvent struct {
	VideoID    uuid.UUID `json:"video_id"`
	PlanID     uuid.UUID `json:"plan_id"`
	CacheKey   string    `json:"cache_key"`
	CacheHit   bool      `json:"cache_hit"`
	Identified int       `json:"identified"`
	Unknown    int       `json:"unknown"`
	Skipped    int       `json:"skipped"`
}
