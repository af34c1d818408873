package dto

import (
	"github.com/google/uuid"
)

type ResultResponse struct {
	SegmentID         uuid.UUID `json:"segment_id"`
	SegmentStart      float64   `json:"segment_start"`
	SegmentEnd        float64   `json:"segment_end"`
	Status            string    `json:"status"`
	SpeakerID         string    `json:"speaker_id,omitempty"`
	IdentifiedSpeaker string    `json:"identified_speaker,omitempty"`
	Distance          *float64  `json:"distance,omitempty"`
	Confidence        *float64  `json:"confidence,omitempty"`
	Reason            string    `json:"reason,omitempty"`
}

type PlanResponse struct {
	ID         uuid.UUID        `json:"id"`
	VideoID    uuid.UUID        `json:"video_id"`
	CacheKey   string           `json:"cache_key"`
	Threshold  float64          `json:"threshold"`
	TopK       int              `json:"top_k"`
	Identified int              `json:"identified"`
	Unknown    int              `json:"unknown"`
	Skipped    int              `json:"skipped"`
	Results    []ResultResponse `json:"results"`
	CreatedAt  string           `json:"created_at"`
}

// WSEvent is a WebSocket message for the review feed.
type WSEvent struct {
	Type    string      `json:"type"` // plan_completed, speaker_corrected, video_status
	VideoID uuid.UUID   `json:"video_id"`
	Data    interface{} `json:"data,omitempty"`
}
