package dto

import (
	"github.com/google/uuid"
)

type CreateVideoRequest struct {
	Title      string `json:"title" binding:"required"`
	AudioKey   string `json:"audio_key"`
	AudioMTime string `json:"audio_mtime"` // RFC3339
}

type VideoResponse struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	AudioKey     string    `json:"audio_key"`
	AudioMTime   string    `json:"audio_mtime"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    string    `json:"created_at"`
	UpdatedAt    string    `json:"updated_at"`
}

type VideoListResponse struct {
	Videos []VideoResponse `json:"videos"`
	Total  int             `json:"total"`
}

// SegmentInput is one diarizer turn as supplied by the external pipeline.
type SegmentInput struct {
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	SpeakerLabel string  `json:"speaker_label"`
	Confidence   float32 `json:"confidence"`
}

type ReplaceSegmentsRequest struct {
	Segments []SegmentInput `json:"segments" binding:"required"`
}

type SegmentResponse struct {
	ID            uuid.UUID `json:"id"`
	StartTime     float64   `json:"start_time"`
	EndTime       float64   `json:"end_time"`
	SpeakerLabel  string    `json:"speaker_label"`
	Confidence    float32   `json:"confidence"`
	IsInvalidated bool      `json:"is_invalidated"`
	HasEmbedding  bool      `json:"has_embedding"`
}

type SegmentListResponse struct {
	Segments []SegmentResponse `json:"segments"`
	Total    int               `json:"total"`
}

// IdentifyRequest triggers an identification run. Zero values fall back to
// the service defaults; UseCache defaults to true.
type IdentifyRequest struct {
	Threshold float64 `json:"threshold"`
	TopK      int     `json:"top_k"`
	UseCache  *bool   `json:"use_cache"`
}

// OverrideRequest corrects a segment's speaker from the review UI.
type OverrideRequest struct {
	SpeakerID string `json:"speaker_id" binding:"required"`
}
