package models

import (
	"time"

	"github.com/google/uuid"
)

type VideoStatus string

const (
	VideoStatusPending    VideoStatus = "pending"
	VideoStatusQueued     VideoStatus = "queued"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusError      VideoStatus = "error"
)

// Video is one unit of identification work. AudioKey names the MinIO prefix
// holding per-segment PCM windows; AudioMTime is the modification time of the
// underlying audio file and feeds the plan cache key.
type Video struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	Title        string      `json:"title" db:"title"`
	AudioKey     string      `json:"audio_key" db:"audio_key"`
	AudioMTime   time.Time   `json:"audio_mtime" db:"audio_mtime"`
	Status       VideoStatus `json:"status" db:"status"`
	ErrorMessage string      `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// Segment is a diarizer turn: a time-bounded span with a raw speaker tag
// (e.g. SPEAKER_00). Embedding is filled once extracted so review overrides
// can reuse it. Invalidated segments have been superseded by a manual split.
type Segment struct {
	ID            uuid.UUID `json:"id" db:"id"`
	VideoID       uuid.UUID `json:"video_id" db:"video_id"`
	StartTime     float64   `json:"start_time" db:"start_time"`
	EndTime       float64   `json:"end_time" db:"end_time"`
	SpeakerLabel  string    `json:"speaker_label" db:"speaker_label"`
	Embedding     []float32 `json:"-" db:"embedding"`
	Confidence    float32   `json:"confidence" db:"confidence"`
	IsInvalidated bool      `json:"is_invalidated" db:"is_invalidated"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
