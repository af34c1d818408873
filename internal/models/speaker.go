package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// UnknownSpeaker is the sentinel label produced by diarizers for voices that
// could not be attributed. It is a result status, never a stored identity:
// the gallery rejects it on write.
const UnknownSpeaker = "UNKNOWN"

// Speaker is a named identity in the gallery. Name is the stable label that
// embeddings reference; DisplayName is what the review UI shows.
type Speaker struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	DisplayName string          `json:"display_name" db:"display_name"`
	Metadata    json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// SpeakerSummary is one row of the gallery listing.
type SpeakerSummary struct {
	Name           string `json:"name"`
	DisplayName    string `json:"display_name"`
	EmbeddingCount int    `json:"embedding_count"`
}

// VoiceEmbedding is one entry of the speaker gallery. ExternalID is the
// caller-supplied correlation key; re-adding the same ExternalID updates the
// row instead of duplicating it.
type VoiceEmbedding struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	ExternalID string          `json:"external_id" db:"external_id"`
	SpeakerID  string          `json:"speaker_id" db:"speaker_id"`
	Embedding  []float32       `json:"-" db:"embedding"`
	Metadata   json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}
