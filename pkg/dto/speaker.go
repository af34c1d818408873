package dto

import (
	"encoding/json"

	"github.com/google/uuid"
)

type CreateSpeakerRequest struct {
	Name        string          `json:"name" binding:"required"`
	DisplayName string          `json:"display_name"`
	Metadata    json.RawMessage `json:"metadata"`
}

type SpeakerResponse struct {
	Name           string          `json:"name"`
	DisplayName    string          `json:"display_name"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	EmbeddingCount int             `json:"embedding_count"`
	CreatedAt      string          `json:"created_at,omitempty"`
}

type SpeakerListResponse struct {
	Speakers []SpeakerResponse `json:"speakers"`
	Total    int               `json:"total"`
}

type AddEmbeddingRequest struct {
	ExternalID string          `json:"external_id" binding:"required"`
	Embedding  []float32       `json:"embedding" binding:"required"`
	Metadata   json.RawMessage `json:"metadata"`
}

type EmbeddingResponse struct {
	ID         uuid.UUID `json:"id"`
	ExternalID string    `json:"external_id"`
	SpeakerID  string    `json:"speaker_id"`
	CreatedAt  string    `json:"created_at"`
}

// SearchRequest queries the gallery with a raw embedding vector.
type SearchRequest struct {
	Embedding         []float32 `json:"embedding" binding:"required"`
	Limit             int       `json:"limit"`
	ExcludeExternalID string    `json:"exclude_external_id"`
}

type SearchMatchResponse struct {
	SpeakerID  string  `json:"speaker_id"`
	ExternalID string  `json:"external_id"`
	Distance   float64 `json:"distance"`
}

type SearchSpeakersRequest struct {
	Embedding []float32 `json:"embedding" binding:"required"`
	TopK      int       `json:"top_k"`
}

type SpeakerMatchResponse struct {
	SpeakerID   string  `json:"speaker_id"`
	DisplayName string  `json:"display_name"`
	AvgDistance float64 `json:"avg_distance"`
	MemberCount int     `json:"member_count"`
	Confidence  float64 `json:"confidence"`
}
