package identify

import (
	"context"

	"github.com/your-org/speakerid/internal/models"
)

// Match is a single nearest-neighbour hit, ascending cosine distance.
type Match struct {
	SpeakerID  string  `json:"speaker_id"`
	ExternalID string  `json:"external_id"`
	Distance   float64 `json:"distance"`
}

// SpeakerMatch ranks a speaker by the average distance of the query to every
// embedding attributed to that speaker.
type SpeakerMatch struct {
	SpeakerID   string  `json:"speaker_id"`
	DisplayName string  `json:"display_name"`
	AvgDistance float64 `json:"avg_distance"`
	MemberCount int     `json:"member_count"`
}

// Gallery is the read side of the vector store the policy searches against.
type Gallery interface {
	// Search returns the closest embeddings, ascending by cosine distance,
	// excluding the record with excludeExternalID if non-empty.
	Search(ctx context.Context, query []float32, limit int, excludeExternalID string) ([]Match, error)

	// SearchBySpeaker averages the query's distance to every embedding of
	// each speaker and ranks speakers ascending by that average.
	SearchBySpeaker(ctx context.Context, query []float32, limit int) ([]SpeakerMatch, error)
}

// PlanCache stores plans under their content-addressed cache key.
// Concurrent writers under the same key are last-writer-wins.
type PlanCache interface {
	// GetPlan returns the cached plan for key, or nil on a miss.
	GetPlan(ctx context.Context, key string) (*models.Plan, error)

	// PutPlan stores the plan under plan.CacheKey, overwriting any entry.
	PutPlan(ctx context.Context, plan *models.Plan) error
}

// Extractor computes a voice embedding for one segment of a video.
// Failures must be (or wrap) *ExtractionError so the planner can downgrade
// the segment to skipped instead of aborting the run.
type Extractor interface {
	Extract(ctx context.Context, video models.Video, seg models.Segment) ([]float32, error)
}
