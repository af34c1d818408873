package identify

import (
	"fmt"
	"math"

	"github.com/your-org/speakerid/internal/models"
)

// ValidateEmbedding checks dimensionality and rejects NaN/Inf components.
// dim <= 0 skips the dimensionality check.
func ValidateEmbedding(embedding []float32, dim int) error {
	if len(embedding) == 0 {
		return &ValidationError{Field: "embedding", Reason: "empty vector"}
	}
	if dim > 0 && len(embedding) != dim {
		return &ValidationError{
			Field:  "embedding",
			Reason: fmt.Sprintf("dimension %d, want %d", len(embedding), dim),
		}
	}
	for i, v := range embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return &ValidationError{
				Field:  "embedding",
				Reason: fmt.Sprintf("non-finite component at index %d", i),
			}
		}
	}
	return nil
}

// ValidateSegment checks the segment time bounds.
func ValidateSegment(seg models.Segment) error {
	if seg.StartTime < 0 {
		return &ValidationError{Field: "segment", Reason: "start_time < 0"}
	}
	if seg.EndTime <= seg.StartTime {
		return &ValidationError{Field: "segment", Reason: "end_time <= start_time"}
	}
	return nil
}

// ValidateSpeakerID rejects empty labels and the UNKNOWN sentinel, which is
// a result status rather than a storable identity.
func ValidateSpeakerID(speakerID string) error {
	if speakerID == "" {
		return &ValidationError{Field: "speaker_id", Reason: "empty"}
	}
	if speakerID == models.UnknownSpeaker {
		return &ValidationError{Field: "speaker_id", Reason: "UNKNOWN is not a storable identity"}
	}
	return nil
}
