package identify

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/speakerid/internal/models"
)

func TestValidateEmbedding(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	tests := []struct {
		name      string
		embedding []float32
		dim       int
		wantErr   bool
	}{
		{"valid", []float32{0.1, 0.2, 0.3, 0.4}, 4, false},
		{"dim check skipped", []float32{0.1, 0.2}, 0, false},
		{"empty", nil, 4, true},
		{"wrong dim", []float32{0.1, 0.2}, 4, true},
		{"nan component", []float32{0.1, nan, 0.3, 0.4}, 4, true},
		{"positive inf", []float32{inf, 0.2, 0.3, 0.4}, 4, true},
		{"negative inf", []float32{0.1, 0.2, 0.3, -inf}, 4, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmbedding(tt.embedding, tt.dim)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var vErr *ValidationError
			assert.True(t, errors.As(err, &vErr), "want ValidationError, got %T", err)
		})
	}
}

func TestValidateSegment(t *testing.T) {
	require.NoError(t, ValidateSegment(models.Segment{StartTime: 0, EndTime: 1.5}))
	require.NoError(t, ValidateSegment(models.Segment{StartTime: 10.2, EndTime: 12.8}))

	assert.Error(t, ValidateSegment(models.Segment{StartTime: -0.1, EndTime: 1}))
	assert.Error(t, ValidateSegment(models.Segment{StartTime: 5, EndTime: 5}))
	assert.Error(t, ValidateSegment(models.Segment{StartTime: 5, EndTime: 4}))
}

func TestValidateSpeakerID(t *testing.T) {
	require.NoError(t, ValidateSpeakerID("alice"))

	assert.Error(t, ValidateSpeakerID(""))

	err := ValidateSpeakerID(models.UnknownSpeaker)
	require.Error(t, err)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "speaker_id", vErr.Field)
}
