package identify

import (
	"context"
	"time"

	"github.com/your-org/speakerid/internal/models"
	"github.com/your-org/speakerid/internal/observability"
)

// Options is the explicit configuration of the identification policy.
// The engine reads nothing from the environment.
type Options struct {
	// Dim is the fixed embedding dimensionality of the gallery.
	Dim int
	// Threshold is the cosine-distance cutoff for accepting the top
	// candidate. Typical values in this domain are 0.3-0.8.
	Threshold float64
	// TopK bounds the candidate list considered for the speaker-averaged
	// ranking.
	TopK int
}

func (o *Options) applyDefaults() {
	if o.Threshold == 0 {
		o.Threshold = 0.45
	}
	if o.TopK <= 0 {
		o.TopK = 5
	}
}

// Decision is the outcome of identifying a single query embedding.
type Decision struct {
	Status      models.ResultStatus
	SpeakerID   string
	DisplayName string
	// Distance is the average cosine distance achieving the result. It is
	// retained for diagnostics even when the threshold rejects the match;
	// nil when the gallery returned no candidates.
	Distance *float64
}

// Engine applies the identification policy: rank speakers by averaged
// distance, accept the top candidate iff it clears the threshold.
type Engine struct {
	gallery Gallery
	opts    Options
}

func NewEngine(gallery Gallery, opts Options) *Engine {
	opts.applyDefaults()
	return &Engine{gallery: gallery, opts: opts}
}

func (e *Engine) Options() Options { return e.opts }

// Identify classifies one query embedding against the gallery.
// An empty gallery is not an error: it yields an unknown decision.
func (e *Engine) Identify(ctx context.Context, query []float32) (Decision, error) {
	if err := ValidateEmbedding(query, e.opts.Dim); err != nil {
		return Decision{}, err
	}

	start := time.Now()
	matches, err := e.gallery.SearchBySpeaker(ctx, query, e.opts.TopK)
	observability.StageDuration.WithLabelValues("search").Observe(time.Since(start).Seconds())
	if err != nil {
		return Decision{}, err
	}

	if len(matches) == 0 {
		return Decision{Status: models.ResultUnknown}, nil
	}

	// Deterministic tie-break: equal average distance resolves to the
	// lexicographically smaller speaker id.
	best := matches[0]
	for _, m := range matches[1:] {
		if m.AvgDistance < best.AvgDistance ||
			(m.AvgDistance == best.AvgDistance && m.SpeakerID < best.SpeakerID) {
			best = m
		}
	}

	dist := best.AvgDistance
	if dist > e.opts.Threshold {
		return Decision{Status: models.ResultUnknown, Distance: &dist}, nil
	}

	display := best.DisplayName
	if display == "" {
		display = best.SpeakerID
	}
	return Decision{
		Status:      models.ResultIdentified,
		SpeakerID:   best.SpeakerID,
		DisplayName: display,
		Distance:    &dist,
	}, nil
}

// Confidence converts a cosine distance to a display value in [0, 1].
// It is a presentation heuristic and plays no part in the accept decision.
func Confidence(distance float64) float64 {
	c := 1.0 - distance
	if c < 0 {
		return 0
	}
	return c
}
