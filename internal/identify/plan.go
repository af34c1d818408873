package identify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/speakerid/internal/models"
	"github.com/your-org/speakerid/internal/observability"
)

// Planner drives identification across all segments of a video with a
// content-addressed plan cache.
type Planner struct {
	engine    *Engine
	extractor Extractor
	cache     PlanCache
	// parallelism bounds concurrent embedding extraction. Results are
	// reassembled in input segment order regardless of execution order.
	parallelism int
}

func NewPlanner(engine *Engine, extractor Extractor, cache PlanCache, parallelism int) *Planner {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Planner{
		engine:      engine,
		extractor:   extractor,
		cache:       cache,
		parallelism: parallelism,
	}
}

// CacheKey hashes everything that determines a plan's content: the video,
// the ordered segment boundaries, the policy parameters and the audio file
// modification time.
func CacheKey(video models.Video, segments []models.Segment, threshold float64, topK int) string {
	h := sha256.New()
	fmt.Fprintf(h, "video=%s\n", video.ID)
	fmt.Fprintf(h, "mtime=%s\n", video.AudioMTime.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(h, "threshold=%s\n", strconv.FormatFloat(threshold, 'g', -1, 64))
	fmt.Fprintf(h, "top_k=%d\n", topK)
	for _, seg := range segments {
		fmt.Fprintf(h, "seg=%s:%s\n",
			strconv.FormatFloat(seg.StartTime, 'g', -1, 64),
			strconv.FormatFloat(seg.EndTime, 'g', -1, 64))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IdentifySpeakers produces one result per input segment, in input order.
//
// On a cache hit (useCache and the key is present) the stored plan is
// returned unchanged with no extraction and no search. Otherwise every
// segment is recomputed and the cache entry for the key is overwritten.
//
// Segments that already carry an embedding are not re-extracted; newly
// extracted embeddings are written back into the segments slice so the
// caller can persist them. Per-segment extraction failures downgrade that
// segment to skipped; store-level failures abort the whole run and no plan
// is returned.
func (p *Planner) IdentifySpeakers(ctx context.Context, video models.Video, segments []models.Segment, useCache bool) (*models.Plan, error) {
	for i, seg := range segments {
		if err := ValidateSegment(seg); err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
	}

	opts := p.engine.Options()
	key := CacheKey(video, segments, opts.Threshold, opts.TopK)

	if useCache && p.cache != nil {
		cached, err := p.cache.GetPlan(ctx, key)
		if err != nil {
			var unavail *StoreUnavailableError
			if errors.As(err, &unavail) {
				return nil, err
			}
			slog.Warn("plan cache read failed, recomputing", "video_id", video.ID, "error", err)
		}
		if cached != nil {
			observability.PlanCacheHits.Inc()
			cached.CacheHit = true
			return cached, nil
		}
		observability.PlanCacheMisses.Inc()
	}

	results := make([]models.SegmentResult, len(segments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for i := range segments {
		i := i
		g.Go(func() error {
			res, err := p.processSegment(gctx, video, &segments[i])
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	plan := &models.Plan{
		ID:        uuid.New(),
		VideoID:   video.ID,
		CacheKey:  key,
		Threshold: opts.Threshold,
		TopK:      opts.TopK,
		Results:   results,
		CreatedAt: time.Now().UTC(),
	}

	if p.cache != nil {
		if err := p.cache.PutPlan(ctx, plan); err != nil {
			return nil, fmt.Errorf("store plan: %w", err)
		}
	}

	observability.PlansBuilt.WithLabelValues(video.ID.String()).Inc()
	return plan, nil
}

func (p *Planner) processSegment(ctx context.Context, video models.Video, seg *models.Segment) (models.SegmentResult, error) {
	res := models.SegmentResult{
		SegmentID:    seg.ID,
		SegmentStart: seg.StartTime,
		SegmentEnd:   seg.EndTime,
	}

	if seg.IsInvalidated {
		res.Status = models.ResultSkipped
		res.Reason = "segment invalidated"
		observability.SegmentsProcessed.WithLabelValues(string(res.Status)).Inc()
		return res, nil
	}

	embedding := seg.Embedding
	if embedding == nil {
		if p.extractor == nil {
			res.Status = models.ResultSkipped
			res.Reason = "no embedding and no extractor"
			observability.SegmentsProcessed.WithLabelValues(string(res.Status)).Inc()
			return res, nil
		}
		start := time.Now()
		var err error
		embedding, err = p.extractor.Extract(ctx, video, *seg)
		observability.StageDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())
		if err != nil {
			res.Status = models.ResultSkipped
			res.Reason = err.Error()
			observability.SegmentsProcessed.WithLabelValues(string(res.Status)).Inc()
			slog.Debug("segment skipped", "segment_id", seg.ID, "reason", err.Error())
			return res, nil
		}
		seg.Embedding = embedding
	}

	if err := ValidateEmbedding(embedding, p.engine.Options().Dim); err != nil {
		res.Status = models.ResultSkipped
		res.Reason = err.Error()
		observability.SegmentsProcessed.WithLabelValues(string(res.Status)).Inc()
		return res, nil
	}

	decision, err := p.engine.Identify(ctx, embedding)
	if err != nil {
		return res, fmt.Errorf("identify segment %s: %w", seg.ID, err)
	}

	res.Status = decision.Status
	res.SpeakerID = decision.SpeakerID
	res.IdentifiedSpeaker = decision.DisplayName
	res.Distance = decision.Distance
	observability.SegmentsProcessed.WithLabelValues(string(res.Status)).Inc()
	return res, nil
}

// FprintPlan writes a human-readable listing of every decision, for review
// before results are committed.
func FprintPlan(w io.Writer, plan *models.Plan) {
	identified, unknown, skipped := plan.Counts()
	fmt.Fprintf(w, "plan %s for video %s (threshold=%.3f top_k=%d)\n",
		plan.ID, plan.VideoID, plan.Threshold, plan.TopK)
	for i, r := range plan.Results {
		line := fmt.Sprintf("  [%3d] %9.2fs - %9.2fs  %-10s", i, r.SegmentStart, r.SegmentEnd, r.Status)
		switch r.Status {
		case models.ResultIdentified:
			line += fmt.Sprintf("  %s (distance=%.4f confidence=%.4f)",
				r.IdentifiedSpeaker, *r.Distance, Confidence(*r.Distance))
		case models.ResultUnknown:
			if r.Distance != nil {
				line += fmt.Sprintf("  best distance=%.4f", *r.Distance)
			}
		case models.ResultSkipped:
			line += "  " + r.Reason
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "  identified=%d unknown=%d skipped=%d total=%d\n",
		identified, unknown, skipped, len(plan.Results))
}
