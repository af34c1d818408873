package identify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/speakerid/internal/models"
)

// fakeExtractor returns a canned embedding per speaker label and counts how
// many times Extract runs, so cache behavior is observable.
type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	fail  map[uuid.UUID]error
}

func (f *fakeExtractor) Extract(ctx context.Context, video models.Video, seg models.Segment) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if err, ok := f.fail[seg.ID]; ok {
		return nil, err
	}
	if seg.SpeakerLabel == "SPEAKER_01" {
		return append([]float32(nil), bobVec...), nil
	}
	return append([]float32(nil), aliceVec...), nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memCache is an in-memory PlanCache keyed by cache key.
type memCache struct {
	mu     sync.Mutex
	plans  map[string]*models.Plan
	puts   int
	getErr error
	putErr error
}

func newMemCache() *memCache {
	return &memCache{plans: map[string]*models.Plan{}}
}

func (c *memCache) GetPlan(ctx context.Context, key string) (*models.Plan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.plans[key], nil
}

func (c *memCache) PutPlan(ctx context.Context, plan *models.Plan) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.putErr != nil {
		return c.putErr
	}
	c.puts++
	c.plans[plan.CacheKey] = plan
	return nil
}

func testVideo() models.Video {
	return models.Video{
		ID:         uuid.New(),
		Title:      "episode-01",
		AudioKey:   "audio/episode-01.wav",
		AudioMTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testSegments(n int) []models.Segment {
	segments := make([]models.Segment, n)
	for i := range segments {
		label := "SPEAKER_00"
		if i%2 == 1 {
			label = "SPEAKER_01"
		}
		segments[i] = models.Segment{
			ID:           uuid.New(),
			StartTime:    float64(i) * 2.5,
			EndTime:      float64(i)*2.5 + 2.0,
			SpeakerLabel: label,
		}
	}
	return segments
}

func newTestPlanner(extractor Extractor, cache PlanCache, parallelism int) *Planner {
	engine := NewEngine(twoSpeakerGallery(), Options{Dim: 4, Threshold: 0.45, TopK: 5})
	return NewPlanner(engine, extractor, cache, parallelism)
}

func TestCacheKeyDeterministic(t *testing.T) {
	video := testVideo()
	segments := testSegments(3)

	k1 := CacheKey(video, segments, 0.45, 5)
	k2 := CacheKey(video, segments, 0.45, 5)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
}

func TestCacheKeySensitivity(t *testing.T) {
	video := testVideo()
	segments := testSegments(3)
	base := CacheKey(video, segments, 0.45, 5)

	assert.NotEqual(t, base, CacheKey(video, segments, 0.5, 5), "threshold must change the key")
	assert.NotEqual(t, base, CacheKey(video, segments, 0.45, 10), "top_k must change the key")

	touched := video
	touched.AudioMTime = video.AudioMTime.Add(time.Second)
	assert.NotEqual(t, base, CacheKey(touched, segments, 0.45, 5), "audio mtime must change the key")

	moved := testSegments(3)
	copy(moved, segments)
	moved[1].EndTime += 0.01
	assert.NotEqual(t, base, CacheKey(video, moved, 0.45, 5), "boundaries must change the key")

	reordered := []models.Segment{segments[1], segments[0], segments[2]}
	assert.NotEqual(t, base, CacheKey(video, reordered, 0.45, 5), "segment order must change the key")
}

func TestPlanOrderPreserved(t *testing.T) {
	video := testVideo()
	segments := testSegments(24)
	planner := newTestPlanner(&fakeExtractor{}, newMemCache(), 4)

	plan, err := planner.IdentifySpeakers(context.Background(), video, segments, true)
	require.NoError(t, err)
	require.Len(t, plan.Results, len(segments))

	for i, res := range plan.Results {
		assert.Equal(t, segments[i].ID, res.SegmentID, "result %d out of order", i)
		assert.Equal(t, segments[i].StartTime, res.SegmentStart)
		assert.Equal(t, models.ResultIdentified, res.Status)
	}
}

func TestPlanAlternatingSpeakers(t *testing.T) {
	video := testVideo()
	segments := testSegments(6)
	planner := newTestPlanner(&fakeExtractor{}, newMemCache(), 2)

	plan, err := planner.IdentifySpeakers(context.Background(), video, segments, true)
	require.NoError(t, err)

	for i, res := range plan.Results {
		want := "alice"
		if i%2 == 1 {
			want = "bob"
		}
		assert.Equal(t, want, res.SpeakerID, "segment %d", i)
	}

	identified, unknown, skipped := plan.Counts()
	assert.Equal(t, 6, identified)
	assert.Zero(t, unknown)
	assert.Zero(t, skipped)
}

func TestPlanCacheHit(t *testing.T) {
	video := testVideo()
	segments := testSegments(5)
	extractor := &fakeExtractor{}
	cache := newMemCache()
	planner := newTestPlanner(extractor, cache, 2)

	first, err := planner.IdentifySpeakers(context.Background(), video, segments, true)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	callsAfterFirst := extractor.callCount()
	assert.Equal(t, 5, callsAfterFirst)

	// Segments reload without embeddings, as a fresh request would see them.
	second, err := planner.IdentifySpeakers(context.Background(), video, testSegmentsLike(segments), true)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, callsAfterFirst, extractor.callCount(), "cache hit must not re-extract")
	assert.Equal(t, 1, cache.puts)
}

// testSegmentsLike clones boundaries but drops ids and embeddings.
func testSegmentsLike(src []models.Segment) []models.Segment {
	out := make([]models.Segment, len(src))
	for i, seg := range src {
		out[i] = models.Segment{
			ID:           seg.ID,
			StartTime:    seg.StartTime,
			EndTime:      seg.EndTime,
			SpeakerLabel: seg.SpeakerLabel,
		}
	}
	return out
}

func TestPlanCacheBypass(t *testing.T) {
	video := testVideo()
	segments := testSegments(4)
	extractor := &fakeExtractor{}
	cache := newMemCache()
	planner := newTestPlanner(extractor, cache, 2)

	_, err := planner.IdentifySpeakers(context.Background(), video, segments, true)
	require.NoError(t, err)

	again, err := planner.IdentifySpeakers(context.Background(), video, testSegmentsLike(segments), false)
	require.NoError(t, err)
	assert.False(t, again.CacheHit)
	assert.Equal(t, 8, extractor.callCount(), "bypass must recompute every segment")
	assert.Equal(t, 2, cache.puts, "recompute overwrites the cache entry")
}

func TestPlanExtractionFailureIsolated(t *testing.T) {
	video := testVideo()
	segments := testSegments(4)
	extractor := &fakeExtractor{
		fail: map[uuid.UUID]error{
			segments[2].ID: &ExtractionError{Reason: "segment too short"},
		},
	}
	planner := newTestPlanner(extractor, newMemCache(), 2)

	plan, err := planner.IdentifySpeakers(context.Background(), video, segments, true)
	require.NoError(t, err)

	assert.Equal(t, models.ResultSkipped, plan.Results[2].Status)
	assert.Contains(t, plan.Results[2].Reason, "segment too short")
	for _, i := range []int{0, 1, 3} {
		assert.Equal(t, models.ResultIdentified, plan.Results[i].Status, "segment %d", i)
	}

	// Successful extractions are written back for the caller to persist.
	assert.NotNil(t, segments[0].Embedding)
	assert.Nil(t, segments[2].Embedding)
}

func TestPlanInvalidatedSegmentSkipped(t *testing.T) {
	video := testVideo()
	segments := testSegments(3)
	segments[1].IsInvalidated = true
	extractor := &fakeExtractor{}
	planner := newTestPlanner(extractor, newMemCache(), 1)

	plan, err := planner.IdentifySpeakers(context.Background(), video, segments, true)
	require.NoError(t, err)

	assert.Equal(t, models.ResultSkipped, plan.Results[1].Status)
	assert.Equal(t, 2, extractor.callCount(), "invalidated segments never reach the extractor")
}

func TestPlanExistingEmbeddingReused(t *testing.T) {
	video := testVideo()
	segments := testSegments(3)
	segments[0].Embedding = append([]float32(nil), aliceVec...)
	extractor := &fakeExtractor{}
	planner := newTestPlanner(extractor, newMemCache(), 1)

	plan, err := planner.IdentifySpeakers(context.Background(), video, segments, true)
	require.NoError(t, err)
	assert.Equal(t, models.ResultIdentified, plan.Results[0].Status)
	assert.Equal(t, 2, extractor.callCount())
}

func TestPlanInvalidSegmentAborts(t *testing.T) {
	video := testVideo()
	segments := testSegments(3)
	segments[1].EndTime = segments[1].StartTime
	planner := newTestPlanner(&fakeExtractor{}, newMemCache(), 1)

	plan, err := planner.IdentifySpeakers(context.Background(), video, segments, true)
	require.Error(t, err)
	assert.Nil(t, plan)
	var vErr *ValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestPlanCacheUnavailableAborts(t *testing.T) {
	video := testVideo()
	segments := testSegments(2)
	cache := newMemCache()
	cache.getErr = &StoreUnavailableError{Op: "get plan", Err: errors.New("connection refused")}
	planner := newTestPlanner(&fakeExtractor{}, cache, 1)

	plan, err := planner.IdentifySpeakers(context.Background(), video, segments, true)
	require.Error(t, err)
	assert.Nil(t, plan)
	var unavail *StoreUnavailableError
	assert.True(t, errors.As(err, &unavail))
}

func TestPlanPutFailureAborts(t *testing.T) {
	video := testVideo()
	segments := testSegments(2)
	cache := newMemCache()
	cache.putErr = &StoreUnavailableError{Op: "put plan", Err: errors.New("connection refused")}
	planner := newTestPlanner(&fakeExtractor{}, cache, 1)

	_, err := planner.IdentifySpeakers(context.Background(), video, segments, true)
	require.Error(t, err)
}

func TestPlanEmptyGalleryAllUnknown(t *testing.T) {
	video := testVideo()
	segments := testSegments(3)
	engine := NewEngine(&memGallery{}, Options{Dim: 4, Threshold: 0.45})
	planner := NewPlanner(engine, &fakeExtractor{}, newMemCache(), 1)

	plan, err := planner.IdentifySpeakers(context.Background(), video, segments, true)
	require.NoError(t, err)
	_, unknown, _ := plan.Counts()
	assert.Equal(t, 3, unknown)
}

func TestFprintPlan(t *testing.T) {
	video := testVideo()
	segments := testSegments(3)
	segments[2].IsInvalidated = true
	planner := newTestPlanner(&fakeExtractor{}, newMemCache(), 1)

	plan, err := planner.IdentifySpeakers(context.Background(), video, segments, true)
	require.NoError(t, err)

	var sb strings.Builder
	FprintPlan(&sb, plan)
	out := sb.String()

	assert.Contains(t, out, plan.VideoID.String())
	assert.Contains(t, out, "Alice A.")
	assert.Contains(t, out, "segment invalidated")
	assert.Contains(t, out, "identified=2 unknown=0 skipped=1 total=3")
}
