package identify

import (
	"context"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/speakerid/internal/models"
)

// memGallery is an in-memory Gallery backed by brute-force cosine distance,
// mirroring the ordering contract of the pgvector-backed store.
type memGallery struct {
	entries []memEntry
}

type memEntry struct {
	externalID string
	speakerID  string
	display    string
	emb        []float32
}

func (g *memGallery) add(externalID, speakerID, display string, emb []float32) {
	g.entries = append(g.entries, memEntry{externalID, speakerID, display, emb})
}

func (g *memGallery) Search(ctx context.Context, query []float32, limit int, excludeExternalID string) ([]Match, error) {
	var matches []Match
	for _, e := range g.entries {
		if excludeExternalID != "" && e.externalID == excludeExternalID {
			continue
		}
		matches = append(matches, Match{
			SpeakerID:  e.speakerID,
			ExternalID: e.externalID,
			Distance:   cosineDistance(query, e.emb),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ExternalID < matches[j].ExternalID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (g *memGallery) SearchBySpeaker(ctx context.Context, query []float32, limit int) ([]SpeakerMatch, error) {
	sums := map[string]*SpeakerMatch{}
	for _, e := range g.entries {
		sm, ok := sums[e.speakerID]
		if !ok {
			sm = &SpeakerMatch{SpeakerID: e.speakerID, DisplayName: e.display}
			sums[e.speakerID] = sm
		}
		sm.AvgDistance += cosineDistance(query, e.emb)
		sm.MemberCount++
	}
	var matches []SpeakerMatch
	for _, sm := range sums {
		sm.AvgDistance /= float64(sm.MemberCount)
		matches = append(matches, *sm)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].AvgDistance != matches[j].AvgDistance {
			return matches[i].AvgDistance < matches[j].AvgDistance
		}
		return matches[i].SpeakerID < matches[j].SpeakerID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

var (
	aliceVec = []float32{1, 0, 0, 0}
	bobVec   = []float32{-1, 0, 0, 0}
)

func twoSpeakerGallery() *memGallery {
	g := &memGallery{}
	g.add("alice-1", "alice", "Alice A.", aliceVec)
	g.add("alice-2", "alice", "Alice A.", []float32{0.9, 0.1, 0, 0})
	g.add("bob-1", "bob", "Bob B.", bobVec)
	g.add("bob-2", "bob", "Bob B.", []float32{-0.9, -0.1, 0, 0})
	return g
}

func TestIdentifyTwoSpeakers(t *testing.T) {
	engine := NewEngine(twoSpeakerGallery(), Options{Dim: 4, Threshold: 0.45, TopK: 5})

	dec, err := engine.Identify(context.Background(), aliceVec)
	require.NoError(t, err)
	assert.Equal(t, models.ResultIdentified, dec.Status)
	assert.Equal(t, "alice", dec.SpeakerID)
	assert.Equal(t, "Alice A.", dec.DisplayName)
	require.NotNil(t, dec.Distance)
	assert.Less(t, *dec.Distance, 0.45)

	dec, err = engine.Identify(context.Background(), bobVec)
	require.NoError(t, err)
	assert.Equal(t, models.ResultIdentified, dec.Status)
	assert.Equal(t, "bob", dec.SpeakerID)
}

func TestIdentifyEmptyGallery(t *testing.T) {
	engine := NewEngine(&memGallery{}, Options{Dim: 4})

	dec, err := engine.Identify(context.Background(), aliceVec)
	require.NoError(t, err)
	assert.Equal(t, models.ResultUnknown, dec.Status)
	assert.Empty(t, dec.SpeakerID)
	assert.Nil(t, dec.Distance)
}

func TestIdentifyThreshold(t *testing.T) {
	// Single gallery speaker orthogonal to the query: distance exactly 1.
	g := &memGallery{}
	g.add("carol-1", "carol", "Carol", []float32{0, 1, 0, 0})

	strict := NewEngine(g, Options{Dim: 4, Threshold: 0.45, TopK: 5})
	dec, err := strict.Identify(context.Background(), aliceVec)
	require.NoError(t, err)
	assert.Equal(t, models.ResultUnknown, dec.Status)
	require.NotNil(t, dec.Distance, "rejected match keeps its distance for diagnostics")
	assert.InDelta(t, 1.0, *dec.Distance, 1e-9)

	// Raising the threshold past the distance flips the same query to a match.
	lax := NewEngine(g, Options{Dim: 4, Threshold: 1.2, TopK: 5})
	dec, err = lax.Identify(context.Background(), aliceVec)
	require.NoError(t, err)
	assert.Equal(t, models.ResultIdentified, dec.Status)
	assert.Equal(t, "carol", dec.SpeakerID)
}

func TestIdentifyTieBreak(t *testing.T) {
	// Identical embeddings under two labels force an exact tie; the
	// lexicographically smaller id must win on every run.
	g := &memGallery{}
	g.add("zed-1", "zed", "Zed", aliceVec)
	g.add("ann-1", "ann", "Ann", aliceVec)

	engine := NewEngine(g, Options{Dim: 4, Threshold: 0.45, TopK: 5})

	for i := 0; i < 20; i++ {
		dec, err := engine.Identify(context.Background(), aliceVec)
		require.NoError(t, err)
		require.Equal(t, models.ResultIdentified, dec.Status)
		assert.Equal(t, "ann", dec.SpeakerID)
	}
}

func TestSearchExcludesSelf(t *testing.T) {
	// A gallery entry must never match itself when its own external id is
	// excluded, e.g. when re-scoring an embedding already in the gallery.
	g := twoSpeakerGallery()

	matches, err := g.Search(context.Background(), aliceVec, 10, "")
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "alice-1", matches[0].ExternalID)
	assert.InDelta(t, 0.0, matches[0].Distance, 1e-9)

	matches, err = g.Search(context.Background(), aliceVec, 10, "alice-1")
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotEqual(t, "alice-1", m.ExternalID)
	}
}

func TestIdentifyRejectsBadQuery(t *testing.T) {
	engine := NewEngine(twoSpeakerGallery(), Options{Dim: 4})

	_, err := engine.Identify(context.Background(), []float32{1, 0})
	assert.Error(t, err)

	_, err = engine.Identify(context.Background(), []float32{float32(math.NaN()), 0, 0, 0})
	assert.Error(t, err)
}

func TestIdentifyDisplayNameFallback(t *testing.T) {
	g := &memGallery{}
	g.add("dave-1", "dave", "", aliceVec)

	engine := NewEngine(g, Options{Dim: 4, Threshold: 0.45})
	dec, err := engine.Identify(context.Background(), aliceVec)
	require.NoError(t, err)
	assert.Equal(t, "dave", dec.DisplayName)
}

func TestConfidence(t *testing.T) {
	assert.InDelta(t, 1.0, Confidence(0), 1e-9)
	assert.InDelta(t, 0.8, Confidence(0.2), 1e-9)
	assert.Equal(t, 0.0, Confidence(1.5), "confidence clamps at zero for distances past 1")
}

func TestOptionsDefaults(t *testing.T) {
	engine := NewEngine(&memGallery{}, Options{Dim: 4})
	opts := engine.Options()
	assert.Equal(t, 0.45, opts.Threshold)
	assert.Equal(t, 5, opts.TopK)
}
