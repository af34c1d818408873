package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/speakerid/internal/config"
	"github.com/your-org/speakerid/internal/identify"
	"github.com/your-org/speakerid/internal/models"
	"github.com/your-org/speakerid/internal/observability"
)

// PostgresStore is the durable vector store: the speaker gallery with
// pgvector similarity search, plus videos, segments and plan persistence.
// It implements identify.Gallery and identify.PlanCache.
type PostgresStore struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPostgresStore(cfg config.DatabaseConfig, dim int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool, dim: dim}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates tables and indexes idempotently. The unique index on
// external_id backs upsert correctness; the ivfflat index accelerates cosine
// search (exact scan remains correct without it).
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS speakers (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS voice_embeddings (
			id UUID PRIMARY KEY,
			external_id TEXT NOT NULL UNIQUE,
			speaker_id TEXT NOT NULL REFERENCES speakers(name),
			embedding VECTOR(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.dim),
		`CREATE INDEX IF NOT EXISTS voice_embeddings_speaker_idx ON voice_embeddings (speaker_id)`,
		`CREATE INDEX IF NOT EXISTS voice_embeddings_cosine_idx
			ON voice_embeddings USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
		`CREATE TABLE IF NOT EXISTS videos (
			id UUID PRIMARY KEY,
			title TEXT NOT NULL,
			audio_key TEXT NOT NULL DEFAULT '',
			audio_mtime TIMESTAMPTZ NOT NULL DEFAULT now(),
			status TEXT NOT NULL DEFAULT 'pending',
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS segments (
			id UUID PRIMARY KEY,
			video_id UUID NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
			position INT NOT NULL,
			start_time DOUBLE PRECISION NOT NULL,
			end_time DOUBLE PRECISION NOT NULL,
			speaker_label TEXT NOT NULL DEFAULT '',
			embedding VECTOR(%d),
			confidence REAL NOT NULL DEFAULT 0,
			is_invalidated BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.dim),
		`CREATE INDEX IF NOT EXISTS segments_video_idx ON segments (video_id, position)`,
		`CREATE TABLE IF NOT EXISTS identification_plans (
			id UUID PRIMARY KEY,
			video_id UUID NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
			cache_key TEXT NOT NULL UNIQUE,
			threshold DOUBLE PRECISION NOT NULL,
			top_k INT NOT NULL,
			results JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS identification_plans_video_idx ON identification_plans (video_id, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// --- Speakers ---

func (s *PostgresStore) CreateSpeaker(ctx context.Context, name, displayName string, metadata json.RawMessage) (*models.Speaker, error) {
	if err := identify.ValidateSpeakerID(name); err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = json.RawMessage("{}")
	}
	if displayName == "" {
		displayName = name
	}
	sp := &models.Speaker{
		ID:          uuid.New(),
		Name:        name,
		DisplayName: displayName,
		Metadata:    metadata,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO speakers (id, name, display_name, metadata) VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		sp.ID, sp.Name, sp.DisplayName, sp.Metadata,
	).Scan(&sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create speaker: %w", err)
	}
	return sp, nil
}

// EnsureSpeaker creates the speaker row if it doesn't exist yet.
func (s *PostgresStore) EnsureSpeaker(ctx context.Context, name, displayName string) error {
	if err := identify.ValidateSpeakerID(name); err != nil {
		return err
	}
	if displayName == "" {
		displayName = name
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO speakers (id, name, display_name) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO NOTHING`,
		uuid.New(), name, displayName)
	if err != nil {
		return fmt.Errorf("ensure speaker: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSpeaker(ctx context.Context, name string) (*models.Speaker, error) {
	sp := &models.Speaker{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, display_name, metadata, created_at, updated_at FROM speakers WHERE name = $1`,
		name,
	).Scan(&sp.ID, &sp.Name, &sp.DisplayName, &sp.Metadata, &sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get speaker: %w", err)
	}
	return sp, nil
}

// ListSpeakers returns every speaker with its gallery embedding count.
func (s *PostgresStore) ListSpeakers(ctx context.Context) ([]models.SpeakerSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.name, s.display_name, COUNT(ve.id)
		 FROM speakers s
		 LEFT JOIN voice_embeddings ve ON ve.speaker_id = s.name
		 GROUP BY s.name, s.display_name
		 ORDER BY s.name`)
	if err != nil {
		return nil, fmt.Errorf("list speakers: %w", err)
	}
	defer rows.Close()

	var speakers []models.SpeakerSummary
	for rows.Next() {
		var sp models.SpeakerSummary
		if err := rows.Scan(&sp.Name, &sp.DisplayName, &sp.EmbeddingCount); err != nil {
			return nil, fmt.Errorf("scan speaker: %w", err)
		}
		speakers = append(speakers, sp)
	}
	return speakers, nil
}

// --- Voice Embeddings (the gallery) ---

// AddEmbedding upserts a gallery entry keyed by external_id: re-adding the
// same external_id updates speaker and metadata instead of duplicating.
func (s *PostgresStore) AddEmbedding(ctx context.Context, externalID, speakerID string, embedding []float32, metadata json.RawMessage) (*models.VoiceEmbedding, error) {
	if externalID == "" {
		return nil, &identify.ValidationError{Field: "external_id", Reason: "empty"}
	}
	if err := identify.ValidateSpeakerID(speakerID); err != nil {
		return nil, err
	}
	if err := identify.ValidateEmbedding(embedding, s.dim); err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = json.RawMessage("{}")
	}

	ve := &models.VoiceEmbedding{
		ID:         uuid.New(),
		ExternalID: externalID,
		SpeakerID:  speakerID,
		Embedding:  embedding,
		Metadata:   metadata,
	}
	vec := pgvector.NewVector(embedding)
	err := s.pool.QueryRow(ctx,
		`INSERT INTO voice_embeddings (id, external_id, speaker_id, embedding, metadata)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (external_id) DO UPDATE
		   SET speaker_id = EXCLUDED.speaker_id,
		       embedding = EXCLUDED.embedding,
		       metadata = EXCLUDED.metadata
		 RETURNING id, created_at`,
		ve.ID, ve.ExternalID, ve.SpeakerID, vec, ve.Metadata,
	).Scan(&ve.ID, &ve.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("add embedding: %w", err)
	}
	observability.EmbeddingsAdded.Inc()
	return ve, nil
}

func (s *PostgresStore) DeleteEmbedding(ctx context.Context, externalID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM voice_embeddings WHERE external_id = $1`, externalID)
	if err != nil {
		return fmt.Errorf("delete embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("embedding not found")
	}
	return nil
}

func (s *PostgresStore) CountEmbeddings(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM voice_embeddings`).Scan(&count)
	return count, err
}

// Search implements identify.Gallery: closest embeddings ascending by cosine
// distance, optionally excluding one external_id (self-match prevention).
func (s *PostgresStore) Search(ctx context.Context, query []float32, limit int, excludeExternalID string) ([]identify.Match, error) {
	if err := identify.ValidateEmbedding(query, s.dim); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}
	vec := pgvector.NewVector(query)

	rows, err := s.pool.Query(ctx,
		`SELECT speaker_id, external_id, (embedding <=> $1)::float8 AS distance
		 FROM voice_embeddings
		 WHERE $2 = '' OR external_id <> $2
		 ORDER BY embedding <=> $1, external_id
		 LIMIT $3`,
		vec, excludeExternalID, limit)
	if err != nil {
		return nil, &identify.StoreUnavailableError{Op: "search", Err: err}
	}
	defer rows.Close()

	var matches []identify.Match
	for rows.Next() {
		var m identify.Match
		if err := rows.Scan(&m.SpeakerID, &m.ExternalID, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// SearchBySpeaker implements identify.Gallery: rank speakers by the average
// distance of the query to every embedding of each speaker. More robust to a
// single noisy reference vector than single-nearest-neighbour.
func (s *PostgresStore) SearchBySpeaker(ctx context.Context, query []float32, limit int) ([]identify.SpeakerMatch, error) {
	if err := identify.ValidateEmbedding(query, s.dim); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}
	vec := pgvector.NewVector(query)

	rows, err := s.pool.Query(ctx,
		`SELECT ve.speaker_id, COALESCE(sp.display_name, ve.speaker_id),
		        AVG(ve.embedding <=> $1)::float8 AS avg_distance, COUNT(*)
		 FROM voice_embeddings ve
		 LEFT JOIN speakers sp ON sp.name = ve.speaker_id
		 GROUP BY ve.speaker_id, sp.display_name
		 ORDER BY avg_distance, ve.speaker_id
		 LIMIT $2`,
		vec, limit)
	if err != nil {
		return nil, &identify.StoreUnavailableError{Op: "search_by_speaker", Err: err}
	}
	defer rows.Close()

	var matches []identify.SpeakerMatch
	for rows.Next() {
		var m identify.SpeakerMatch
		if err := rows.Scan(&m.SpeakerID, &m.DisplayName, &m.AvgDistance, &m.MemberCount); err != nil {
			return nil, fmt.Errorf("scan speaker match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// --- Videos ---

func (s *PostgresStore) CreateVideo(ctx context.Context, v *models.Video) error {
	v.ID = uuid.New()
	v.Status = models.VideoStatusPending
	if v.AudioMTime.IsZero() {
		v.AudioMTime = time.Now().UTC()
	}
	return s.pool.QueryRow(ctx,
		`INSERT INTO videos (id, title, audio_key, audio_mtime, status)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at, updated_at`,
		v.ID, v.Title, v.AudioKey, v.AudioMTime, v.Status,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
}

func (s *PostgresStore) GetVideo(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	v := &models.Video{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, audio_key, audio_mtime, status, error_message, created_at, updated_at
		 FROM videos WHERE id = $1`, id,
	).Scan(&v.ID, &v.Title, &v.AudioKey, &v.AudioMTime, &v.Status,
		&v.ErrorMessage, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get video: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) ListVideos(ctx context.Context) ([]models.Video, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, audio_key, audio_mtime, status, error_message, created_at, updated_at
		 FROM videos ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	var videos []models.Video
	for rows.Next() {
		var v models.Video
		if err := rows.Scan(&v.ID, &v.Title, &v.AudioKey, &v.AudioMTime, &v.Status,
			&v.ErrorMessage, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, v)
	}
	return videos, nil
}

func (s *PostgresStore) UpdateVideoStatus(ctx context.Context, id uuid.UUID, status models.VideoStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE videos SET status = $1, error_message = $2, updated_at = now() WHERE id = $3`,
		status, errMsg, id)
	return err
}

func (s *PostgresStore) DeleteVideo(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("video not found")
	}
	return nil
}

// --- Segments ---

// ReplaceSegments swaps a video's segment set atomically. Position preserves
// the caller-supplied order; plans always process segments in that order.
func (s *PostgresStore) ReplaceSegments(ctx context.Context, videoID uuid.UUID, segments []models.Segment) error {
	for i := range segments {
		if err := identify.ValidateSegment(segments[i]); err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM segments WHERE video_id = $1`, videoID); err != nil {
		return fmt.Errorf("clear segments: %w", err)
	}

	for i := range segments {
		seg := &segments[i]
		seg.ID = uuid.New()
		seg.VideoID = videoID
		var vec *pgvector.Vector
		if len(seg.Embedding) > 0 {
			v := pgvector.NewVector(seg.Embedding)
			vec = &v
		}
		err := tx.QueryRow(ctx,
			`INSERT INTO segments (id, video_id, position, start_time, end_time, speaker_label, embedding, confidence, is_invalidated)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING created_at`,
			seg.ID, seg.VideoID, i, seg.StartTime, seg.EndTime,
			seg.SpeakerLabel, vec, seg.Confidence, seg.IsInvalidated,
		).Scan(&seg.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert segment %d: %w", i, err)
		}
	}

	return tx.Commit(ctx)
}

// ListSegments returns a video's segments in their original input order.
func (s *PostgresStore) ListSegments(ctx context.Context, videoID uuid.UUID) ([]models.Segment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, video_id, start_time, end_time, speaker_label, embedding, confidence, is_invalidated, created_at
		 FROM segments WHERE video_id = $1 ORDER BY position`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var segments []models.Segment
	for rows.Next() {
		var seg models.Segment
		var vec *pgvector.Vector
		if err := rows.Scan(&seg.ID, &seg.VideoID, &seg.StartTime, &seg.EndTime,
			&seg.SpeakerLabel, &vec, &seg.Confidence, &seg.IsInvalidated, &seg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		if vec != nil {
			seg.Embedding = vec.Slice()
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

func (s *PostgresStore) GetSegment(ctx context.Context, id uuid.UUID) (*models.Segment, error) {
	seg := &models.Segment{}
	var vec *pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT id, video_id, start_time, end_time, speaker_label, embedding, confidence, is_invalidated, created_at
		 FROM segments WHERE id = $1`, id,
	).Scan(&seg.ID, &seg.VideoID, &seg.StartTime, &seg.EndTime,
		&seg.SpeakerLabel, &vec, &seg.Confidence, &seg.IsInvalidated, &seg.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get segment: %w", err)
	}
	if vec != nil {
		seg.Embedding = vec.Slice()
	}
	return seg, nil
}

func (s *PostgresStore) UpdateSegmentEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	if err := identify.ValidateEmbedding(embedding, s.dim); err != nil {
		return err
	}
	vec := pgvector.NewVector(embedding)
	_, err := s.pool.Exec(ctx,
		`UPDATE segments SET embedding = $1 WHERE id = $2`, vec, id)
	return err
}

func (s *PostgresStore) InvalidateSegment(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE segments SET is_invalidated = TRUE WHERE id = $1`, id)
	return err
}

// --- Plans (result sink + content-addressed cache) ---

// PutPlan implements identify.PlanCache. The unique cache_key makes
// concurrent recomputation under the same key last-writer-wins.
func (s *PostgresStore) PutPlan(ctx context.Context, plan *models.Plan) error {
	results, err := json.Marshal(plan.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO identification_plans (id, video_id, cache_key, threshold, top_k, results, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (cache_key) DO UPDATE
		   SET threshold = EXCLUDED.threshold,
		       top_k = EXCLUDED.top_k,
		       results = EXCLUDED.results,
		       created_at = EXCLUDED.created_at
		 RETURNING id`,
		plan.ID, plan.VideoID, plan.CacheKey, plan.Threshold, plan.TopK, results, plan.CreatedAt,
	).Scan(&plan.ID)
	if err != nil {
		return &identify.StoreUnavailableError{Op: "put_plan", Err: err}
	}
	return nil
}

// GetPlan implements identify.PlanCache; returns nil on a cache miss.
func (s *PostgresStore) GetPlan(ctx context.Context, key string) (*models.Plan, error) {
	return s.scanPlan(s.pool.QueryRow(ctx,
		`SELECT id, video_id, cache_key, threshold, top_k, results, created_at
		 FROM identification_plans WHERE cache_key = $1`, key))
}

func (s *PostgresStore) GetPlanByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	return s.scanPlan(s.pool.QueryRow(ctx,
		`SELECT id, video_id, cache_key, threshold, top_k, results, created_at
		 FROM identification_plans WHERE id = $1`, id))
}

func (s *PostgresStore) GetLatestPlan(ctx context.Context, videoID uuid.UUID) (*models.Plan, error) {
	return s.scanPlan(s.pool.QueryRow(ctx,
		`SELECT id, video_id, cache_key, threshold, top_k, results, created_at
		 FROM identification_plans WHERE video_id = $1
		 ORDER BY created_at DESC LIMIT 1`, videoID))
}

func (s *PostgresStore) scanPlan(row pgx.Row) (*models.Plan, error) {
	plan := &models.Plan{}
	var results []byte
	err := row.Scan(&plan.ID, &plan.VideoID, &plan.CacheKey,
		&plan.Threshold, &plan.TopK, &results, &plan.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, &identify.StoreUnavailableError{Op: "get_plan", Err: err}
	}
	if err := json.Unmarshal(results, &plan.Results); err != nil {
		return nil, fmt.Errorf("unmarshal results: %w", err)
	}
	return plan, nil
}
