package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/speakerid/internal/identify"
	"github.com/your-org/speakerid/internal/models"
	"github.com/your-org/speakerid/internal/queue"
	"github.com/your-org/speakerid/internal/storage"
	"github.com/your-org/speakerid/pkg/dto"
)

type VideoHandler struct {
	db       *storage.PostgresStore
	minio    *storage.MinIOStore
	producer *queue.Producer
}

func NewVideoHandler(db *storage.PostgresStore, minio *storage.MinIOStore, producer *queue.Producer) *VideoHandler {
	return &VideoHandler{db: db, minio: minio, producer: producer}
}

func (h *VideoHandler) Create(c *gin.Context) {
	var req dto.CreateVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v := &models.Video{
		Title:    req.Title,
		AudioKey: req.AudioKey,
	}
	if req.AudioMTime != "" {
		t, err := time.Parse(time.RFC3339, req.AudioMTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid audio_mtime, want RFC3339"})
			return
		}
		v.AudioMTime = t
	}

	if err := h.db.CreateVideo(c.Request.Context(), v); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, videoToResponse(v))
}

func (h *VideoHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
		return
	}

	v, err := h.db.GetVideo(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
		return
	}

	c.JSON(http.StatusOK, videoToResponse(v))
}

func (h *VideoHandler) List(c *gin.Context) {
	videos, err := h.db.ListVideos(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.VideoResponse, 0, len(videos))
	for i := range videos {
		resp = append(resp, videoToResponse(&videos[i]))
	}

	c.JSON(http.StatusOK, dto.VideoListResponse{Videos: resp, Total: len(resp)})
}

// ReplaceSegments swaps the video's segment set with the diarizer output.
func (h *VideoHandler) ReplaceSegments(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
		return
	}

	v, err := h.db.GetVideo(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
		return
	}

	var req dto.ReplaceSegmentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	segments := make([]models.Segment, 0, len(req.Segments))
	for _, in := range req.Segments {
		segments = append(segments, models.Segment{
			StartTime:    in.StartTime,
			EndTime:      in.EndTime,
			SpeakerLabel: in.SpeakerLabel,
			Confidence:   in.Confidence,
		})
	}

	if err := h.db.ReplaceSegments(c.Request.Context(), id, segments); err != nil {
		var vErr *identify.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "replaced", "total": len(segments)})
}

func (h *VideoHandler) ListSegments(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
		return
	}

	segments, err := h.db.ListSegments(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.SegmentResponse, 0, len(segments))
	for _, seg := range segments {
		resp = append(resp, dto.SegmentResponse{
			ID:            seg.ID,
			StartTime:     seg.StartTime,
			EndTime:       seg.EndTime,
			SpeakerLabel:  seg.SpeakerLabel,
			Confidence:    seg.Confidence,
			IsInvalidated: seg.IsInvalidated,
			HasEmbedding:  len(seg.Embedding) > 0,
		})
	}

	c.JSON(http.StatusOK, dto.SegmentListResponse{Segments: resp, Total: len(resp)})
}

// Identify enqueues an identification run for the video.
func (h *VideoHandler) Identify(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
		return
	}

	v, err := h.db.GetVideo(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
		return
	}
	if v.Status == models.VideoStatusProcessing {
		c.JSON(http.StatusConflict, gin.H{"error": "identification already running"})
		return
	}

	var req dto.IdentifyRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}

	task := models.IdentifyTask{
		VideoID:     id,
		Threshold:   req.Threshold,
		TopK:        req.TopK,
		UseCache:    useCache,
		RequestedAt: time.Now().UTC(),
	}
	if err := h.producer.PublishJob(c.Request.Context(), task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue identification"})
		return
	}

	if err := h.db.UpdateVideoStatus(c.Request.Context(), id, models.VideoStatusQueued, ""); err != nil {
		slog.Warn("update video status", "video_id", id, "error", err)
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "video_id": id})
}

func (h *VideoHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
		return
	}

	// Remove stored PCM windows first
	prefix := fmt.Sprintf("audio/%s/", id)
	keys, err := h.minio.ListObjects(c.Request.Context(), prefix)
	if err != nil {
		slog.Warn("list pcm windows", "prefix", prefix, "error", err)
	} else if len(keys) > 0 {
		if err := h.minio.DeleteObjects(c.Request.Context(), keys); err != nil {
			slog.Warn("delete pcm windows", "prefix", prefix, "error", err)
		}
	}

	if err := h.db.DeleteVideo(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func videoToResponse(v *models.Video) dto.VideoResponse {
	return dto.VideoResponse{
		ID:           v.ID,
		Title:        v.Title,
		AudioKey:     v.AudioKey,
		AudioMTime:   v.AudioMTime.Format(time.RFC3339),
		Status:       string(v.Status),
		ErrorMessage: v.ErrorMessage,
		CreatedAt:    v.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    v.UpdatedAt.Format(time.RFC3339),
	}
}
