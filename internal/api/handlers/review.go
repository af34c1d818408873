package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/speakerid/internal/api/ws"
	"github.com/your-org/speakerid/internal/identify"
	"github.com/your-org/speakerid/internal/storage"
	"github.com/your-org/speakerid/pkg/dto"
)

// ReviewHandler closes the active-learning loop: a human correction in the
// review UI is written back into the gallery so future searches improve.
type ReviewHandler struct {
	db  *storage.PostgresStore
	hub *ws.Hub
}

func NewReviewHandler(db *storage.PostgresStore, hub *ws.Hub) *ReviewHandler {
	return &ReviewHandler{db: db, hub: hub}
}

// Override corrects a segment's speaker. The segment's embedding is upserted
// into the gallery under the corrected speaker; re-overriding the same
// segment updates that one gallery row.
func (h *ReviewHandler) Override(c *gin.Context) {
	segID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid segment id"})
		return
	}

	var req dto.OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	seg, err := h.db.GetSegment(c.Request.Context(), segID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if seg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "segment not found"})
		return
	}
	if len(seg.Embedding) == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "segment has no embedding yet; run identification first"})
		return
	}

	sp, err := h.db.GetSpeaker(c.Request.Context(), req.SpeakerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "speaker not found"})
		return
	}

	externalID := "segment:" + segID.String()
	metadata, _ := json.Marshal(map[string]string{
		"source":   "review_override",
		"video_id": seg.VideoID.String(),
	})

	ve, err := h.db.AddEmbedding(c.Request.Context(), externalID, req.SpeakerID, seg.Embedding, metadata)
	if err != nil {
		var vErr *identify.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": vErr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.hub.BroadcastEvent(&dto.WSEvent{
		Type:    "speaker_corrected",
		VideoID: seg.VideoID,
		Data: gin.H{
			"segment_id":  segID,
			"speaker_id":  req.SpeakerID,
			"external_id": ve.ExternalID,
			"span":        fmt.Sprintf("%.2f-%.2f", seg.StartTime, seg.EndTime),
		},
	})

	c.JSON(http.StatusOK, gin.H{
		"status":      "corrected",
		"external_id": ve.ExternalID,
		"speaker_id":  req.SpeakerID,
	})
}

// Invalidate marks a segment as superseded (e.g. after a manual split).
// Invalidated segments are skipped by subsequent identification runs.
func (h *ReviewHandler) Invalidate(c *gin.Context) {
	segID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid segment id"})
		return
	}

	seg, err := h.db.GetSegment(c.Request.Context(), segID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if seg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "segment not found"})
		return
	}

	if err := h.db.InvalidateSegment(c.Request.Context(), segID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "invalidated", "segment_id": segID})
}
