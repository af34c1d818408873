package handlers

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/speakerid/internal/identify"
	"github.com/your-org/speakerid/internal/models"
	"github.com/your-org/speakerid/internal/storage"
	"github.com/your-org/speakerid/pkg/dto"
)

type PlanHandler struct {
	db *storage.PostgresStore
}

func NewPlanHandler(db *storage.PostgresStore) *PlanHandler {
	return &PlanHandler{db: db}
}

// Get returns a plan by id. With ?format=text the response is the printable
// audit listing instead of JSON.
func (h *PlanHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan id"})
		return
	}

	plan, err := h.db.GetPlanByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if plan == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "plan not found"})
		return
	}

	h.render(c, plan)
}

// Latest returns the most recent plan for a video.
func (h *PlanHandler) Latest(c *gin.Context) {
	videoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
		return
	}

	plan, err := h.db.GetLatestPlan(c.Request.Context(), videoID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if plan == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no plan for video"})
		return
	}

	h.render(c, plan)
}

func (h *PlanHandler) render(c *gin.Context, plan *models.Plan) {
	if c.Query("format") == "text" {
		var buf bytes.Buffer
		identify.FprintPlan(&buf, plan)
		c.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
		return
	}
	c.JSON(http.StatusOK, PlanToResponse(plan))
}

// PlanToResponse converts a plan to its API shape, adding the display-only
// confidence for each scored result.
func PlanToResponse(plan *models.Plan) dto.PlanResponse {
	identified, unknown, skipped := plan.Counts()
	results := make([]dto.ResultResponse, 0, len(plan.Results))
	for _, r := range plan.Results {
		rr := dto.ResultResponse{
			SegmentID:         r.SegmentID,
			SegmentStart:      r.SegmentStart,
			SegmentEnd:        r.SegmentEnd,
			Status:            string(r.Status),
			SpeakerID:         r.SpeakerID,
			IdentifiedSpeaker: r.IdentifiedSpeaker,
			Distance:          r.Distance,
			Reason:            r.Reason,
		}
		if r.Distance != nil {
			conf := identify.Confidence(*r.Distance)
			rr.Confidence = &conf
		}
		results = append(results, rr)
	}
	return dto.PlanResponse{
		ID:         plan.ID,
		VideoID:    plan.VideoID,
		CacheKey:   plan.CacheKey,
		Threshold:  plan.Threshold,
		TopK:       plan.TopK,
		Identified: identified,
		Unknown:    unknown,
		Skipped:    skipped,
		Results:    results,
		CreatedAt:  plan.CreatedAt.Format(time.RFC3339),
	}
}
