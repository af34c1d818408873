package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/speakerid/internal/identify"
	"github.com/your-org/speakerid/internal/storage"
	"github.com/your-org/speakerid/pkg/dto"
)

type SpeakerHandler struct {
	db *storage.PostgresStore
}

func NewSpeakerHandler(db *storage.PostgresStore) *SpeakerHandler {
	return &SpeakerHandler{db: db}
}

func (h *SpeakerHandler) Create(c *gin.Context) {
	var req dto.CreateSpeakerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sp, err := h.db.CreateSpeaker(c.Request.Context(), req.Name, req.DisplayName, req.Metadata)
	if err != nil {
		var vErr *identify.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, dto.SpeakerResponse{
		Name:        sp.Name,
		DisplayName: sp.DisplayName,
		Metadata:    sp.Metadata,
		CreatedAt:   sp.CreatedAt.Format("2006-01-02T15:04:05Z"),
	})
}

func (h *SpeakerHandler) List(c *gin.Context) {
	speakers, err := h.db.ListSpeakers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.SpeakerResponse, 0, len(speakers))
	for _, sp := range speakers {
		resp = append(resp, dto.SpeakerResponse{
			Name:           sp.Name,
			DisplayName:    sp.DisplayName,
			EmbeddingCount: sp.EmbeddingCount,
		})
	}

	c.JSON(http.StatusOK, dto.SpeakerListResponse{Speakers: resp, Total: len(resp)})
}

func (h *SpeakerHandler) Get(c *gin.Context) {
	sp, err := h.db.GetSpeaker(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "speaker not found"})
		return
	}

	c.JSON(http.StatusOK, dto.SpeakerResponse{
		Name:        sp.Name,
		DisplayName: sp.DisplayName,
		Metadata:    sp.Metadata,
		CreatedAt:   sp.CreatedAt.Format("2006-01-02T15:04:05Z"),
	})
}

// AddEmbedding upserts a gallery entry for the speaker, keyed by external_id.
func (h *SpeakerHandler) AddEmbedding(c *gin.Context) {
	name := c.Param("name")

	sp, err := h.db.GetSpeaker(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "speaker not found"})
		return
	}

	var req dto.AddEmbeddingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ve, err := h.db.AddEmbedding(c.Request.Context(), req.ExternalID, name, req.Embedding, req.Metadata)
	if err != nil {
		var vErr *identify.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": vErr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, dto.EmbeddingResponse{
		ID:         ve.ID,
		ExternalID: ve.ExternalID,
		SpeakerID:  ve.SpeakerID,
		CreatedAt:  ve.CreatedAt.Format("2006-01-02T15:04:05Z"),
	})
}

// Search runs a raw nearest-neighbour query against the gallery.
func (h *SpeakerHandler) Search(c *gin.Context) {
	var req dto.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	matches, err := h.db.Search(c.Request.Context(), req.Embedding, req.Limit, req.ExcludeExternalID)
	if err != nil {
		var vErr *identify.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": vErr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	results := make([]dto.SearchMatchResponse, 0, len(matches))
	for _, m := range matches {
		results = append(results, dto.SearchMatchResponse{
			SpeakerID:  m.SpeakerID,
			ExternalID: m.ExternalID,
			Distance:   m.Distance,
		})
	}

	c.JSON(http.StatusOK, gin.H{"results": results, "total": len(results)})
}

// SearchSpeakers ranks speakers by averaged distance, as used for
// production identification.
func (h *SpeakerHandler) SearchSpeakers(c *gin.Context) {
	var req dto.SearchSpeakersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	matches, err := h.db.SearchBySpeaker(c.Request.Context(), req.Embedding, req.TopK)
	if err != nil {
		var vErr *identify.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": vErr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	results := make([]dto.SpeakerMatchResponse, 0, len(matches))
	for _, m := range matches {
		results = append(results, dto.SpeakerMatchResponse{
			SpeakerID:   m.SpeakerID,
			DisplayName: m.DisplayName,
			AvgDistance: m.AvgDistance,
			MemberCount: m.MemberCount,
			Confidence:  identify.Confidence(m.AvgDistance),
		})
	}

	c.JSON(http.StatusOK, gin.H{"results": results, "total": len(results)})
}
