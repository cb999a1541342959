package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lookalike/backend/internal/domain"
)

// RecommendationService is the use case surface the handlers need
type RecommendationService interface {
	Recommend(ctx context.Context, query domain.RecommendationQuery) (*domain.RecommendationPage, error)
	SimilarNow(ctx context.Context, productID int64, query, mode string) (*domain.Recommendation, error)
	SubmitJob(ctx context.Context, productID int64, query string) (domain.JobReceipt, error)
	JobStatus(id string) (domain.JobStatus, error)
	ReleaseJob(id, ref string) error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	service RecommendationService
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service RecommendationService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service: service,
		logger:  logger.Named("http"),
	}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "lookalike-backend",
		"version": "1.0.0",
	})
}

// GetRecommendations handles GET /api/v1/recommendations?id=&q=&page=
func (h *Handler) GetRecommendations(c *gin.Context) {
	if !h.ready(c) {
		return
	}

	page := 1
	if raw := c.Query("page"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			h.badRequest(c, "page must be an integer")
			return
		}
		page = p
	}

	var productID int64
	if raw := c.Query("id"); raw != "" {
		id, err := parseProductID(raw)
		if err != nil {
			h.badRequest(c, "id must be a positive integer")
			return
		}
		productID = id
	}

	result, err := h.service.Recommend(c.Request.Context(), domain.RecommendationQuery{
		ProductID: productID,
		Query:     strings.TrimSpace(c.Query("q")),
		Page:      page,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetSimilar handles GET /api/v1/products/:id/similar?q=&mode=
func (h *Handler) GetSimilar(c *gin.Context) {
	if !h.ready(c) {
		return
	}

	id, err := parseProductID(c.Param("id"))
	if err != nil {
		h.badRequest(c, "id must be a positive integer")
		return
	}

	result, err := h.service.SimilarNow(c.Request.Context(), id, strings.TrimSpace(c.Query("q")), c.Query("mode"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type submitJobRequest struct {
	ProductID int64  `json:"product_id" binding:"required,gt=0"`
	Query     string `json:"q"`
}

// SubmitJob handles POST /api/v1/jobs
func (h *Handler) SubmitJob(c *gin.Context) {
	if !h.ready(c) {
		return
	}

	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "body must be {\"product_id\": <positive integer>, \"q\": <string>}")
		return
	}

	receipt, err := h.service.SubmitJob(c.Request.Context(), req.ProductID, strings.TrimSpace(req.Query))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, receipt)
}

// GetJob handles GET /api/v1/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	if !h.ready(c) {
		return
	}

	status, err := h.service.JobStatus(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// ReleaseJob handles DELETE /api/v1/jobs/:id?ref=<ref from submission>
func (h *Handler) ReleaseJob(c *gin.Context) {
	if !h.ready(c) {
		return
	}

	ref := c.Query("ref")
	if ref == "" {
		h.badRequest(c, "ref query parameter is required")
		return
	}
	if err := h.service.ReleaseJob(c.Param("id"), ref); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ready(c *gin.Context) bool {
	if h.service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "recommendation service not configured",
		})
		return false
	}
	return true
}

func (h *Handler) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// writeError maps domain errors to status codes. 5xx bodies never carry
// internal error text.
func (h *Handler) writeError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal server error"
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrNoProducts),
		errors.Is(err, domain.ErrJobNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrJobQueueFull), errors.Is(err, domain.ErrRunnerStopped):
		status, msg = http.StatusServiceUnavailable, "service busy, retry later"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status, msg = http.StatusGatewayTimeout, "request timed out"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": msg})
}

func parseProductID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, strconv.ErrRange
	}
	return id, nil
}
