package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"cid-escrow-backend/internal/common/errors"
	"cid-escrow-backend/internal/common/middleware"
	"cid-escrow-backend/internal/features/accessproof/models"
)

// MaxBatchSize bounds a single batch verification request.
const MaxBatchSize = 256

type Verifier interface {
	Verify(ctx context.Context, msg *models.AccessProofMessage, expectedCollectionID string) models.VerificationResult
	VerifyCached(ctx context.Context, msg *models.AccessProofMessage, expectedCollectionID string) models.VerificationResult
	VerifyBatch(ctx context.Context, msgs []*models.AccessProofMessage, expectedCollectionID string) []models.VerificationResult
	ClearCache()
	SetCacheTTL(ttl time.Duration)
	CacheTTL() time.Duration
	CacheLen() int
}

type Handler struct {
	verifier Verifier
	log      zerolog.Logger
}

func NewHandler(verifier Verifier, log zerolog.Logger) *Handler {
	return &Handler{verifier: verifier, log: log}
}

// BatchVerifyResponse keeps results in request order.
type BatchVerifyResponse struct {
	Results []models.VerificationResult `json:"results"`
}

// CacheStatus describes the verification cache.
type CacheStatus struct {
	TTLSeconds int `json:"ttl_seconds" example:"30"`
	Entries    int `json:"entries" example:"12"`
}

// RegisterRoutes mounts the public verification endpoints and, behind admin,
// the cache controls.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, admin gin.HandlerFunc) {
	access := router.Group("/access")
	{
		access.POST("/verify", h.Verify)
		access.POST("/verify/batch", h.VerifyBatch)
	}

	cache := access.Group("/cache", admin)
	{
		cache.GET("", h.CacheStatus)
		cache.DELETE("", h.ClearCache)
		cache.PUT("/ttl", h.SetCacheTTL)
	}
}

// @Summary Verify access proof
// @Description Verify a signed access proof against a collection. Set fresh=true to bypass the verification cache.
// @Tags access
// @Accept json
// @Produce json
// @Param request body models.VerifyRequest true "Proof and expected collection"
// @Param fresh query bool false "Skip the cache"
// @Success 200 {object} models.VerificationResult
// @Failure 400 {object} middleware.ErrorResponse "Invalid request"
// @Router /access/verify [post]
func (h *Handler) Verify(c *gin.Context) {
	var req models.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, errors.Wrap(err, errors.ErrCodeBadRequest, "Invalid request body"), h.log)
		return
	}

	var res models.VerificationResult
	if c.Query("fresh") == "true" {
		res = h.verifier.Verify(c.Request.Context(), &req.Proof, req.CollectionID)
	} else {
		res = h.verifier.VerifyCached(c.Request.Context(), &req.Proof, req.CollectionID)
	}
	c.JSON(http.StatusOK, res)
}

// @Summary Verify access proofs in batch
// @Description Verify several proofs independently; one failure does not affect the others
// @Tags access
// @Accept json
// @Produce json
// @Param request body models.BatchVerifyRequest true "Proofs and expected collection"
// @Success 200 {object} BatchVerifyResponse
// @Failure 400 {object} middleware.ErrorResponse "Invalid request"
// @Router /access/verify/batch [post]
func (h *Handler) VerifyBatch(c *gin.Context) {
	var req models.BatchVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, errors.Wrap(err, errors.ErrCodeBadRequest, "Invalid request body"), h.log)
		return
	}
	if len(req.Proofs) > MaxBatchSize {
		middleware.Abort(c, errors.NewValidationError("proofs", "too many proofs in one batch"), h.log)
		return
	}

	msgs := make([]*models.AccessProofMessage, len(req.Proofs))
	for i := range req.Proofs {
		msgs[i] = &req.Proofs[i]
	}
	c.JSON(http.StatusOK, BatchVerifyResponse{
		Results: h.verifier.VerifyBatch(c.Request.Context(), msgs, req.CollectionID),
	})
}

// @Summary Verification cache status
// @Tags access
// @Produce json
// @Security AdminToken
// @Success 200 {object} CacheStatus
// @Failure 401 {object} middleware.ErrorResponse "Unauthorized"
// @Router /access/cache [get]
func (h *Handler) CacheStatus(c *gin.Context) {
	c.JSON(http.StatusOK, CacheStatus{
		TTLSeconds: int(h.verifier.CacheTTL() / time.Second),
		Entries:    h.verifier.CacheLen(),
	})
}

// @Summary Clear verification cache
// @Tags access
// @Security AdminToken
// @Success 204
// @Failure 401 {object} middleware.ErrorResponse "Unauthorized"
// @Router /access/cache [delete]
func (h *Handler) ClearCache(c *gin.Context) {
	h.verifier.ClearCache()
	c.Status(http.StatusNoContent)
}

// @Summary Set verification cache TTL
// @Description Applies to entries written after the change
// @Tags access
// @Accept json
// @Produce json
// @Security AdminToken
// @Param request body models.CacheTTLRequest true "New TTL in seconds"
// @Success 200 {object} CacheStatus
// @Failure 400 {object} middleware.ErrorResponse "Invalid request"
// @Failure 401 {object} middleware.ErrorResponse "Unauthorized"
// @Router /access/cache/ttl [put]
func (h *Handler) SetCacheTTL(c *gin.Context) {
	var req models.CacheTTLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, errors.NewValidationError("seconds", "must be a positive integer"), h.log)
		return
	}
	h.verifier.SetCacheTTL(time.Duration(req.Seconds) * time.Second)
	h.CacheStatus(c)
}
