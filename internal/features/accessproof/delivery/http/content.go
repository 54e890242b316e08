package http

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"cid-escrow-backend/internal/common/errors"
	"cid-escrow-backend/internal/common/middleware"
	proofmw "cid-escrow-backend/internal/features/accessproof/middleware"
	"cid-escrow-backend/internal/platform/manifest"
)

type ManifestFetcher interface {
	Fetch(ctx context.Context, cid string) (*manifest.Manifest, error)
}

// ContentHandler serves collection manifests to holders of a valid proof.
type ContentHandler struct {
	catalog  map[string]string
	fetcher  ManifestFetcher
	verifier proofmw.CachedVerifier
	log      zerolog.Logger
}

func NewContentHandler(catalog map[string]string, fetcher ManifestFetcher, verifier proofmw.CachedVerifier, log zerolog.Logger) *ContentHandler {
	return &ContentHandler{catalog: catalog, fetcher: fetcher, verifier: verifier, log: log}
}

func (h *ContentHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/content/:collection",
		proofmw.RequireAccessProof(h.verifier, "collection", h.log),
		h.GetManifest)
}

// @Summary Get collection manifest
// @Description Returns the manifest of a collection the caller holds an access credential for
// @Tags content
// @Produce json
// @Param collection path string true "Collection ID"
// @Param X-Access-Proof header string true "Base64 encoded access proof JSON"
// @Success 200 {object} manifest.Manifest
// @Failure 403 {object} middleware.ErrorResponse "Access denied"
// @Failure 404 {object} middleware.ErrorResponse "Collection not served here"
// @Failure 502 {object} middleware.ErrorResponse "Gateway error"
// @Router /content/{collection} [get]
func (h *ContentHandler) GetManifest(c *gin.Context) {
	collection := c.Param("collection")
	cid, ok := h.catalog[collection]
	if !ok {
		middleware.Abort(c, errors.New(errors.ErrCodeNotFound, "Collection not served by this pinner"), h.log)
		return
	}

	m, err := h.fetcher.Fetch(c.Request.Context(), cid)
	if err != nil {
		if stderrors.Is(err, manifest.ErrFetchFailed) {
			middleware.Abort(c, errors.NewGatewayError("fetch manifest", err), h.log)
			return
		}
		middleware.Abort(c, errors.Wrap(err, errors.ErrCodeInternal, "Manifest unavailable"), h.log)
		return
	}
	c.JSON(http.StatusOK, m)
}
