package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/productmatcher/backend/config"
	"github.com/productmatcher/backend/internal/domain"
	"github.com/productmatcher/backend/internal/logging"
	"github.com/productmatcher/backend/internal/metrics"
)

// Version is reported by the health check
var Version = "1.0.0"

// MatchFinder runs the match pipeline for one image source
type MatchFinder interface {
	FindMatches(ctx context.Context, source domain.ImageSource) ([]domain.MergedResult, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	matches     MatchFinder
	upload      config.UploadConfig
	development bool
}

// NewHandler creates a new HTTP handler
func NewHandler(matches MatchFinder, upload config.UploadConfig, development bool) *Handler {
	return &Handler{
		matches:     matches,
		upload:      upload,
		development: development,
	}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "productmatcher-backend",
		"version": Version,
	})
}

// GetMatches handles POST /api/matches: an image file or URL in, matched catalog products out
func (h *Handler) GetMatches(c *gin.Context) {
	ctx := c.Request.Context()

	source, upload, err := readMatchRequest(c, h.upload)
	defer upload.Release(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}

	if h.matches == nil {
		h.fail(c, domain.NewError(domain.KindServiceUnavailable, "match service not configured", nil))
		return
	}

	results, err := h.matches.FindMatches(ctx, source)
	if err != nil {
		h.fail(c, err)
		return
	}

	metrics.MatchRequests.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, results)
}

// fail logs the full error server-side and answers with its classified form
func (h *Handler) fail(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	status, body := classifyError(err, h.development)

	metrics.MatchRequests.WithLabelValues(kind.String()).Inc()

	event := logging.Ctx(c.Request.Context()).Warn()
	if status >= http.StatusInternalServerError {
		event = logging.Ctx(c.Request.Context()).Error()
	}
	event.Err(err).Str("kind", kind.String()).Int("status", status).Msg("Match request failed")

	c.JSON(status, body)
}
