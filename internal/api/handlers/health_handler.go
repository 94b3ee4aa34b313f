package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rydar/internal/geo"
)

type HealthHandler struct {
	index   geo.Index
	backend string
}

func NewHealthHandler(index geo.Index, backend string) *HealthHandler {
	return &HealthHandler{index: index, backend: backend}
}

// Health handles GET /health. It reports 503 when the presence store cannot
// be reached, so a load balancer stops routing to this instance.
func (h *HealthHandler) Health(c *gin.Context) {
	n, err := h.index.Len(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "backend": h.backend})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": h.backend, "presences": n})
}
