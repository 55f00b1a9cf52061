package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"tutor-llm/internal/domain"
)

type BrandingProvider interface {
	Branding(ctx context.Context) domain.Branding
}

type BrandingHandler struct {
	branding BrandingProvider
}

func NewBrandingHandler(branding BrandingProvider) *BrandingHandler {
	return &BrandingHandler{branding: branding}
}

// GetBranding maneja GET /branding. Sin ajustes devuelve campos vacios.
func (h *BrandingHandler) GetBranding(c *gin.Context) {
	if h.branding == nil {
		c.JSON(http.StatusOK, domain.Branding{})
		return
	}
	c.JSON(http.StatusOK, h.branding.Branding(c.Request.Context()))
}
