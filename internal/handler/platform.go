package handler

import (
	"context"
	"net/http"

	"github.com/cleberrangel/quotation-api/internal/model"
	"github.com/gin-gonic/gin"
)

// PlatformLister lista o catálogo de plataformas
type PlatformLister interface {
	ListPlatforms(ctx context.Context) ([]model.Platform, error)
}

// PlatformHandler handles platform catalog requests
type PlatformHandler struct {
	platforms PlatformLister
}

// NewPlatformHandler creates a new platform handler
func NewPlatformHandler(platforms PlatformLister) *PlatformHandler {
	return &PlatformHandler{platforms: platforms}
}

// ListPlatforms retorna as plataformas selecionáveis
func (h *PlatformHandler) ListPlatforms(c *gin.Context) {
	platforms, err := h.platforms.ListPlatforms(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.Response{Success: true, Data: platforms})
}
