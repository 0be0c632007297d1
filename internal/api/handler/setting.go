package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/marcusv/ionbridge/internal/repository"
)

// SettingHandler exposes operator settings as key-value CRUD.
type SettingHandler struct {
	settings *repository.SettingRepository
}

// NewSettingHandler creates a new setting handler.
func NewSettingHandler(settings *repository.SettingRepository) *SettingHandler {
	return &SettingHandler{settings: settings}
}

// GetSetting returns one setting by key.
func (h *SettingHandler) GetSetting(c *gin.Context) {
	setting, err := h.settings.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		if errors.Is(err, repository.ErrSettingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "setting not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, setting)
}

// PutSettingRequest is the setting update request body.
type PutSettingRequest struct {
	Value string `json:"value" binding:"required"`
}

// PutSetting creates or replaces a setting value.
func (h *SettingHandler) PutSetting(c *gin.Context) {
	var req PutSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key := c.Param("key")
	if err := h.settings.Set(c.Request.Context(), key, req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": req.Value})
}

// ListSettings returns all settings.
func (h *SettingHandler) ListSettings(c *gin.Context) {
	settings, err := h.settings.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}
