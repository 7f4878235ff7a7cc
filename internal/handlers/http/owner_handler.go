package http

import (
	"net/http"

	"tempvoice/internal/core/domain"
	"tempvoice/internal/core/services"
	"tempvoice/internal/infrastructure/middleware"
	"tempvoice/pkg/errors"

	"github.com/gin-gonic/gin"
)

// OwnerHandler serves the caller's trusted and blocked users and creation defaults.
type OwnerHandler struct {
	dispatcher *services.Dispatcher
}

func NewOwnerHandler(dispatcher *services.Dispatcher) *OwnerHandler {
	return &OwnerHandler{dispatcher: dispatcher}
}

func (h *OwnerHandler) SetupRoutes(api *gin.RouterGroup) {
	api.GET("/trusted", h.ListTrusted)
	api.PUT("/trusted/:user", h.Trust)
	api.DELETE("/trusted/:user", h.Untrust)
	api.GET("/blocked", h.ListBlocked)
	api.PUT("/blocked/:user", h.Block)
	api.DELETE("/blocked/:user", h.Unblock)
	api.GET("/settings", h.GetSettings)
	api.PUT("/settings", h.SaveSettings)
}

func (h *OwnerHandler) ListTrusted(c *gin.Context) {
	users, err := h.dispatcher.TrustedUsers(c.Request.Context(), middleware.ActorID(c))
	if err != nil {
		c.Error(err)
		return
	}
	if users == nil {
		users = []domain.UserID{}
	}
	c.JSON(http.StatusOK, gin.H{"trusted": users})
}

func (h *OwnerHandler) Trust(c *gin.Context) {
	if err := h.dispatcher.Trust(c.Request.Context(), middleware.ActorID(c), domain.UserID(c.Param("user"))); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *OwnerHandler) Untrust(c *gin.Context) {
	if err := h.dispatcher.Untrust(c.Request.Context(), middleware.ActorID(c), domain.UserID(c.Param("user"))); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *OwnerHandler) ListBlocked(c *gin.Context) {
	users, err := h.dispatcher.BlockedUsers(c.Request.Context(), middleware.ActorID(c))
	if err != nil {
		c.Error(err)
		return
	}
	if users == nil {
		users = []domain.UserID{}
	}
	c.JSON(http.StatusOK, gin.H{"blocked": users})
}

func (h *OwnerHandler) Block(c *gin.Context) {
	if err := h.dispatcher.Block(c.Request.Context(), middleware.ActorID(c), domain.UserID(c.Param("user"))); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *OwnerHandler) Unblock(c *gin.Context) {
	if err := h.dispatcher.Unblock(c.Request.Context(), middleware.ActorID(c), domain.UserID(c.Param("user"))); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

type SettingsRequest struct {
	DefaultName   string `json:"default_name" binding:"max=200"`
	DefaultLimit  int    `json:"default_limit"`
	DefaultLocked bool   `json:"default_locked"`
}

type settingsResponse struct {
	UserID        domain.UserID `json:"user_id"`
	DefaultName   string        `json:"default_name"`
	DefaultLimit  int           `json:"default_limit"`
	DefaultLocked bool          `json:"default_locked"`
}

func newSettingsResponse(s *domain.UserSettings) settingsResponse {
	return settingsResponse{
		UserID:        s.UserID,
		DefaultName:   s.DefaultName,
		DefaultLimit:  s.DefaultLimit,
		DefaultLocked: s.DefaultLocked,
	}
}

func (h *OwnerHandler) GetSettings(c *gin.Context) {
	settings, err := h.dispatcher.Settings(c.Request.Context(), middleware.ActorID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": newSettingsResponse(settings)})
}

func (h *OwnerHandler) SaveSettings(c *gin.Context) {
	var req SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewValidationError("invalid request format"))
		return
	}

	settings := &domain.UserSettings{
		UserID:        middleware.ActorID(c),
		DefaultName:   req.DefaultName,
		DefaultLimit:  req.DefaultLimit,
		DefaultLocked: req.DefaultLocked,
	}
	if err := h.dispatcher.SaveSettings(c.Request.Context(), settings); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": newSettingsResponse(settings)})
}
