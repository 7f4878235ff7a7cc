package http

import (
	"net/http"
	"sort"
	"time"

	"tempvoice/internal/core/domain"
	"tempvoice/internal/core/services"
	"tempvoice/internal/infrastructure/middleware"
	"tempvoice/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ClaimSource exposes the open ownership claims of a room.
type ClaimSource interface {
	PendingClaims(id domain.ChannelID) []domain.ClaimRequest
}

type RoomHandler struct {
	dispatcher *services.Dispatcher
	claims     ClaimSource
}

func NewRoomHandler(dispatcher *services.Dispatcher, claims ClaimSource) *RoomHandler {
	return &RoomHandler{
		dispatcher: dispatcher,
		claims:     claims,
	}
}

// SetupRoutes registers the room routes on an authenticated group.
func (h *RoomHandler) SetupRoutes(api *gin.RouterGroup) {
	api.GET("/rooms", h.ListRooms)
	api.GET("/rooms/:id", h.GetRoom)
	api.GET("/rooms/:id/claims", h.ListClaims)
	api.POST("/rooms/:id/actions", h.PerformAction)
}

type ActionRequest struct {
	Action domain.Action `json:"action" binding:"required,max=32"`
	UserID domain.UserID `json:"user_id,omitempty" binding:"max=64"`
	Limit  *int          `json:"limit,omitempty"`
	Name   string        `json:"name,omitempty" binding:"max=200"`
}

type roomResponse struct {
	ID               domain.ChannelID `json:"id"`
	OwnerID          domain.UserID    `json:"owner_id"`
	CreatorChannelID domain.ChannelID `json:"creator_channel_id"`
	Name             string           `json:"name"`
	Locked           bool             `json:"locked"`
	UserLimit        int              `json:"user_limit"`
	State            domain.RoomState `json:"state"`
	Allowed          []domain.UserID  `json:"allowed"`
	Blocked          []domain.UserID  `json:"blocked"`
	CreatedAt        time.Time        `json:"created_at"`
}

func newRoomResponse(room *domain.Room) *roomResponse {
	if room == nil {
		return nil
	}
	return &roomResponse{
		ID:               room.ID,
		OwnerID:          room.OwnerID,
		CreatorChannelID: room.CreatorChannelID,
		Name:             room.Name,
		Locked:           room.Locked,
		UserLimit:        room.UserLimit,
		State:            room.State,
		Allowed:          room.Allowed(),
		Blocked:          room.Blocked(),
		CreatedAt:        room.CreatedAt,
	}
}

type actionResponse struct {
	Status services.Status `json:"status"`
	Reason string          `json:"reason,omitempty"`
	Detail string          `json:"detail,omitempty"`
	Room   *roomResponse   `json:"room,omitempty"`
}

// PerformAction applies a control action as the authenticated user. Denied
// actions answer 403 and failures keep the status of their error.
func (h *RoomHandler) PerformAction(c *gin.Context) {
	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewValidationError("invalid request format"))
		return
	}

	res := h.dispatcher.PerformAction(
		c.Request.Context(),
		domain.ChannelID(c.Param("id")),
		middleware.ActorID(c),
		req.Action,
		services.Params{UserID: req.UserID, Limit: req.Limit, Name: req.Name},
	)

	body := actionResponse{
		Status: res.Status,
		Reason: res.Reason,
		Detail: res.Detail,
		Room:   newRoomResponse(res.Room),
	}
	c.JSON(actionStatus(res), body)
}

func actionStatus(res services.Result) int {
	switch res.Status {
	case services.StatusOK:
		return http.StatusOK
	case services.StatusDenied:
		return http.StatusForbidden
	}
	if app := errors.GetAppError(res.Err); app != nil {
		return app.HTTPStatus
	}
	return http.StatusInternalServerError
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, err := h.dispatcher.Room(c.Request.Context(), domain.ChannelID(c.Param("id")))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": newRoomResponse(room)})
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.dispatcher.Rooms(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	owner := domain.UserID(c.Query("owner"))
	out := make([]*roomResponse, 0, len(rooms))
	for _, room := range rooms {
		if owner != "" && room.OwnerID != owner {
			continue
		}
		out = append(out, newRoomResponse(room))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	c.JSON(http.StatusOK, gin.H{
		"rooms": out,
		"total": len(out),
	})
}

type claimResponse struct {
	RequesterID domain.UserID `json:"requester_id"`
	RequestedAt time.Time     `json:"requested_at"`
}

func (h *RoomHandler) ListClaims(c *gin.Context) {
	claims := h.claims.PendingClaims(domain.ChannelID(c.Param("id")))
	out := make([]claimResponse, len(claims))
	for i, claim := range claims {
		out[i] = claimResponse{RequesterID: claim.RequesterID, RequestedAt: claim.RequestedAt}
	}
	c.JSON(http.StatusOK, gin.H{"claims": out})
}
