package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rydar/internal/api/middleware"
	"rydar/internal/domain/entities"
	"rydar/internal/services"
)

type RouteHandler struct {
	routeService *services.RouteService
}

func NewRouteHandler(routeService *services.RouteService) *RouteHandler {
	return &RouteHandler{routeService: routeService}
}

type DestinationRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

type RouteRequest struct {
	RouteName      string              `json:"routeName" binding:"required"`
	Destination    *DestinationRequest `json:"destination" binding:"required"`
	CustomComments *string             `json:"customComments"`
}

func (r RouteRequest) input() services.RouteInput {
	return services.RouteInput{
		Name:        r.RouteName,
		Destination: entities.NewLocation(*r.Destination.Latitude, *r.Destination.Longitude),
		Comment:     entities.CommentFromPtr(r.CustomComments),
	}
}

// ListRoutes handles GET /me/routes
func (h *RouteHandler) ListRoutes(c *gin.Context) {
	routes, err := h.routeService.ListRoutes(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"routes": routes})
}

// AddRoute handles POST /me/routes
func (h *RouteHandler) AddRoute(c *gin.Context) {
	var req RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	route, err := h.routeService.AddRoute(c.Request.Context(), middleware.GetUserID(c), req.input())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, route)
}

// GetRoute handles GET /me/routes/:routeName
func (h *RouteHandler) GetRoute(c *gin.Context) {
	route, err := h.routeService.GetRoute(c.Request.Context(), middleware.GetUserID(c), c.Param("routeName"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, route)
}

// UpdateRoute handles PUT /me/routes/:routeName
func (h *RouteHandler) UpdateRoute(c *gin.Context) {
	var req RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	route, err := h.routeService.UpdateRoute(c.Request.Context(), middleware.GetUserID(c), c.Param("routeName"), req.input())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, route)
}

// RemoveRoute handles DELETE /me/routes/:routeName
func (h *RouteHandler) RemoveRoute(c *gin.Context) {
	if err := h.routeService.RemoveRoute(c.Request.Context(), middleware.GetUserID(c), c.Param("routeName")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
