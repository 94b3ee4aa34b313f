package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"rydar/internal/api/middleware"
	"rydar/internal/domain/entities"
	"rydar/internal/services"
)

type LocationHandler struct {
	locationService  *services.LocationService
	proximityService *services.ProximityService
	defaultRadius    float64
	defaultLimit     int
}

func NewLocationHandler(
	locationService *services.LocationService,
	proximityService *services.ProximityService,
	defaultRadius float64,
	defaultLimit int,
) *LocationHandler {
	return &LocationHandler{
		locationService:  locationService,
		proximityService: proximityService,
		defaultRadius:    defaultRadius,
		defaultLimit:     defaultLimit,
	}
}

// UpdateLocationRequest is the body of a driver position push. Coordinates are
// pointers so that a missing field is told apart from a legitimate 0.
type UpdateLocationRequest struct {
	Latitude       *float64 `json:"latitude" binding:"required"`
	Longitude      *float64 `json:"longitude" binding:"required"`
	CurrRouteName  string   `json:"currRouteName" binding:"required"`
	CustomComments *string  `json:"customComments"`
}

// UpdateLocation handles POST /me/location
func (h *LocationHandler) UpdateLocation(c *gin.Context) {
	var req UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	_, err := h.locationService.UpdateLocation(c.Request.Context(), middleware.GetUserID(c), services.LocationUpdate{
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		RouteName: req.CurrRouteName,
		Comment:   entities.CommentFromPtr(req.CustomComments),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StopBroadcast handles DELETE /me/location
func (h *LocationHandler) StopBroadcast(c *gin.Context) {
	if err := h.locationService.StopBroadcast(c.Request.Context(), middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetMyLocation handles GET /me/location
func (h *LocationHandler) GetMyLocation(c *gin.Context) {
	presence, err := h.locationService.GetPresence(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, presence)
}

type NearbyDriverResponse struct {
	UserID         string           `json:"userId"`
	Latitude       float64          `json:"latitude"`
	Longitude      float64          `json:"longitude"`
	CurrRouteName  string           `json:"currRouteName"`
	CustomComments entities.Comment `json:"customComments"`
}

type NearbyResponse struct {
	NearbyDrivers []NearbyDriverResponse `json:"nearbyDrivers"`
}

// Nearby handles GET /nearby
func (h *LocationHandler) Nearby(c *gin.Context) {
	query, err := h.parseNearbyQuery(c)
	if err != nil {
		respondError(c, err)
		return
	}

	drivers, err := h.proximityService.FindNearby(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := NearbyResponse{NearbyDrivers: make([]NearbyDriverResponse, 0, len(drivers))}
	for _, d := range drivers {
		resp.NearbyDrivers = append(resp.NearbyDrivers, NearbyDriverResponse{
			UserID:         d.DriverID,
			Latitude:       d.Latitude,
			Longitude:      d.Longitude,
			CurrRouteName:  d.RouteName,
			CustomComments: d.Comment,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// parseNearbyQuery reads the query string of GET /nearby. Only an absent
// radiusMeters or limit falls back to its default: a parameter that is present
// but blank is as invalid as a malformed one, otherwise latitude= would quietly
// turn into 0.
func (h *LocationHandler) parseNearbyQuery(c *gin.Context) (services.ProximityQuery, error) {
	q := services.ProximityQuery{
		RadiusMeters:    h.defaultRadius,
		Limit:           h.defaultLimit,
		DestinationName: c.Query("destinationName"),
	}

	var err error
	if q.Latitude, err = queryFloat(c, "latitude", nil); err != nil {
		return q, err
	}
	if q.Longitude, err = queryFloat(c, "longitude", nil); err != nil {
		return q, err
	}
	if q.RadiusMeters, err = queryFloat(c, "radiusMeters", &q.RadiusMeters); err != nil {
		return q, err
	}
	if raw, ok := c.GetQuery("limit"); ok {
		if q.Limit, err = strconv.Atoi(strings.TrimSpace(raw)); err != nil {
			return q, &services.ValidationError{Field: "limit", Reason: "must be an integer"}
		}
	}
	return q, nil
}

// queryFloat parses a numeric query parameter. A nil fallback makes the
// parameter required.
func queryFloat(c *gin.Context, name string, fallback *float64) (float64, error) {
	raw, ok := c.GetQuery(name)
	if !ok {
		if fallback == nil {
			return 0, &services.ValidationError{Field: name, Reason: "is required"}
		}
		return *fallback, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, &services.ValidationError{Field: name, Reason: "must be a number"}
	}
	return v, nil
}
