package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"rydar/internal/services"
)

// respondError maps a service error onto a status code and JSON body. The
// original error is attached to the gin context so the request logger records
// it; clients only see messages that are safe to show.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var vErr *services.ValidationError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error(), "field": vErr.Field})
	case errors.Is(err, services.ErrPresenceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrRouteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	case errors.Is(err, services.ErrRouteExists):
		c.JSON(http.StatusConflict, gin.H{"error": "a route with that name already exists"})
	case errors.Is(err, services.ErrTransientStore):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence store temporarily unavailable, retry shortly"})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request timed out"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// badRequest reports a body that failed to bind, in the same shape as a
// ValidationError so clients parse one kind of 400.
func badRequest(c *gin.Context, err error) {
	respondError(c, bindError(err))
}

// bindError names the JSON field a binding failure is about. Validator
// namespaces look like "RouteRequest.Destination.Latitude"; the request
// structs use lowerCamel JSON tags, so dropping the type name and lowering the
// first letter of each part gives "destination.latitude".
//
// Go Learning Note: errors.As with Slice Types
// validator.ValidationErrors is a slice type, so errors.As needs a value of
// that type (not a pointer to an element) to match it.
func bindError(err error) *services.ValidationError {
	var (
		fieldErrs validator.ValidationErrors
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &fieldErrs) && len(fieldErrs) > 0:
		fe := fieldErrs[0]
		reason := "failed the " + fe.Tag() + " check"
		if fe.Tag() == "required" {
			reason = "is required"
		}
		return &services.ValidationError{Field: jsonPath(fe.Namespace()), Reason: reason}
	case errors.As(err, &typeErr):
		return &services.ValidationError{Field: typeErr.Field, Reason: "must be a " + typeErr.Type.String()}
	default:
		return &services.ValidationError{Field: "body", Reason: "malformed JSON"}
	}
}

func jsonPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToLower(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, ".")
}
