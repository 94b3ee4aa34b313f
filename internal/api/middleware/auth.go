// Package middleware provides HTTP middleware for the Gin router.
//
// Go Learning Note: Middleware Pattern (Gin)
// In Gin, middleware is any gin.HandlerFunc, that is func(*gin.Context). The
// functions form a chain: each one runs, optionally calls c.Next() to hand
// control down the chain, and can call c.Abort() to stop it. Middleware is
// attached with .Use() on an engine or route group.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rydar/internal/auth"
)

// Context keys for request-scoped identity, set with c.Set and read with c.Get.
const (
	UserIDKey = "user_id"
	ClaimsKey = "user_claims"
)

// AuthErrorCode tells clients that the session is gone and they must log in
// again, as opposed to a plain permission problem.
const AuthErrorCode = "AUTH_REQUIRED"

// TokenVerifier turns a bearer token into claims. *auth.TokenService
// implements it.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Auth validates the bearer token on every request and stores the caller's id
// and roles in the context. Missing, malformed and expired tokens all get a
// 401 carrying AuthErrorCode.
//
// Go Learning Note: Returning Functions (Closures)
// Auth returns a gin.HandlerFunc that captures verifier. Configuration goes
// into the outer function, the returned closure runs once per request.
func Auth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			unauthorized(c, "missing authorization header")
			return
		}

		// strings.SplitN splits into at most 2 parts, handling tokens with spaces.
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
			unauthorized(c, "invalid authorization format")
			return
		}

		claims, err := verifier.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = "token expired"
			}
			unauthorized(c, msg)
			return
		}

		c.Set(UserIDKey, claims.UserID())
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="rydar", error="invalid_token"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": AuthErrorCode})
}

// RequireRole lets the request through only if the token carried role. Must
// run after Auth.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims := GetClaims(c); claims != nil && claims.HasRole(role) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": strings.ToLower(role) + " access required"})
	}
}

// RequireDriver ensures the authenticated user is a driver.
func RequireDriver() gin.HandlerFunc {
	return RequireRole(auth.RoleDriver)
}

// GetUserID returns the id Auth stored, or "" outside an authenticated route.
//
// Go Learning Note: Type Assertion
// c.Get returns (interface{}, bool). The two-value form x.(string) reports
// ok=false instead of panicking when the value is missing or of another type.
func GetUserID(c *gin.Context) string {
	v, _ := c.Get(UserIDKey)
	id, _ := v.(string)
	return id
}

// GetClaims returns the verified token claims Auth stored, or nil.
func GetClaims(c *gin.Context) *auth.Claims {
	v, _ := c.Get(ClaimsKey)
	claims, _ := v.(*auth.Claims)
	return claims
}
