package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prepdeck/prepdeck-backend/internal/response"
	"github.com/prepdeck/prepdeck-backend/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
)

// RequireAuth validates a JWT from the Authorization header (or the ?token=
// query param for WebSocket upgrades, which cannot send headers) and checks
// that it still matches the user's most recent login.
func RequireAuth(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		if err := authService.ValidateLoginSession(c.Request.Context(), claims.UserID, claims.ID); err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// RequireAdmin allows only admin tokens through. Must run after RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil || !claims.IsAdmin {
			response.AbortFail(c, http.StatusForbidden, response.ErrForbidden)
			return
		}
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	claims, _ := c.Value(ContextKeyClaims).(*service.Claims)
	return claims
}

// CallerFrom builds the service-layer caller identity from the request claims.
func CallerFrom(c *gin.Context) service.Caller {
	claims := GetClaims(c)
	if claims == nil {
		return service.Caller{}
	}
	return service.Caller{UserID: claims.UserID, IsAdmin: claims.IsAdmin}
}

// bearerToken pulls the JWT from the Authorization header, falling back to
// the ?token= query param for WebSocket upgrades which cannot send headers.
func bearerToken(c *gin.Context) string {
	if scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " "); ok {
		if strings.EqualFold(scheme, "bearer") && token != "" {
			return token
		}
	}
	return c.Query("token")
}
