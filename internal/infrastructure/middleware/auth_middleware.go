package middleware

import (
	"strings"

	"tempvoice/internal/core/domain"
	"tempvoice/internal/core/services"
	"tempvoice/pkg/errors"
	"tempvoice/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// bearerToken reads the Authorization header, falling back to the token query
// parameter for WebSocket clients that cannot set headers.
func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}

// AuthMiddleware requires a valid token and puts the caller's user id on the request
// context as the acting user.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			abortWithError(c, errors.NewUnauthorizedError("bearer token required"))
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			abortWithError(c, errors.NewUnauthorizedError(err.Error()))
			return
		}

		ctx := services.WithActor(c.Request.Context(), claims.UserID)
		ctx = logger.WithActorID(ctx, string(claims.UserID))
		c.Request = c.Request.WithContext(ctx)

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// RequireRole rejects callers whose token carries a different role.
func RequireRole(role services.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if got, _ := c.Get(ContextRole); got != role {
			abortWithError(c, errors.NewAuthorizationError("requires role "+string(role)))
			return
		}
		c.Next()
	}
}

// ActorID returns the authenticated user set by AuthMiddleware.
func ActorID(c *gin.Context) domain.UserID {
	id, _ := c.Get(ContextUserID)
	userID, _ := id.(domain.UserID)
	return userID
}
