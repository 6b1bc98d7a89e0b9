// auth_middleware.go
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"restaurant-order-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	UserIDKey          = "userID"
	UserNameKey        = "userName"
	UserPermissionsKey = "userPermissions"
	IsAdminKey         = "isAdmin"
)

// TokenValidator resolves a bearer token to a user.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*service.AuthUser, error)
}

// AuthMiddleware validates the bearer token and stores the user in the context.
func AuthMiddleware(auth TokenValidator, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Warn("Middleware: Authorization header is missing")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		scheme, token, found := strings.Cut(authHeader, " ")
		token = strings.TrimSpace(token)
		if !found || !strings.EqualFold(scheme, "bearer") || token == "" {
			log.Warn("Middleware: malformed Authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		user, err := auth.ValidateToken(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, service.ErrInvalidToken) && !errors.Is(err, service.ErrUserDisabled) {
				log.WithField("request_id", c.GetString(RequestIDKey)).Errorf("Middleware: token validation failed: %v", err)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(UserIDKey, user.ID)
		c.Set(UserNameKey, user.Name)
		c.Set(UserPermissionsKey, user.Permissions)
		c.Set(IsAdminKey, user.IsAdmin())
		c.Next()
	}
}
