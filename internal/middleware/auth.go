package middleware

import (
	"approvals/pkg/response"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"

	ctxUserID   = "userID"
	ctxUserRole = "userRole"
)

// AdminRoles are the roles allowed to take part in approvals.
var AdminRoles = []string{RoleAdmin, RoleSuperAdmin}

// ParseToken validates an HMAC-signed token and returns its claims.
func ParseToken(tokenString string, secret []byte) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// RequireRole Middleware validates the JWT token and checks if the user's role exists in the allowedRoles list
func RequireRole(secret []byte, allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Try cookie first, fallback to Authorization header
		tokenString, cookieErr := c.Cookie("access_token")
		if cookieErr != nil || tokenString == "" {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorWithCode(http.StatusUnauthorized, "unauthenticated", "Authorization is missing"))
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorWithCode(http.StatusUnauthorized, "unauthenticated", "Invalid authorization format. Expected 'Bearer <token>'"))
				return
			}
			tokenString = parts[1]
		}

		claims, err := ParseToken(tokenString, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorWithCode(http.StatusUnauthorized, "unauthenticated", "Invalid token: "+err.Error()))
			return
		}

		subject, _ := claims["sub"].(string)
		if strings.TrimSpace(subject) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorWithCode(http.StatusUnauthorized, "unauthenticated", "Token has no subject"))
			return
		}

		userRole, ok := claims["role"].(string)
		if !ok || !slices.Contains(allowedRoles, userRole) {
			c.AbortWithStatusJSON(http.StatusForbidden, response.ErrorWithCode(http.StatusForbidden, "authorization_error", "Access denied: insufficient permissions"))
			return
		}

		c.Set(ctxUserID, subject)
		c.Set(ctxUserRole, userRole)

		c.Next()
	}
}

// UserID returns the authenticated subject set by RequireRole.
func UserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}
