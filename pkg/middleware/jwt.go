package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/prohmpiriya/eventhive/pkg/logger"
	"github.com/prohmpiriya/eventhive/pkg/response"
)

var ErrInvalidToken = errors.New("invalid token")

// Context keys for user information
const (
	ContextKeyUserID = "user_id"
	ContextKeyEmail  = "email"
	ContextKeyRole   = "role"
)

// Roles understood by the booking API
const (
	RoleBuyer     = "buyer"
	RoleOrganizer = "organizer"
)

// Development identity headers, honoured only when JWT is disabled
const (
	DevUserIDHeader = "X-User-ID"
	DevRoleHeader   = "X-User-Role"
)

// JWTConfig holds configuration for JWT middleware
type JWTConfig struct {
	// Enabled switches between token validation and the dev header fallback
	Enabled bool
	// Secret key for validating HMAC-signed tokens
	Secret string
	// Issuer, when set, must match the iss claim
	Issuer string
	// SkipPaths is a list of paths that should skip authentication
	SkipPaths []string
}

// JWTMiddleware authenticates the caller and injects user_id, email and role
func JWTMiddleware(config *JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, path := range config.SkipPaths {
			if c.Request.URL.Path == path {
				c.Next()
				return
			}
		}

		if !config.Enabled {
			devIdentity(c)
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "MISSING_TOKEN", "Authorization header is required")
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) || len(authHeader) == len(bearerPrefix) {
			abortUnauthorized(c, "INVALID_TOKEN", "Invalid authorization header format")
			return
		}
		tokenString := authHeader[len(bearerPrefix):]

		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
		if config.Issuer != "" {
			opts = append(opts, jwt.WithIssuer(config.Issuer))
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(config.Secret), nil
		}, opts...)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				abortUnauthorized(c, "TOKEN_EXPIRED", "Access token has expired")
				return
			}
			abortUnauthorized(c, "INVALID_TOKEN", "Invalid access token")
			return
		}
		if !token.Valid {
			abortUnauthorized(c, "INVALID_TOKEN", "Invalid access token")
			return
		}

		userID, ok := claims["user_id"].(string)
		if !ok || userID == "" {
			abortUnauthorized(c, "INVALID_TOKEN", "Missing user_id in token")
			return
		}
		email, _ := claims["email"].(string)
		role, _ := claims["role"].(string)
		if role == "" {
			role = RoleBuyer
		}

		setIdentity(c, userID, email, role)
		c.Next()
	}
}

func devIdentity(c *gin.Context) {
	userID := c.GetHeader(DevUserIDHeader)
	if userID == "" {
		abortUnauthorized(c, "MISSING_USER", DevUserIDHeader+" header is required")
		return
	}
	role := c.GetHeader(DevRoleHeader)
	if role == "" {
		role = RoleBuyer
	}
	setIdentity(c, userID, "", role)
	c.Next()
}

func setIdentity(c *gin.Context, userID, email, role string) {
	c.Set(ContextKeyUserID, userID)
	c.Set(ContextKeyEmail, email)
	c.Set(ContextKeyRole, role)
	ctx := context.WithValue(c.Request.Context(), logger.BuyerIDKey, userID)
	c.Request = c.Request.WithContext(ctx)
}

func abortUnauthorized(c *gin.Context, code, message string) {
	response.Error(c, http.StatusUnauthorized, code, message, "")
	c.Abort()
}

// RequireRole rejects callers whose role is not one of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := GetRole(c)
		if !ok {
			abortUnauthorized(c, "UNAUTHORIZED", "User not authenticated")
			return
		}
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "Insufficient permissions")
		c.Abort()
	}
}

// GetUserID extracts user ID from gin context
func GetUserID(c *gin.Context) (string, bool) {
	return getString(c, ContextKeyUserID)
}

// GetRole extracts role from gin context
func GetRole(c *gin.Context) (string, bool) {
	return getString(c, ContextKeyRole)
}

func getString(c *gin.Context, key string) (string, bool) {
	v, exists := c.Get(key)
	if !exists {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
