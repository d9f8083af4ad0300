package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/utils"
	"github.com/joy095/gobus/utils/jwt_parse"
)

// AuthMiddleware authenticates the passenger from the bearer token and stores
// the resulting Caller on the request.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := jwt_parse.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			code := "NO_TOKEN"
			if errors.Is(err, jwt_parse.ErrInvalidFormat) {
				code = "INVALID_AUTH_FORMAT"
			}
			logger.WarnLogger.Warnf("Rejected request to %s: %v", c.FullPath(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": code, "error": err.Error()})
			return
		}

		caller, err := jwt_parse.ParseCaller(tokenString, secret)
		if err != nil {
			code := "INVALID_TOKEN"
			if errors.Is(err, jwt_parse.ErrMissingPassenger) {
				code = "INVALID_TOKEN_SUBJECT"
			}
			logger.WarnLogger.Warnf("Rejected token on %s: %v", c.FullPath(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": code, "error": "Invalid token"})
			return
		}

		utils.SetCaller(c, caller)
		c.Next()
	}
}

// RequireRole lets the request through only when the authenticated caller has
// one of roles. It must run after AuthMiddleware.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := utils.GetCallerFromContext(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "error": err.Error()})
			return
		}
		for _, role := range roles {
			if caller.Role == role {
				c.Next()
				return
			}
		}
		logger.WarnLogger.Warnf("Passenger %s (role %q) denied on %s", caller.PassengerID, caller.Role, c.FullPath())
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "FORBIDDEN", "error": "Insufficient role"})
	}
}
