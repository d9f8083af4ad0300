package utils

import (
	"github.com/gin-gonic/gin"
	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/models/shared_models"
)

// CallerKey is where the auth middleware stores the authenticated passenger.
const CallerKey = "caller"

// SetCaller stores the authenticated passenger on the request.
func SetCaller(c *gin.Context, caller shared_models.Caller) {
	c.Set(CallerKey, caller)
}

// GetCallerFromContext returns the passenger the auth middleware stored.
func GetCallerFromContext(c *gin.Context) (shared_models.Caller, error) {
	v, exists := c.Get(CallerKey)
	if !exists {
		logger.ErrorLogger.Error("Caller not found in context.")
		return shared_models.Caller{}, ErrUserIDNotFound
	}
	caller, ok := v.(shared_models.Caller)
	if !ok {
		logger.ErrorLogger.Errorf("Caller in context has unexpected type %T", v)
		return shared_models.Caller{}, ErrUnauthorized
	}
	return caller, nil
}
