package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/flexops/flexops/internal/common/logger"
	"github.com/flexops/flexops/internal/task/service"
)

// handleCommandError maps service errors onto HTTP statuses: domain
// violations are 400, a greeting the provider refused to carry is 502,
// everything else falls through to the generic classifier.
func handleCommandError(c *gin.Context, log *logger.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrCustomerRequired),
		errors.Is(err, service.ErrOperatorRequired),
		errors.Is(err, service.ErrTaskNotAssigned):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrGreetingNotSent):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		handleNotFound(c, log, err, fallback)
	}
}

func handleNotFound(c *gin.Context, log *logger.Logger, err error, fallback string) {
	if isNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": fallback})
		return
	}
	if isValidationError(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Error("request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "request failed"})
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

func isValidationError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "required") ||
		strings.Contains(msg, "invalid")
}
