package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/service"
)

// writeServiceError is the single mapping from domain errors to HTTP responses.
func writeServiceError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, service.ErrUnauthenticated):
		writeError(c, http.StatusUnauthorized, "unauthenticated", "authentication required")
	case errors.Is(err, service.ErrForbidden):
		writeError(c, http.StatusForbidden, "forbidden", "operation not permitted")
	case errors.Is(err, service.ErrNotFound), errors.Is(err, orders.ErrNotFound):
		writeError(c, http.StatusNotFound, "not_found", "order not found")
	case errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, orders.ErrAlreadyInStatus):
		writeError(c, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, service.ErrConflict), errors.Is(err, orders.ErrStatusMismatch),
		errors.Is(err, orders.ErrDuplicateRequest), errors.Is(err, orders.ErrPaymentAlreadyAttached):
		writeError(c, http.StatusConflict, "conflict", "order was modified concurrently, reload and retry")
	case errors.Is(err, service.ErrPaymentGateway):
		writeError(c, http.StatusBadGateway, "payment_unavailable", "payment provider is unavailable, try again later")
	default:
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": code, "message": message})
}
