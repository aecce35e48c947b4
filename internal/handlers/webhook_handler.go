package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/webhooks"
)

// RegisterWebhookRoutes registers the payment processor callback. It carries no bearer auth;
// authenticity comes from re-reading the payment when verification is enabled.
func RegisterWebhookRoutes(r *gin.Engine, cfg HandlerConfig) {
	r.POST("/webhooks/payment", func(c *gin.Context) {
		var n webhooks.Notification
		if err := c.ShouldBindJSON(&n); err != nil {
			cfg.Logger.Warn("malformed payment webhook", zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}

		res, err := cfg.Reconciler.HandleEvent(c.Request.Context(), n)
		if err != nil {
			if errors.Is(err, webhooks.ErrEventInProgress) {
				cfg.Logger.Info("payment webhook already in progress", zap.String("payment_id", n.Object.ID))
			} else {
				cfg.Logger.Error("payment webhook failed", zap.String("payment_id", n.Object.ID), zap.Error(err))
			}
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
			return
		}

		if res.Outcome == webhooks.OutcomeIgnored {
			c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": res.Reason})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
