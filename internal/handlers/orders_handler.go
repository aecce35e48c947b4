package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/auth"
	"github.com/imrishuroy/marketplace-orderflow/internal/catalog"
	"github.com/imrishuroy/marketplace-orderflow/internal/idempotency"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/service"
	"github.com/imrishuroy/marketplace-orderflow/internal/validation"
	"github.com/imrishuroy/marketplace-orderflow/internal/webhooks"
)

const maxIdempotencyKeyLen = 200

// OrderService is the order use-case layer behind the HTTP API.
type OrderService interface {
	CreateOrder(ctx context.Context, p *auth.Principal, req catalog.OrderRequest, idempotencyKey string) (*orders.Order, error)
	GetOrder(ctx context.Context, p *auth.Principal, id int64) (*orders.Order, error)
	ListOrders(ctx context.Context, p *auth.Principal, status orders.Status) ([]orders.Order, error)
	CancelOrder(ctx context.Context, p *auth.Principal, id int64) (*orders.Order, error)
	CapturePayment(ctx context.Context, p *auth.Principal, id int64) (*orders.Order, error)
	TransitionStatus(ctx context.Context, p *auth.Principal, id int64, target orders.Status, trackingNumber string) (*orders.Order, error)
	DeleteOrder(ctx context.Context, p *auth.Principal, id int64) error
}

// RequestLookup reads stored Idempotency-Key outcomes.
type RequestLookup interface {
	Get(ctx context.Context, key string) (*idempotency.IdempotencyRecord, error)
}

// WebhookReconciler applies processor notifications.
type WebhookReconciler interface {
	HandleEvent(ctx context.Context, n webhooks.Notification) (webhooks.Result, error)
}

// HandlerConfig groups dependencies for the HTTP routes.
type HandlerConfig struct {
	Orders     OrderService
	Requests   RequestLookup
	Reconciler WebhookReconciler
	Issuer     *auth.Issuer
	Customers  auth.CustomerResolver
	Logger     *zap.Logger
}

type ordersHandler struct {
	svc      OrderService
	requests RequestLookup
	logger   *zap.Logger
}

// RegisterOrdersRoutes registers routes for the order API.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	h := &ordersHandler{svc: cfg.Orders, requests: cfg.Requests, logger: cfg.Logger}

	g := r.Group("/orders", auth.Middleware(cfg.Issuer, cfg.Customers, cfg.Logger))
	g.POST("", func(c *gin.Context) { h.create(c, v) })
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.PATCH("/:id/cancel", h.cancel)

	admin := g.Group("", auth.RequireAdmin())
	admin.POST("/:id/payment/capture", h.capture)
	admin.PATCH("/:id/status", func(c *gin.Context) { h.transition(c, v) })
	admin.DELETE("/:id", h.delete)
}

func (h *ordersHandler) create(c *gin.Context, v *validatorv10.Validate) {
	ctx := c.Request.Context()

	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, v); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	p, _ := auth.FromGin(c)

	// Idempotency-Key is optional; keys are scoped to the caller so two accounts never share one.
	var idempKey string
	if raw := c.GetHeader("Idempotency-Key"); raw != "" {
		if len(raw) > maxIdempotencyKeyLen {
			writeError(c, http.StatusBadRequest, "invalid_idempotency_key", "Idempotency-Key is too long")
			return
		}
		idempKey = idempotency.RequestKey(p.UserID, raw)
	}

	order, err := h.svc.CreateOrder(ctx, p, req.OrderRequest(), idempKey)
	if err != nil {
		if errors.Is(err, orders.ErrDuplicateRequest) && idempKey != "" {
			h.replay(c, idempKey)
			return
		}
		writeServiceError(c, h.logger, err)
		return
	}

	c.Header("Location", fmt.Sprintf("/orders/%d", order.ID))
	c.JSON(http.StatusCreated, service.OrderResponse{Success: true, Order: order})
}

// replay answers a repeated Idempotency-Key from the stored outcome of the first request.
func (h *ordersHandler) replay(c *gin.Context, key string) {
	rec, err := h.requests.Get(c.Request.Context(), key)
	if err != nil {
		h.logger.Error("idempotency lookup failed", zap.String("idempotency_key", key), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "idempotency_check_failed", "internal server error")
		return
	}
	if rec == nil {
		writeError(c, http.StatusInternalServerError, "transaction_failed_no_idempotency_record", "internal server error")
		return
	}

	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" {
			c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "orderId": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"success": false, "message": "request already in progress", "orderId": rec.OrderID})
	case idempotency.StatusFailed:
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "previous_attempt_failed",
			"message": "the original request failed; retry with a new Idempotency-Key",
			"orderId": rec.OrderID,
		})
	default:
		writeError(c, http.StatusInternalServerError, "unknown_idempotency_status", "internal server error")
	}
}

func (h *ordersHandler) list(c *gin.Context) {
	var status orders.Status
	if raw := c.Query("status"); raw != "" {
		st, err := orders.ParseStatus(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid_status", err.Error())
			return
		}
		status = st
	}

	p, _ := auth.FromGin(c)
	list, err := h.svc.ListOrders(c.Request.Context(), p, status)
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "orders": list})
}

func (h *ordersHandler) get(c *gin.Context) {
	h.withOrderID(c, func(p *auth.Principal, id int64) (*orders.Order, error) {
		return h.svc.GetOrder(c.Request.Context(), p, id)
	})
}

func (h *ordersHandler) cancel(c *gin.Context) {
	h.withOrderID(c, func(p *auth.Principal, id int64) (*orders.Order, error) {
		return h.svc.CancelOrder(c.Request.Context(), p, id)
	})
}

func (h *ordersHandler) capture(c *gin.Context) {
	h.withOrderID(c, func(p *auth.Principal, id int64) (*orders.Order, error) {
		return h.svc.CapturePayment(c.Request.Context(), p, id)
	})
}

func (h *ordersHandler) transition(c *gin.Context, v *validatorv10.Validate) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req validation.TransitionStatusRequest
	if err := validation.BindAndValidate(c, &req, v); err != nil {
		return
	}
	p, _ := auth.FromGin(c)
	order, err := h.svc.TransitionStatus(c.Request.Context(), p, id, orders.Status(req.Status), req.TrackingNumber)
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, service.OrderResponse{Success: true, Order: order})
}

func (h *ordersHandler) delete(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	p, _ := auth.FromGin(c)
	if err := h.svc.DeleteOrder(c.Request.Context(), p, id); err != nil {
		writeServiceError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ordersHandler) withOrderID(c *gin.Context, fn func(p *auth.Principal, id int64) (*orders.Order, error)) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	p, _ := auth.FromGin(c)
	order, err := fn(p, id)
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, service.OrderResponse{Success: true, Order: order})
}

func orderID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, "invalid_order_id", "order id must be a positive integer")
		return 0, false
	}
	return id, true
}
