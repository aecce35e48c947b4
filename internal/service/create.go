package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/access"
	"github.com/imrishuroy/marketplace-orderflow/internal/alerts"
	"github.com/imrishuroy/marketplace-orderflow/internal/auth"
	"github.com/imrishuroy/marketplace-orderflow/internal/catalog"
	"github.com/imrishuroy/marketplace-orderflow/internal/events"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/payments"
)

// OrderResponse is the success envelope for a single order. CreateOrder stores it as the
// replayable response of an idempotent request.
type OrderResponse struct {
	Success bool          `json:"success"`
	Order   *orders.Order `json:"order"`
}

// CreateOrder prices the request from live products, persists the order and opens a two-stage
// payment for it. A non-empty idempotencyKey is recorded atomically with the order; a repeated
// key returns orders.ErrDuplicateRequest.
//
// If the payment cannot be opened the order is cancelled, since no funds are held for it.
func (s *OrderService) CreateOrder(ctx context.Context, p *auth.Principal, req catalog.OrderRequest, idempotencyKey string) (*orders.Order, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}
	if access.Create(p).Denied() {
		return nil, ErrForbidden
	}

	payload, err := s.snapshotter.PrepareOrder(ctx, p.CustomerID, req)
	if err != nil {
		var notFound *catalog.ProductNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, orders.ErrInvalidPayload) {
			return nil, invalid(err)
		}
		return nil, fmt.Errorf("prepare order: %w", err)
	}

	order, err := s.store.Create(ctx, payload, orders.CreateOptions{IdempotencyKey: idempotencyKey})
	if err != nil {
		switch {
		case errors.Is(err, orders.ErrDuplicateRequest):
			return nil, err
		case errors.Is(err, orders.ErrInvalidPayload):
			return nil, invalid(err)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}
	log := s.log(ctx).With(zap.Int64("order_id", order.ID), zap.String("order_number", order.OrderNumber))

	gctx, cancel := s.gatewayCtx(ctx)
	payment, err := s.gateway.CreatePayment(gctx, s.paymentRequest(p, order))
	cancel()
	if err != nil {
		s.abandon(ctx, log, order, idempotencyKey, err)
		return nil, ErrPaymentGateway
	}

	attached, err := s.store.AttachPayment(ctx, order.ID, payment.ID, orders.PaymentCreated, payment.ConfirmationURL)
	if errors.Is(err, orders.ErrOrderCancelled) {
		s.voidPayment(ctx, log, order.ID, payment.ID)
		s.markFailed(ctx, log, idempotencyKey, "order_cancelled_before_payment_attached")
		return nil, fmt.Errorf("%w: order was cancelled while its payment was being opened", ErrConflict)
	}
	if err != nil {
		kind := alerts.PaymentCreateFailed
		if errors.Is(err, orders.ErrPaymentAlreadyAttached) {
			kind = alerts.PaymentConflict
		}
		s.alerts.Raise(ctx, alerts.Alert{Kind: kind, OrderID: order.ID, PaymentID: payment.ID, Detail: "payment opened but not recorded on the order", Err: err})
		s.markFailed(ctx, log, idempotencyKey, "attach_payment_failed: "+err.Error())
		return nil, fmt.Errorf("attach payment: %w", err)
	}

	s.publish(ctx, events.OrderCreated, attached)

	if idempotencyKey != "" {
		body, _ := json.Marshal(OrderResponse{Success: true, Order: attached})
		if err := s.ledger.MarkDone(ctx, idempotencyKey, string(body), http.StatusCreated); err != nil {
			log.Warn("failed to complete idempotency record", zap.Error(err))
		}
	}

	log.Info("order created",
		zap.Int64("customer_id", order.CustomerID),
		zap.String("total", order.Total.StringFixed(2)),
		zap.String("payment_id", payment.ID))
	return attached, nil
}

func (s *OrderService) paymentRequest(p *auth.Principal, o *orders.Order) payments.CreatePaymentRequest {
	req := payments.CreatePaymentRequest{
		Amount:      o.Total,
		Description: "Order " + o.OrderNumber,
		ReturnURL:   s.opts.ReturnURL,
		Metadata: map[string]string{
			"order_id":     strconv.FormatInt(o.ID, 10),
			"order_number": o.OrderNumber,
		},
		IdempotencyKey: "order-" + strconv.FormatInt(o.ID, 10) + "-create",
	}
	if s.opts.ReceiptsEnabled {
		req.Receipt = payments.BuildReceipt(p.Email, o.Items)
	}
	return req
}

// abandon cancels an order whose payment could not be opened.
func (s *OrderService) abandon(ctx context.Context, log *zap.Logger, o *orders.Order, idempotencyKey string, cause error) {
	log.Error("payment creation failed", zap.Error(cause))

	_, err := s.store.Apply(ctx, o.ID, orders.Change{
		ExpectedStatus:  orders.StatusProcessing,
		ExpectedPayment: orders.PaymentNone,
		Status:          orders.StatusCancelled,
		PaymentStatus:   orders.PaymentNone,
	})
	if err != nil {
		log.Error("failed to cancel order after payment failure", zap.Error(err))
	}

	s.markFailed(ctx, log, idempotencyKey, "payment_create_failed: "+cause.Error())
	s.alerts.Raise(ctx, alerts.Alert{Kind: alerts.PaymentCreateFailed, OrderID: o.ID, Detail: "order cancelled", Err: cause})
}

// voidPayment cancels a payment opened for an order that was cancelled in the meantime.
// A payment the processor already cancelled through a webhook is left alone.
func (s *OrderService) voidPayment(ctx context.Context, log *zap.Logger, orderID int64, paymentID string) {
	log = log.With(zap.String("payment_id", paymentID))
	if fresh, err := s.store.GetByID(ctx, orderID); err == nil && fresh != nil &&
		fresh.PaymentID == paymentID && fresh.PaymentStatus == orders.PaymentCanceled {
		log.Info("payment already cancelled by the processor")
		return
	}

	alert := alerts.Alert{
		Kind:      alerts.PaymentConflict,
		OrderID:   orderID,
		PaymentID: paymentID,
		Detail:    "order cancelled before its payment was recorded; payment cancelled at the processor",
	}
	gctx, cancel := s.gatewayCtx(ctx)
	payment, err := s.gateway.CancelPayment(gctx, paymentID)
	cancel()
	if err != nil {
		alert.Detail = "order cancelled before its payment was recorded; payment cancellation failed"
		alert.Err = err
	} else if st, ok := payments.MapStatus(payment.Status); !ok || st != orders.PaymentCanceled {
		alert.Detail = "order cancelled before its payment was recorded; processor reports " + payment.Status
	}
	log.Error("payment opened for a cancelled order", zap.String("detail", alert.Detail), zap.Error(err))
	s.alerts.Raise(ctx, alert)
}

func (s *OrderService) markFailed(ctx context.Context, log *zap.Logger, key, note string) {
	if key == "" {
		return
	}
	if err := s.ledger.MarkFailed(ctx, key, note); err != nil {
		log.Warn("failed to mark idempotency record failed", zap.Error(err))
	}
}
