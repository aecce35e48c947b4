package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/access"
	"github.com/imrishuroy/marketplace-orderflow/internal/alerts"
	"github.com/imrishuroy/marketplace-orderflow/internal/auth"
	"github.com/imrishuroy/marketplace-orderflow/internal/events"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/payments"
)

// CancelOrder cancels an order on behalf of its customer or an admin. Held funds are released
// at the processor first; if that fails the order keeps its status and ErrPaymentGateway is
// returned.
func (s *OrderService) CancelOrder(ctx context.Context, p *auth.Principal, id int64) (*orders.Order, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}
	read, update := access.Read(p), access.Update(p)
	if read.Denied() || update.Denied() {
		return nil, ErrForbidden
	}
	o, err := s.loadVisible(ctx, read, id)
	if err != nil {
		return nil, err
	}
	if err := cancellable(p, *o); err != nil {
		return nil, err
	}
	if !update.Permits(*o) {
		return nil, ErrForbidden
	}
	log := s.log(ctx).With(zap.Int64("order_id", o.ID))

	// id of the payment cancelled at the processor by this call
	released := ""
	for attempt := 1; ; attempt++ {
		// a payment may have been attached since the last read
		if o.PaymentID != "" && o.PaymentStatus.Holds() && released != o.PaymentID {
			if err := s.releasePayment(ctx, log, o); err != nil {
				return nil, err
			}
			released = o.PaymentID
		}

		change := orders.Change{
			ExpectedStatus:  o.Status,
			ExpectedPayment: o.PaymentStatus,
			Status:          orders.StatusCancelled,
			PaymentStatus:   o.PaymentStatus,
			Filter:          update.StoreFilter(),
		}
		if released != "" && released == o.PaymentID && orders.CanTransitionPayment(o.PaymentStatus, orders.PaymentCanceled) {
			change.PaymentStatus = orders.PaymentCanceled
		}

		updated, err := s.store.Apply(ctx, o.ID, change)
		if err == nil {
			o = updated
			break
		}
		if !errors.Is(err, orders.ErrStatusMismatch) {
			return nil, fmt.Errorf("cancel order: %w", err)
		}

		fresh, err := s.store.GetByID(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		if fresh == nil {
			return nil, ErrNotFound
		}
		if fresh.Status == orders.StatusCancelled {
			// the processor's cancellation webhook got there first
			return fresh, nil
		}
		if err := cancellable(p, *fresh); err != nil {
			if released != "" {
				s.alerts.Raise(ctx, alerts.Alert{
					Kind:      alerts.PaymentConflict,
					OrderID:   o.ID,
					PaymentID: released,
					Detail:    "payment released but order moved to " + string(fresh.Status),
				})
			}
			return nil, err
		}
		if attempt == maxApplyAttempts {
			return nil, ErrConflict
		}
		o = fresh
	}

	log.Info("order cancelled", zap.String("by", p.UserID), zap.String("released_payment_id", released))
	s.publish(ctx, events.OrderCancelled, o)
	return o, nil
}

// releasePayment cancels the order's held payment at the processor. The local cancellation
// must not proceed unless the processor confirms the funds are released.
func (s *OrderService) releasePayment(ctx context.Context, log *zap.Logger, o *orders.Order) error {
	log = log.With(zap.String("payment_id", o.PaymentID))
	gctx, cancel := s.gatewayCtx(ctx)
	payment, err := s.gateway.CancelPayment(gctx, o.PaymentID)
	cancel()
	if err != nil {
		log.Error("payment cancellation failed", zap.Error(err))
		s.alerts.Raise(ctx, alerts.Alert{Kind: alerts.CancelFailed, OrderID: o.ID, PaymentID: o.PaymentID, Err: err})
		return ErrPaymentGateway
	}
	if st, ok := payments.MapStatus(payment.Status); !ok || st != orders.PaymentCanceled {
		log.Error("processor did not release the payment", zap.String("external_status", payment.Status))
		s.alerts.Raise(ctx, alerts.Alert{
			Kind:      alerts.PaymentConflict,
			OrderID:   o.ID,
			PaymentID: o.PaymentID,
			Detail:    "cancel returned payment status " + payment.Status + "; order left unchanged",
		})
		return ErrPaymentGateway
	}
	return nil
}

// cancellable applies the state rules of a cancellation. Customers may only cancel unpaid
// orders still in processing; admins may cancel anything the state machine allows as long as
// no money has been captured.
func cancellable(p *auth.Principal, o orders.Order) error {
	if !p.IsAdmin() {
		return orders.CustomerCancellable(o)
	}
	if err := orders.Transition(o.Status, orders.StatusCancelled); err != nil {
		return err
	}
	if o.PaymentStatus == orders.PaymentSucceeded {
		return fmt.Errorf("%w: payment is already captured and needs a refund", orders.ErrInvalidTransition)
	}
	return nil
}

// CapturePayment captures the held funds of an order for its snapshot total. Admins only.
func (s *OrderService) CapturePayment(ctx context.Context, p *auth.Principal, id int64) (*orders.Order, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}
	if !p.IsAdmin() {
		return nil, ErrForbidden
	}
	o, err := s.loadVisible(ctx, access.Read(p), id)
	if err != nil {
		return nil, err
	}
	if o.Status == orders.StatusCancelled {
		return nil, fmt.Errorf("%w: order is cancelled", orders.ErrInvalidTransition)
	}
	if o.PaymentID == "" || o.PaymentStatus != orders.PaymentWaitingCapture {
		return nil, fmt.Errorf("%w: payment is %s, not %s", orders.ErrInvalidTransition, o.PaymentStatus, orders.PaymentWaitingCapture)
	}
	log := s.log(ctx).With(zap.Int64("order_id", o.ID), zap.String("payment_id", o.PaymentID))

	gctx, cancel := s.gatewayCtx(ctx)
	payment, err := s.gateway.CapturePayment(gctx, o.PaymentID, o.Total)
	cancel()
	if err != nil {
		log.Error("payment capture failed", zap.Error(err))
		s.alerts.Raise(ctx, alerts.Alert{Kind: alerts.CaptureFailed, OrderID: o.ID, PaymentID: o.PaymentID, Err: err})
		return nil, ErrPaymentGateway
	}
	next, ok := payments.MapStatus(payment.Status)
	if !ok {
		log.Warn("capture returned an unknown payment status", zap.String("status", payment.Status))
		next = orders.PaymentSucceeded
	}

	var outcome orders.Outcome
	for attempt := 1; ; attempt++ {
		var change orders.Change
		change, outcome = orders.ReconcilePayment(*o, next)
		if outcome.Kind != orders.OutcomeApplied {
			break
		}
		updated, err := s.store.Apply(ctx, o.ID, change)
		if err == nil {
			o = updated
			break
		}
		if !errors.Is(err, orders.ErrStatusMismatch) {
			return nil, fmt.Errorf("record capture: %w", err)
		}
		if attempt == maxApplyAttempts {
			return nil, ErrConflict
		}
		if o, err = s.store.GetByID(ctx, o.ID); err != nil {
			return nil, err
		}
		if o == nil {
			return nil, ErrNotFound
		}
	}
	if outcome.Conflict != "" {
		s.alerts.Raise(ctx, alerts.Alert{Kind: alerts.PaymentConflict, OrderID: o.ID, PaymentID: o.PaymentID, Detail: outcome.Conflict})
	}

	log.Info("payment captured", zap.String("payment_status", string(o.PaymentStatus)))
	s.publish(ctx, events.OrderPaymentCaptured, o)
	return o, nil
}

// TransitionStatus moves an order along the fulfilment state machine. Admins only; a move to
// cancelled goes through CancelOrder so held funds are released.
func (s *OrderService) TransitionStatus(ctx context.Context, p *auth.Principal, id int64, target orders.Status, trackingNumber string) (*orders.Order, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}
	if !p.IsAdmin() {
		return nil, ErrForbidden
	}
	if target == orders.StatusCancelled {
		return s.CancelOrder(ctx, p, id)
	}
	if trackingNumber != "" && target != orders.StatusSent {
		return nil, invalid(errors.New("tracking number can only be set when the order is sent"))
	}

	o, err := s.loadVisible(ctx, access.Read(p), id)
	if err != nil {
		return nil, err
	}
	from := o.Status
	for attempt := 1; ; attempt++ {
		if err := orders.Transition(o.Status, target); err != nil {
			return nil, err
		}
		updated, err := s.store.Apply(ctx, o.ID, orders.Change{
			ExpectedStatus:  o.Status,
			ExpectedPayment: o.PaymentStatus,
			Status:          target,
			PaymentStatus:   o.PaymentStatus,
			TrackingNumber:  trackingNumber,
			Filter:          access.Update(p).StoreFilter(),
		})
		if err == nil {
			o = updated
			break
		}
		if !errors.Is(err, orders.ErrStatusMismatch) {
			return nil, fmt.Errorf("transition order: %w", err)
		}
		fresh, err := s.store.GetByID(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		if fresh == nil {
			return nil, ErrNotFound
		}
		// only a concurrent payment update is retried; a status change is the caller's to resolve
		if fresh.Status != from || attempt == maxApplyAttempts {
			return nil, ErrConflict
		}
		o = fresh
	}

	s.log(ctx).Info("order status changed",
		zap.Int64("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(o.Status)),
		zap.String("by", p.UserID))
	s.publish(ctx, events.OrderStatusChanged, o)
	return o, nil
}
