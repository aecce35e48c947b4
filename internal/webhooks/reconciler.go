// Package webhooks applies payment processor notifications to orders exactly once per
// (order, payment, status), whatever the transport redelivers.
package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/alerts"
	"github.com/imrishuroy/marketplace-orderflow/internal/events"
	"github.com/imrishuroy/marketplace-orderflow/internal/idempotency"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/payments"
)

const (
	defaultLease     = 2 * time.Minute
	maxApplyAttempts = 3
)

// ErrEventInProgress means another delivery of the same event is being processed right now.
// The processor should retry later.
var ErrEventInProgress = errors.New("webhook event is already being processed")

// OrderStore is the slice of the order repository the reconciler needs.
type OrderStore interface {
	GetByID(ctx context.Context, id int64) (*orders.Order, error)
	Apply(ctx context.Context, id int64, c orders.Change) (*orders.Order, error)
}

// Ledger records processed events.
type Ledger interface {
	Claim(ctx context.Context, key string, orderID int64, lease time.Duration) (idempotency.ClaimResult, error)
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// PaymentLookup confirms a notification against the processor.
type PaymentLookup interface {
	GetPayment(ctx context.Context, paymentID string) (payments.Payment, error)
}

// Outcome says what happened to a notification.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Result is returned for every notification that should be acknowledged.
type Result struct {
	Outcome Outcome
	Reason  string
	Order   *orders.Order
}

func ignored(reason string) Result { return Result{Outcome: OutcomeIgnored, Reason: reason} }

// Reconciler maps processor payment states onto orders.
type Reconciler struct {
	store     OrderStore
	ledger    Ledger
	publisher events.Publisher
	alerts    alerts.Recorder
	lookup    PaymentLookup
	lease     time.Duration
	logger    *zap.Logger
}

// Option customises a Reconciler.
type Option func(*Reconciler)

// WithGatewayVerification re-reads every payment from the processor and trusts only its answer.
func WithGatewayVerification(lookup PaymentLookup) Option {
	return func(r *Reconciler) { r.lookup = lookup }
}

// WithLease sets how long an IN_PROGRESS ledger entry blocks redeliveries.
func WithLease(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.lease = d
		}
	}
}

func NewReconciler(store OrderStore, ledger Ledger, publisher events.Publisher, recorder alerts.Recorder, logger *zap.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		alerts:    recorder,
		lease:     defaultLease,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleEvent extracts the order reference from a notification and reconciles it.
func (r *Reconciler) HandleEvent(ctx context.Context, n Notification) (Result, error) {
	raw, ok := n.Object.Metadata["order_id"]
	if !ok || raw == "" {
		r.logger.Info("webhook without order reference ignored", zap.String("event", n.Event), zap.String("payment_id", n.Object.ID))
		return ignored("missing order_id"), nil
	}
	orderID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || orderID <= 0 {
		r.logger.Warn("webhook with invalid order reference ignored", zap.String("order_id", raw), zap.String("payment_id", n.Object.ID))
		return ignored("invalid order_id"), nil
	}
	return r.ProcessWebhookUpdate(ctx, orderID, n.Object.ID, n.Object.Status)
}

// ProcessWebhookUpdate applies one external payment status to an order. Errors are transient
// and mean the notification must be retried; everything else is acknowledged.
func (r *Reconciler) ProcessWebhookUpdate(ctx context.Context, orderID int64, paymentID, externalStatus string) (Result, error) {
	log := r.logger.With(zap.Int64("order_id", orderID), zap.String("payment_id", paymentID))

	if r.lookup != nil {
		if paymentID == "" {
			log.Warn("unverifiable webhook ignored")
			return ignored("missing payment id"), nil
		}
		p, err := r.lookup.GetPayment(ctx, paymentID)
		if err != nil {
			var gerr *payments.GatewayError
			if errors.As(err, &gerr) && gerr.StatusCode == 404 {
				log.Warn("webhook for unknown payment ignored")
				return ignored("unknown payment"), nil
			}
			return Result{}, fmt.Errorf("verify payment: %w", err)
		}
		if p.Metadata["order_id"] != strconv.FormatInt(orderID, 10) {
			log.Warn("webhook order reference does not match the payment", zap.String("payment_order_id", p.Metadata["order_id"]))
			return ignored("order mismatch"), nil
		}
		externalStatus = p.Status
	}

	next, ok := payments.MapStatus(externalStatus)
	if !ok {
		log.Info("webhook with unhandled status ignored", zap.String("status", externalStatus))
		return ignored("unknown status"), nil
	}

	order, err := r.store.GetByID(ctx, orderID)
	if err != nil {
		return Result{}, fmt.Errorf("load order: %w", err)
	}
	if order == nil {
		log.Warn("webhook for unknown order ignored")
		return ignored("unknown order"), nil
	}
	if foreignPayment(order, paymentID) {
		log.Warn("webhook for a payment not attached to the order ignored", zap.String("attached_payment_id", order.PaymentID))
		return ignored("payment not attached to order"), nil
	}

	key := idempotency.WebhookKey(orderID, paymentID, string(next))
	claim, err := r.ledger.Claim(ctx, key, orderID, r.lease)
	if err != nil {
		return Result{}, fmt.Errorf("claim webhook event: %w", err)
	}
	switch claim {
	case idempotency.ClaimDone:
		log.Info("duplicate webhook acknowledged", zap.String("status", string(next)))
		return Result{Outcome: OutcomeDuplicate, Order: order}, nil
	case idempotency.ClaimBusy:
		return Result{}, ErrEventInProgress
	}

	res, err := r.reconcile(ctx, log, order, paymentID, next)
	if err != nil {
		if markErr := r.ledger.MarkFailed(ctx, key, err.Error()); markErr != nil {
			log.Error("mark webhook event failed", zap.Error(markErr))
		}
		return Result{}, err
	}

	if err := r.ledger.MarkDone(ctx, key, string(res.Outcome)+":"+res.Reason, 200); err != nil {
		// effects are published and deduplicated downstream, so a redelivery is harmless
		return Result{}, fmt.Errorf("mark webhook event done: %w", err)
	}
	return res, nil
}

func (r *Reconciler) reconcile(ctx context.Context, log *zap.Logger, order *orders.Order, paymentID string, next orders.PaymentStatus) (Result, error) {
	var (
		change  orders.Change
		outcome orders.Outcome
	)
	for attempt := 1; ; attempt++ {
		change, outcome = orders.ReconcilePayment(*order, next)
		if outcome.Kind != orders.OutcomeApplied {
			break
		}
		if order.PaymentID == "" {
			change.PaymentID = paymentID
		}

		updated, err := r.store.Apply(ctx, order.ID, change)
		if err == nil {
			order = updated
			break
		}
		if !errors.Is(err, orders.ErrStatusMismatch) || attempt == maxApplyAttempts {
			return Result{}, fmt.Errorf("apply payment status: %w", err)
		}

		// a concurrent writer got there first; recompute from the fresh state
		order, err = r.store.GetByID(ctx, order.ID)
		if err != nil {
			return Result{}, fmt.Errorf("reload order: %w", err)
		}
		if order == nil {
			return ignored("order deleted"), nil
		}
		if foreignPayment(order, paymentID) {
			return ignored("payment not attached to order"), nil
		}
	}

	log.Info("payment status reconciled",
		zap.String("payment_status", string(order.PaymentStatus)),
		zap.String("status", string(order.Status)),
		zap.String("outcome", string(outcome.Kind)),
	)

	if outcome.Conflict != "" {
		r.alerts.Raise(ctx, alerts.Alert{
			Kind:      alerts.PaymentConflict,
			OrderID:   order.ID,
			PaymentID: paymentID,
			Detail:    outcome.Conflict,
		})
	}

	if err := r.publishEffects(ctx, order, next); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeProcessed, Reason: string(outcome.Kind), Order: order}, nil
}

// publishEffects emits events implied by the order's current state, so a retry after a crash
// between the write and the publish still delivers them. Consumers deduplicate.
func (r *Reconciler) publishEffects(ctx context.Context, order *orders.Order, next orders.PaymentStatus) error {
	var t events.Type
	switch {
	case next == orders.PaymentSucceeded && order.PaymentStatus == orders.PaymentSucceeded && order.Status != orders.StatusCancelled:
		t = events.OrderPaid
	case next == orders.PaymentCanceled && order.Status == orders.StatusCancelled:
		t = events.OrderCancelled
	default:
		return nil
	}
	if err := r.publisher.Publish(ctx, events.NewOrderEvent(t, order, "")); err != nil {
		return fmt.Errorf("publish %s: %w", t, err)
	}
	return nil
}

func foreignPayment(o *orders.Order, paymentID string) bool {
	return o.PaymentID != "" && paymentID != "" && o.PaymentID != paymentID
}
