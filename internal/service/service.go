// Package service orchestrates order creation, cancellation, capture and operator transitions
// across the order store, the payment gateway, the event publisher and the alert channel.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/access"
	"github.com/imrishuroy/marketplace-orderflow/internal/alerts"
	"github.com/imrishuroy/marketplace-orderflow/internal/auth"
	"github.com/imrishuroy/marketplace-orderflow/internal/catalog"
	"github.com/imrishuroy/marketplace-orderflow/internal/events"
	"github.com/imrishuroy/marketplace-orderflow/internal/observability"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/payments"
)

const maxApplyAttempts = 3

// OrderStore is the order repository. Every mutation is a conditional write on one order.
type OrderStore interface {
	Create(ctx context.Context, p orders.Payload, opts orders.CreateOptions) (*orders.Order, error)
	GetByID(ctx context.Context, id int64) (*orders.Order, error)
	List(ctx context.Context, f orders.Filter) ([]orders.Order, error)
	Apply(ctx context.Context, id int64, c orders.Change) (*orders.Order, error)
	AttachPayment(ctx context.Context, id int64, paymentID string, status orders.PaymentStatus, link string) (*orders.Order, error)
	Delete(ctx context.Context, id int64) error
}

// Snapshotter prices a request from the live catalog.
type Snapshotter interface {
	PrepareOrder(ctx context.Context, customerID int64, req catalog.OrderRequest) (orders.Payload, error)
}

// Gateway is the processor's two-stage payment API.
type Gateway interface {
	CreatePayment(ctx context.Context, req payments.CreatePaymentRequest) (payments.Payment, error)
	CapturePayment(ctx context.Context, paymentID string, amount orders.Money) (payments.Payment, error)
	CancelPayment(ctx context.Context, paymentID string) (payments.Payment, error)
}

// RequestLedger completes idempotency records opened by OrderStore.Create.
type RequestLedger interface {
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// Options configures the payment side of order creation.
type Options struct {
	ReturnURL       string
	ReceiptsEnabled bool
	// PaymentTimeout bounds every gateway call. Zero leaves the caller's deadline alone.
	PaymentTimeout time.Duration
}

// OrderService implements the order use cases behind the HTTP API.
type OrderService struct {
	store       OrderStore
	snapshotter Snapshotter
	gateway     Gateway
	ledger      RequestLedger
	publisher   events.Publisher
	alerts      alerts.Recorder
	opts        Options
	logger      *zap.Logger
}

// NewOrderService wires the service. A nil publisher drops events.
func NewOrderService(store OrderStore, snapshotter Snapshotter, gateway Gateway, ledger RequestLedger, publisher events.Publisher, recorder alerts.Recorder, opts Options, logger *zap.Logger) *OrderService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &OrderService{
		store:       store,
		snapshotter: snapshotter,
		gateway:     gateway,
		ledger:      ledger,
		publisher:   publisher,
		alerts:      recorder,
		opts:        opts,
		logger:      logger,
	}
}

// GetOrder returns an order the principal may read.
func (s *OrderService) GetOrder(ctx context.Context, p *auth.Principal, id int64) (*orders.Order, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}
	d := access.Read(p)
	if d.Denied() {
		return nil, ErrForbidden
	}
	return s.loadVisible(ctx, d, id)
}

// ListOrders returns the orders the principal may read, optionally narrowed to one status.
func (s *OrderService) ListOrders(ctx context.Context, p *auth.Principal, status orders.Status) ([]orders.Order, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}
	d := access.Read(p)
	if d.Denied() {
		return nil, ErrForbidden
	}
	f := d.StoreFilter()
	if status != "" {
		f.Statuses = []orders.Status{status}
	}
	list, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []orders.Order{}
	}
	return list, nil
}

// DeleteOrder removes an order. Admins only.
func (s *OrderService) DeleteOrder(ctx context.Context, p *auth.Principal, id int64) error {
	if p == nil {
		return ErrUnauthenticated
	}
	if access.Delete(p).Denied() {
		return ErrForbidden
	}
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	s.log(ctx).Info("order deleted", zap.Int64("order_id", id), zap.String("by", p.UserID))
	return nil
}

func (s *OrderService) loadVisible(ctx context.Context, d access.Decision, id int64) (*orders.Order, error) {
	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil || !d.Permits(*o) {
		return nil, ErrNotFound
	}
	return o, nil
}

func (s *OrderService) publish(ctx context.Context, t events.Type, o *orders.Order) {
	e := events.NewOrderEvent(t, o, observability.RequestIDFromContext(ctx))
	if err := s.publisher.Publish(ctx, e); err != nil {
		// the order is committed; the event is best effort here
		s.log(ctx).Error("failed to publish order event",
			zap.String("event_type", string(t)),
			zap.Int64("order_id", o.ID),
			zap.Error(err))
	}
}

func (s *OrderService) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.PaymentTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opts.PaymentTimeout)
}

func (s *OrderService) log(ctx context.Context) *zap.Logger {
	return observability.FromContext(ctx, s.logger)
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
}
