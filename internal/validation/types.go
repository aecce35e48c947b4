package validation

import (
	"strings"

	"github.com/imrishuroy/marketplace-orderflow/internal/catalog"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
)

// Item represents a single requested order line. Any price sent by the client is
// not part of this type and is dropped during binding.
type Item struct {
	ID       int64 `json:"id" validate:"required,gt=0"`                 // product id
	Quantity int   `json:"quantity" validate:"required,min=1,max=1000"` // must be >= 1
}

// CreateOrderRequest is the payload for POST /orders
type CreateOrderRequest struct {
	Items        []Item `json:"items" validate:"required,min=1,max=100,dive"` // at least one item
	DeliveryType string `json:"deliveryType" validate:"required,oneof=pickup delivery"`
	Address      string `json:"address,omitempty" validate:"max=500"` // required for delivery
}

// OrderRequest converts the bound payload into the snapshotter's input.
func (r CreateOrderRequest) OrderRequest() catalog.OrderRequest {
	items := make([]catalog.RequestedItem, len(r.Items))
	for i, it := range r.Items {
		items[i] = catalog.RequestedItem{ProductID: it.ID, Quantity: it.Quantity}
	}
	return catalog.OrderRequest{
		Items:        items,
		DeliveryType: orders.DeliveryType(r.DeliveryType),
		Address:      strings.TrimSpace(r.Address),
	}
}

// TransitionStatusRequest is the payload for PATCH /orders/:id/status
type TransitionStatusRequest struct {
	Status         string `json:"status" validate:"required,oneof=processing assembled sent delivered completed cancelled"`
	TrackingNumber string `json:"trackingNumber,omitempty" validate:"max=100"`
}
