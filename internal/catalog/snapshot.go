// Package catalog turns a customer's requested items into a priced, immutable order payload.
package catalog

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
)

// RequestedItem is one (productId, quantity) pair from the client.
type RequestedItem struct {
	ProductID int64
	Quantity  int
}

// OrderRequest is the client's order as far as pricing is concerned. It carries no prices.
type OrderRequest struct {
	Items        []RequestedItem
	DeliveryType orders.DeliveryType
	Address      string
}

// ProductNotFoundError lists requested products that do not exist or are not for sale.
type ProductNotFoundError struct {
	IDs []int64
}

func (e *ProductNotFoundError) Error() string {
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return "products not found: " + strings.Join(ids, ", ")
}

// Snapshotter prices orders from the live product table.
type Snapshotter struct {
	products ProductLookup
}

func NewSnapshotter(products ProductLookup) *Snapshotter {
	return &Snapshotter{products: products}
}

// PrepareOrder builds the payload for a new order. Prices and titles are copied from the
// live products at this instant; quantities for repeated ids are merged into the first line.
func (s *Snapshotter) PrepareOrder(ctx context.Context, customerID int64, req OrderRequest) (orders.Payload, error) {
	if len(req.Items) == 0 {
		return orders.Payload{}, fmt.Errorf("%w: at least one item is required", orders.ErrInvalidPayload)
	}

	var ids []int64
	quantities := map[int64]int{}
	for _, it := range req.Items {
		if it.Quantity < 1 {
			return orders.Payload{}, fmt.Errorf("%w: product %d has quantity %d", orders.ErrInvalidPayload, it.ProductID, it.Quantity)
		}
		if _, seen := quantities[it.ProductID]; !seen {
			ids = append(ids, it.ProductID)
		}
		quantities[it.ProductID] += it.Quantity
	}

	address := req.Address
	switch req.DeliveryType {
	case orders.DeliveryPickup:
		address = ""
	case orders.DeliveryDelivery:
		if address == "" {
			return orders.Payload{}, fmt.Errorf("%w: address is required for delivery", orders.ErrInvalidPayload)
		}
	default:
		return orders.Payload{}, fmt.Errorf("%w: unknown delivery type %q", orders.ErrInvalidPayload, req.DeliveryType)
	}

	found, err := s.products.GetProductsByIDs(ctx, ids)
	if err != nil {
		return orders.Payload{}, fmt.Errorf("lookup products: %w", err)
	}
	live := make(map[int64]Product, len(found))
	for _, p := range found {
		live[p.ID] = p
	}

	var missing []int64
	for _, id := range ids {
		if p, ok := live[id]; !ok || !p.Available {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return orders.Payload{}, &ProductNotFoundError{IDs: missing}
	}

	payload := orders.Payload{
		CustomerID:   customerID,
		Items:        make([]orders.LineItem, 0, len(ids)),
		DeliveryType: req.DeliveryType,
		Address:      address,
		Total:        orders.Zero(),
	}
	for _, id := range ids {
		p := live[id]
		line := orders.LineItem{
			ProductID: p.ID,
			Title:     p.Title,
			Price:     p.Price,
			Quantity:  quantities[id],
		}
		payload.Items = append(payload.Items, line)
		payload.Total = payload.Total.Add(line.Subtotal())
	}
	return payload, nil
}
