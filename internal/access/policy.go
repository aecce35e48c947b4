// Package access holds the order authorization predicates. Each returns a typed Decision
// that the order store evaluates directly, so a filtered permission is enforced inside the
// same conditional write or query that touches the order.
package access

import (
	"github.com/imrishuroy/marketplace-orderflow/internal/auth"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
)

// Effect is the outcome kind of an authorization check.
type Effect int

const (
	Deny Effect = iota
	Allow
	AllowFiltered
)

func (e Effect) String() string {
	switch e {
	case Allow:
		return "allow"
	case AllowFiltered:
		return "allow_filtered"
	}
	return "deny"
}

// Decision is the result of a policy. Filter is meaningful only for AllowFiltered.
type Decision struct {
	Effect Effect
	Filter orders.Filter
}

func allow() Decision { return Decision{Effect: Allow} }
func deny() Decision { return Decision{Effect: Deny} }
func filtered(f orders.Filter) Decision { return Decision{Effect: AllowFiltered, Filter: f} }

// Denied reports whether no order at all is reachable.
func (d Decision) Denied() bool { return d.Effect == Deny }

// Permits evaluates the decision against a loaded order.
func (d Decision) Permits(o orders.Order) bool {
	switch d.Effect {
	case Allow:
		return true
	case AllowFiltered:
		return d.Filter.Match(o)
	}
	return false
}

// StoreFilter is the filter the storage layer must apply; zero for Allow.
func (d Decision) StoreFilter() orders.Filter {
	if d.Effect == AllowFiltered {
		return d.Filter
	}
	return orders.Filter{}
}

// Read: admins see every order, customers only their own.
func Read(p *auth.Principal) Decision {
	switch {
	case p.IsAdmin():
		return allow()
	case p.IsCustomer():
		return filtered(orders.Filter{CustomerID: p.CustomerID})
	}
	return deny()
}

// Create: only authenticated customers place orders, always for themselves.
func Create(p *auth.Principal) Decision {
	if p.IsCustomer() {
		return filtered(orders.Filter{CustomerID: p.CustomerID})
	}
	return deny()
}

// Update: admins unconditionally; customers only their own orders still in processing.
func Update(p *auth.Principal) Decision {
	switch {
	case p.IsAdmin():
		return allow()
	case p.IsCustomer():
		return filtered(orders.Filter{
			CustomerID: p.CustomerID,
			Statuses:   []orders.Status{orders.StatusProcessing},
		})
	}
	return deny()
}

// Delete is a data-correction tool for admins.
func Delete(p *auth.Principal) Decision {
	if p.IsAdmin() {
		return allow()
	}
	return deny()
}
