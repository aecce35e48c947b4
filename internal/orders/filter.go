package orders

import "slices"

// Filter restricts which orders an operation may see or touch. The zero value
// matches every order.
type Filter struct {
	CustomerID int64
	Statuses   []Status
}

// IsZero reports whether the filter is unrestricted.
func (f Filter) IsZero() bool {
	return f.CustomerID == 0 && len(f.Statuses) == 0
}

// Match evaluates the filter against an order in memory.
func (f Filter) Match(o Order) bool {
	if f.CustomerID != 0 && o.CustomerID != f.CustomerID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, o.Status) {
		return false
	}
	return true
}
