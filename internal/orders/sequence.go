package orders

import (
	"fmt"
	"strconv"
	"strings"
)

const orderNumberPrefix = "ORD"

// FormatOrderNumber renders ORD-{customerId}-{sequence}.
func FormatOrderNumber(customerID, seq int64) string {
	return fmt.Sprintf("%s-%d-%d", orderNumberPrefix, customerID, seq)
}

// ParseOrderNumberSequence extracts the trailing numeric sequence of an order number.
func ParseOrderNumberSequence(number string) (int64, bool) {
	i := strings.LastIndex(number, "-")
	if i < 0 || i == len(number)-1 {
		return 0, false
	}
	seq, err := strconv.ParseInt(number[i+1:], 10, 64)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}

// HighestSequence returns the largest parsable sequence among the orders, or 0.
func HighestSequence(list []Order) int64 {
	var highest int64
	for _, o := range list {
		if seq, ok := ParseOrderNumberSequence(o.OrderNumber); ok && seq > highest {
			highest = seq
		}
	}
	return highest
}
