package orders

import (
	"errors"
	"testing"
)

func validPayload() Payload {
	return Payload{
		CustomerID:   5,
		Items:        []LineItem{{ProductID: 7, Title: "Mug", Price: MoneyFromInt(150), Quantity: 2}},
		DeliveryType: DeliveryPickup,
		Total:        MoneyFromInt(300),
	}
}

func TestPayloadValidate(t *testing.T) {
	if err := validPayload().Validate(); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	mutations := map[string]func(*Payload){
		"no customer":      func(p *Payload) { p.CustomerID = 0 },
		"no items":         func(p *Payload) { p.Items = nil },
		"zero quantity":    func(p *Payload) { p.Items[0].Quantity = 0 },
		"negative price":   func(p *Payload) { p.Items[0].Price = MoneyFromInt(-1) },
		"total mismatch":   func(p *Payload) { p.Total = MoneyFromInt(2) },
		"delivery no addr": func(p *Payload) { p.DeliveryType = DeliveryDelivery },
		"pickup with addr": func(p *Payload) { p.Address = "Main st 1" },
		"unknown delivery": func(p *Payload) { p.DeliveryType = "drone" },
	}
	for name, mutate := range mutations {
		p := validPayload()
		mutate(&p)
		if err := p.Validate(); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("%s: expected ErrInvalidPayload, got %v", name, err)
		}
	}
}

func TestFilterMatch(t *testing.T) {
	o := Order{CustomerID: 5, Status: StatusAssembled}
	if !(Filter{}).Match(o) {
		t.Fatalf("zero filter matches everything")
	}
	if (Filter{CustomerID: 6}).Match(o) {
		t.Fatalf("foreign customer must not match")
	}
	if (Filter{CustomerID: 5, Statuses: []Status{StatusProcessing}}).Match(o) {
		t.Fatalf("status restriction must apply")
	}
	if !(Filter{CustomerID: 5, Statuses: []Status{StatusProcessing, StatusAssembled}}).Match(o) {
		t.Fatalf("expected match")
	}
}
