package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
// Field names in errors follow the json tags, so clients see the keys they sent.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(jsonFieldName)

	// address is only meaningful for delivery orders
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})
	v.RegisterStructValidation(transitionStructValidation, TransitionStatusRequest{})

	return v
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	if req.DeliveryType == "delivery" && strings.TrimSpace(req.Address) == "" {
		sl.ReportError(req.Address, "address", "Address", "required_for_delivery", "")
	}
}

func transitionStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(TransitionStatusRequest)

	if req.TrackingNumber != "" && req.Status != "sent" {
		sl.ReportError(req.TrackingNumber, "trackingNumber", "TrackingNumber", "only_when_sent", "")
	}
}
