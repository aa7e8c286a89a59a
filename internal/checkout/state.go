package checkout

import (
	"errors"
	"fmt"
	"strings"

	"finitefield.org/fashion-storefront/internal/cart"
	"finitefield.org/fashion-storefront/internal/clientstate"
	"finitefield.org/fashion-storefront/internal/orders"
	"finitefield.org/fashion-storefront/internal/payments"
)

// State is a step of the checkout flow.
type State string

// Checkout states. Error is reachable from every other state and left only through Reset.
const (
	StateShipping   State = "shipping"
	StatePayment    State = "payment"
	StateReview     State = "review"
	StateSubmitting State = "submitting"
	StateComplete   State = "complete"
	StateError      State = "error"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in the current state.
	ErrInvalidTransition = errors.New("checkout: invalid transition")
	// ErrMachineMissingAPI indicates NewMachine was called without an API client.
	ErrMachineMissingAPI = errors.New("checkout: api client is required")
	// ErrMachineMissingBuilder indicates NewMachine was called without an order builder.
	ErrMachineMissingBuilder = errors.New("checkout: order builder is required")
)

func invalidTransition(op string, from State) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, from)
}

// FieldError names one invalid input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists the fields that kept a step from advancing.
type ValidationError struct {
	Step   State
	Fields []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("checkout: invalid %s details [%s]", e.Step, strings.Join(e.FieldNames(), ", "))
}

// FieldNames returns the invalid field names in order.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Field)
	}
	return names
}

// Snapshot is a point-in-time copy of a checkout session for display.
type Snapshot struct {
	State          State                    `json:"state"`
	Items          []cart.LineItem          `json:"items"`
	Shipping       clientstate.ShippingForm `json:"shipping"`
	PaymentMethod  string                   `json:"paymentMethod,omitempty"`
	PaymentDetails *payments.Details        `json:"paymentDetails,omitempty"`
	Order          *orders.OrderView        `json:"order,omitempty"`
	Mock           bool                     `json:"mock,omitempty"`
	CartCleared    bool                     `json:"cartCleared"`
	Error          string                   `json:"error,omitempty"`
}

func validateShipping(form clientstate.ShippingForm) *ValidationError {
	required := []struct {
		field string
		value string
	}{
		{"fullName", form.FullName},
		{"email", form.Email},
		{"phone", form.Phone},
		{"address", form.Address},
		{"city", form.City},
		{"state", form.State},
		{"zipCode", form.ZipCode},
	}
	var fields []FieldError
	for _, r := range required {
		if r.value == "" {
			fields = append(fields, FieldError{Field: r.field, Reason: "required"})
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Step: StateShipping, Fields: fields}
}
