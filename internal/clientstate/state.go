// Package clientstate keeps the advisory state a shopper's browser used to hold: the last
// submitted checkout form and the order numbers shown on confirmation pages. Entries are a
// convenience for prefilling and display; losing them never breaks checkout.
package clientstate

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned on a cache miss.
var ErrNotFound = errors.New("clientstate: not found")

// ShippingForm is the shopper's last submitted shipping step.
type ShippingForm struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	City     string `json:"city"`
	State    string `json:"state"`
	ZipCode  string `json:"zipCode"`
	Country  string `json:"country"`
	Notes    string `json:"notes,omitempty"`
}

// Trimmed returns the form with surrounding whitespace removed from every field.
func (f ShippingForm) Trimmed() ShippingForm {
	return ShippingForm{
		FullName: strings.TrimSpace(f.FullName),
		Email:    strings.TrimSpace(f.Email),
		Phone:    strings.TrimSpace(f.Phone),
		Address:  strings.TrimSpace(f.Address),
		City:     strings.TrimSpace(f.City),
		State:    strings.TrimSpace(f.State),
		ZipCode:  strings.TrimSpace(f.ZipCode),
		Country:  strings.TrimSpace(f.Country),
		Notes:    strings.TrimSpace(f.Notes),
	}
}

// Profile is what is known about the signed-in shopper.
type Profile struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

// FormCache stores one session's shipping form.
type FormCache interface {
	Get(ctx context.Context) (ShippingForm, error)
	Set(ctx context.Context, form ShippingForm) error
	Clear(ctx context.Context) error
}

// OrderNumbers remembers display order numbers synthesised for orders the API returned without one.
type OrderNumbers interface {
	Lookup(ctx context.Context, orderID string) (string, error)
	// Remember stores number unless one is already recorded and returns the number in effect.
	Remember(ctx context.Context, orderID, number string) (string, error)
}

// ProfileSource resolves the signed-in shopper's profile for the request in ctx.
type ProfileSource interface {
	Profile(ctx context.Context) (Profile, error)
}

// Store hands out per-session form caches and the shared order number map.
type Store interface {
	Form(sessionID string) FormCache
	OrderNumbers() OrderNumbers
}
