package orders

import (
	"strings"

	"finitefield.org/fashion-storefront/internal/clientstate"
	"finitefield.org/fashion-storefront/internal/payments"
	"finitefield.org/fashion-storefront/internal/platform/textutil"
)

// DefaultCountry fills the shipping country when neither the shopper nor the order names one.
const DefaultCountry = "Bangladesh"

// Payload is the body of POST /orders. Only the JSON-tagged fields are sent.
type Payload struct {
	Items           []PayloadItem     `json:"items"`
	ShippingAddress ShippingAddress   `json:"shippingAddress"`
	PaymentMethod   string            `json:"paymentMethod"`
	PaymentDetails  *payments.Details `json:"paymentDetails,omitempty"`

	// Lines keeps the enriched cart lines for the local confirmation record.
	Lines []Line `json:"-"`
	// Notes are the shopper's delivery notes; the order endpoint does not accept them.
	Notes string `json:"-"`
}

// PayloadItem is one order line as the order endpoint expects it.
type PayloadItem struct {
	Product      string           `json:"product"`
	Quantity     int              `json:"quantity"`
	ColorVariant *ColorVariantRef `json:"colorVariant"`
	Size         SizeRef          `json:"size"`
}

// ColorVariantRef identifies the chosen colourway.
type ColorVariantRef struct {
	Color ColorRef `json:"color"`
}

// ColorRef is a colour name and swatch.
type ColorRef struct {
	Name    string `json:"name"`
	HexCode string `json:"hexCode"`
}

// SizeRef is the chosen size and ordered quantity.
type SizeRef struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// ShippingAddress is the delivery contact sent with an order.
type ShippingAddress struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Street   string `json:"street"`
	City     string `json:"city"`
	State    string `json:"state"`
	ZipCode  string `json:"zipCode"`
	Country  string `json:"country"`
}

// Line is a cart line after enrichment with catalogue data.
type Line struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Image     string  `json:"image"`
	Color     string  `json:"color"`
	Size      string  `json:"size"`
}

// ShippingFromForm converts the checkout form into a shipping address, stripping markup from
// free-text fields.
func ShippingFromForm(form clientstate.ShippingForm, defaultCountry string) ShippingAddress {
	form = form.Trimmed()
	if defaultCountry = strings.TrimSpace(defaultCountry); defaultCountry == "" {
		defaultCountry = DefaultCountry
	}
	return ShippingAddress{
		FullName: textutil.Clip(textutil.PlainText(form.FullName), 120),
		Email:    form.Email,
		Phone:    form.Phone,
		Street:   textutil.Clip(textutil.PlainText(form.Address), 240),
		City:     textutil.Clip(textutil.PlainText(form.City), 120),
		State:    textutil.Clip(textutil.PlainText(form.State), 120),
		ZipCode:  form.ZipCode,
		Country:  textutil.FirstNonEmpty(textutil.PlainText(form.Country), defaultCountry),
	}
}
