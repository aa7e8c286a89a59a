package orders

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoValidItems means nothing in the cart can be ordered: every line lacked a product id or
	// its product could not be loaded.
	ErrNoValidItems = errors.New("orders: no valid items in cart")
	// ErrBuilderMissingProducts is returned by NewBuilder without a product fetcher.
	ErrBuilderMissingProducts = errors.New("orders: product fetcher is required")
)

// MissingColorVariantError lists products that have no colourway to order.
type MissingColorVariantError struct {
	Products []string
}

// Error implements the error interface.
func (e *MissingColorVariantError) Error() string {
	return fmt.Sprintf("orders: no colour variant available for %s", strings.Join(e.Products, ", "))
}
