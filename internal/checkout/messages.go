package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"finitefield.org/fashion-storefront/internal/orders"
	"finitefield.org/fashion-storefront/internal/storefront"
)

const (
	msgGeneric          = "Something went wrong while processing your order. Please try again."
	msgNoValidItems     = "None of the items in your cart can be ordered. Please review your cart and try again."
	msgProductNotFound  = "Some products in your cart are no longer available. Please remove them from your cart and add them again from the product page."
	msgUnavailable      = "The store is temporarily unavailable. Please try again in a moment."
	msgUnauthorized     = "Your session has expired. Please sign in again to complete your order."
	msgTimeout          = "The request took too long. Please check your connection and try again."
	msgInvalidStep      = "This checkout step is no longer available. Please refresh the page."
	msgValidationPrefix = "Please check the following fields: "
)

// UserMessage translates an error from the checkout flow into text fit for the shopper.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		return msgValidationPrefix + strings.Join(verr.FieldNames(), ", ") + "."
	}
	var missing *orders.MissingColorVariantError
	if errors.As(err, &missing) {
		return fmt.Sprintf("These items have no colour available to order: %s. Please remove them from your cart.", strings.Join(missing.Products, ", "))
	}

	switch {
	case errors.Is(err, orders.ErrNoValidItems):
		return msgNoValidItems
	case errors.Is(err, ErrInvalidTransition):
		return msgInvalidStep
	case storefront.IsProductNotFound(err):
		return msgProductNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	}

	var apiErr *storefront.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden:
			return msgUnauthorized
		case apiErr.Unavailable():
			return msgUnavailable
		case apiErr.Message != "":
			return "We could not place your order: " + apiErr.Message
		}
	}
	return msgGeneric
}
