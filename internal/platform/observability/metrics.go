package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CheckoutMetrics groups the counters emitted by the checkout pipeline. The zero value and a nil
// pointer are both safe to use and record nothing.
type CheckoutMetrics struct {
	itemsDropped metric.Int64Counter
	cartClears   metric.Int64Counter
	ordersPlaced metric.Int64Counter
}

// NewCheckoutMetrics registers the checkout counters on the global meter provider.
func NewCheckoutMetrics() (*CheckoutMetrics, error) {
	meter := otel.Meter(instrumentationName)

	itemsDropped, err := meter.Int64Counter("storefront.checkout.items_dropped",
		metric.WithDescription("Cart items dropped while building an order payload"),
		metric.WithUnit("{item}"))
	if err != nil {
		return nil, err
	}
	cartClears, err := meter.Int64Counter("storefront.checkout.cart_clear",
		metric.WithDescription("Cart clearing attempts after an order, by winning strategy"),
		metric.WithUnit("{attempt}"))
	if err != nil {
		return nil, err
	}
	ordersPlaced, err := meter.Int64Counter("storefront.checkout.orders_placed",
		metric.WithDescription("Orders completed through checkout"),
		metric.WithUnit("{order}"))
	if err != nil {
		return nil, err
	}
	return &CheckoutMetrics{itemsDropped: itemsDropped, cartClears: cartClears, ordersPlaced: ordersPlaced}, nil
}

// ItemDropped counts one cart item removed from an order for the given reason.
func (m *CheckoutMetrics) ItemDropped(ctx context.Context, reason string) {
	if m == nil || m.itemsDropped == nil {
		return
	}
	m.itemsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// CartCleared counts a cart clearing run and the strategy that ended it.
func (m *CheckoutMetrics) CartCleared(ctx context.Context, strategy string) {
	if m == nil || m.cartClears == nil {
		return
	}
	m.cartClears.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}

// OrderPlaced counts a completed order.
func (m *CheckoutMetrics) OrderPlaced(ctx context.Context, paymentMethod string, mock bool) {
	if m == nil || m.ordersPlaced == nil {
		return
	}
	m.ordersPlaced.Add(ctx, 1, metric.WithAttributes(
		attribute.String("payment_method", paymentMethod),
		attribute.Bool("mock", mock),
	))
}
