package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finitefield.org/fashion-storefront/internal/clientstate"
	"finitefield.org/fashion-storefront/internal/orders"
	"finitefield.org/fashion-storefront/internal/payments"
	"finitefield.org/fashion-storefront/internal/platform/httpx"
	"finitefield.org/fashion-storefront/internal/platform/requestctx"
	"finitefield.org/fashion-storefront/internal/storefront"
)

var (
	// ErrOrdersMissingFetcher indicates NewOrderHandlers was called without an order fetcher.
	ErrOrdersMissingFetcher = errors.New("handlers: order fetcher is required")
	// ErrOrdersMissingStore indicates NewOrderHandlers was called without a client state store.
	ErrOrdersMissingStore = errors.New("handlers: client state store is required")
)

// OrderFetcher loads a raw order response by id.
type OrderFetcher interface {
	GetOrder(ctx context.Context, id string) (any, error)
}

// OrderDeps bundles the collaborators of OrderHandlers.
type OrderDeps struct {
	Orders         OrderFetcher
	Store          clientstate.Store
	Profiles       clientstate.ProfileSource
	TaxRate        float64
	DefaultCountry string
	Logger         *zap.Logger
}

// OrderHandlers serves normalised order details for the confirmation and order pages.
type OrderHandlers struct {
	orders         OrderFetcher
	store          clientstate.Store
	profiles       clientstate.ProfileSource
	taxRate        float64
	defaultCountry string
	logger         *zap.Logger
}

// NewOrderHandlers validates deps and returns the handlers.
func NewOrderHandlers(deps OrderDeps) (*OrderHandlers, error) {
	if deps.Orders == nil {
		return nil, ErrOrdersMissingFetcher
	}
	if deps.Store == nil {
		return nil, ErrOrdersMissingStore
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandlers{
		orders:         deps.Orders,
		store:          deps.Store,
		profiles:       deps.Profiles,
		taxRate:        deps.TaxRate,
		defaultCountry: deps.DefaultCountry,
		logger:         logger,
	}, nil
}

// Routes registers the order endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Get("/{orderID}", h.getOrder)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_id", "order id is required", http.StatusBadRequest))
		return
	}

	raw, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		var apiErr *storefront.APIError
		if errors.As(err, &apiErr) && apiErr.NotFound() {
			httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
			return
		}
		requestctx.Logger(ctx).Warn("order fetch failed", zap.String("order_id", orderID), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("upstream_error", "The store is temporarily unavailable. Please try again in a moment.", http.StatusBadGateway))
		return
	}
	if _, ok := orders.OrderRecord(raw); !ok {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	normalizer := orders.Normalizer{
		Profiles:       h.profiles,
		Numbers:        h.store.OrderNumbers(),
		TaxRate:        h.taxRate,
		DefaultCountry: h.defaultCountry,
		Logger:         requestctx.Logger(ctx),
	}
	if sessionID := requestctx.SessionID(ctx); sessionID != "" {
		normalizer.Forms = h.store.Form(sessionID)
	}
	httpx.WriteJSON(w, http.StatusOK, normalizer.Normalize(ctx, raw))
}

// PaymentMethodHandlers lists the payment methods offered at checkout.
type PaymentMethodHandlers struct {
	registry *payments.Registry
}

// NewPaymentMethodHandlers returns handlers for registry, falling back to the built-in methods.
func NewPaymentMethodHandlers(registry *payments.Registry) *PaymentMethodHandlers {
	if registry == nil {
		registry = payments.DefaultRegistry()
	}
	return &PaymentMethodHandlers{registry: registry}
}

// Routes registers the payment method endpoints.
func (h *PaymentMethodHandlers) Routes(r chi.Router) {
	r.Get("/", h.list)
}

func (h *PaymentMethodHandlers) list(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"methods": h.registry.Methods()})
}
