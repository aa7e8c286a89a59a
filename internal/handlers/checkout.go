package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finitefield.org/fashion-storefront/internal/checkout"
	"finitefield.org/fashion-storefront/internal/clientstate"
	"finitefield.org/fashion-storefront/internal/orders"
	"finitefield.org/fashion-storefront/internal/payments"
	"finitefield.org/fashion-storefront/internal/platform/httpx"
	"finitefield.org/fashion-storefront/internal/platform/requestctx"
	"finitefield.org/fashion-storefront/internal/storefront"
)

// ErrCheckoutMissingFactory indicates NewCheckoutHandlers was called without a machine factory.
var ErrCheckoutMissingFactory = errors.New("handlers: checkout machine factory is required")

// MachineFactory creates the checkout machine for a new session.
type MachineFactory func(sessionID string) (*checkout.Machine, error)

// CheckoutDeps bundles the collaborators of CheckoutHandlers.
type CheckoutDeps struct {
	Sessions   *SessionRegistry
	NewMachine MachineFactory
	Logger     *zap.Logger
}

// CheckoutHandlers drives the per-session checkout flow over HTTP.
type CheckoutHandlers struct {
	sessions   *SessionRegistry
	newMachine MachineFactory
	logger     *zap.Logger
}

// NewCheckoutHandlers validates deps and returns the handlers.
func NewCheckoutHandlers(deps CheckoutDeps) (*CheckoutHandlers, error) {
	if deps.NewMachine == nil {
		return nil, ErrCheckoutMissingFactory
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = NewSessionRegistry(0)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutHandlers{sessions: sessions, newMachine: deps.NewMachine, logger: logger}, nil
}

// Routes registers the checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	r.Post("/", h.start)
	r.Get("/", h.show)
	r.Put("/shipping", h.submitShipping)
	r.Put("/payment", h.submitPayment)
	r.Post("/back", h.back)
	r.Post("/orders", h.placeOrder)
	r.Post("/reset", h.reset)
	r.Post("/cart/clear", h.clearCart)
}

type paymentRequest struct {
	PaymentMethod  string           `json:"paymentMethod"`
	PaymentDetails payments.Details `json:"paymentDetails"`
}

type clearCartResponse struct {
	Strategy string            `json:"strategy"`
	Checkout checkout.Snapshot `json:"checkout"`
}

func (h *CheckoutHandlers) start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := requestctx.SessionID(ctx)
	if sessionID == "" {
		writeMissingSession(w, r)
		return
	}
	m, err := h.sessions.GetOrCreate(sessionID, func() (*checkout.Machine, error) {
		return h.newMachine(sessionID)
	})
	if err != nil {
		requestctx.Logger(ctx).Error("create checkout machine", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", checkout.UserMessage(err), http.StatusInternalServerError))
		return
	}

	if m.State() == checkout.StateError {
		err = m.Reset(ctx)
	} else {
		err = m.Load(ctx)
	}
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, m.Snapshot())
}

func (h *CheckoutHandlers) show(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, m.Snapshot())
}

func (h *CheckoutHandlers) submitShipping(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	var form clientstate.ShippingForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		writeInvalidBody(w, r, err)
		return
	}
	if err := m.SubmitShipping(r.Context(), form); err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, m.Snapshot())
}

func (h *CheckoutHandlers) submitPayment(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeInvalidBody(w, r, err)
		return
	}
	if err := m.SubmitPayment(req.PaymentMethod, req.PaymentDetails); err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, m.Snapshot())
}

func (h *CheckoutHandlers) back(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	if err := m.Back(); err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, m.Snapshot())
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	if _, err := m.PlaceOrder(r.Context()); err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, m.Snapshot())
}

func (h *CheckoutHandlers) reset(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	if err := m.Reset(r.Context()); err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, m.Snapshot())
}

func (h *CheckoutHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	strategy, err := m.ClearCart(r.Context())
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, clearCartResponse{Strategy: strategy, Checkout: m.Snapshot()})
}

func (h *CheckoutHandlers) machine(w http.ResponseWriter, r *http.Request) (*checkout.Machine, bool) {
	sessionID := requestctx.SessionID(r.Context())
	if sessionID == "" {
		writeMissingSession(w, r)
		return nil, false
	}
	m, ok := h.sessions.Get(sessionID)
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("checkout_not_started", "no checkout in progress for this session", http.StatusNotFound))
		return nil, false
	}
	return m, true
}

func writeMissingSession(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("session_required", "a checkout session cookie is required", http.StatusBadRequest))
}

func writeInvalidBody(w http.ResponseWriter, r *http.Request, err error) {
	httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest).
		WithDetails(map[string]any{"reason": err.Error()}))
}

// writeCheckoutError maps checkout failures onto the error envelope. The message is always the
// shopper-facing text.
func writeCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	message := checkout.UserMessage(err)

	var (
		verr    *checkout.ValidationError
		missing *orders.MissingColorVariantError
		apiErr  *storefront.APIError
	)
	switch {
	case errors.As(err, &verr):
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", message, http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"step": verr.Step, "fields": verr.Fields}))
	case errors.Is(err, checkout.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", message, http.StatusConflict))
	case errors.As(err, &missing):
		httpx.WriteError(ctx, w, httpx.NewError("missing_color_variant", message, http.StatusConflict).
			WithDetails(map[string]any{"products": missing.Products}))
	case errors.Is(err, orders.ErrNoValidItems):
		httpx.WriteError(ctx, w, httpx.NewError("no_valid_items", message, http.StatusConflict))
	case errors.Is(err, checkout.ErrAllStrategiesFailed):
		httpx.WriteError(ctx, w, httpx.NewError("cart_clear_failed", message, http.StatusBadGateway))
	case errors.As(err, &apiErr):
		requestctx.Logger(ctx).Warn("storefront api failure", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("upstream_error", message, http.StatusBadGateway))
	default:
		requestctx.Logger(ctx).Error("checkout request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", message, http.StatusInternalServerError))
	}
}
