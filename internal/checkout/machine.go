// Package checkout runs the shipping, payment and review flow of one shopper's checkout and
// turns the reviewed cart into an order.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"finitefield.org/fashion-storefront/internal/cart"
	"finitefield.org/fashion-storefront/internal/clientstate"
	"finitefield.org/fashion-storefront/internal/events"
	"finitefield.org/fashion-storefront/internal/orders"
	"finitefield.org/fashion-storefront/internal/payments"
	"finitefield.org/fashion-storefront/internal/platform/observability"
	"finitefield.org/fashion-storefront/internal/platform/textutil"
	"finitefield.org/fashion-storefront/internal/shape"
	"finitefield.org/fashion-storefront/internal/storefront"
)

const (
	localClearStrategy = "local"
	mockOrderPrefix    = "mock-"
)

// API is the part of the storefront client the checkout flow calls.
type API interface {
	FetchCart(ctx context.Context) (any, error)
	CreateOrder(ctx context.Context, payload any, idempotencyKey string) (any, error)
	Delete(ctx context.Context, path string) error
}

// OrderBuilder assembles the order payload from the reviewed checkout.
type OrderBuilder interface {
	Build(ctx context.Context, req orders.BuildRequest) (orders.Payload, error)
}

// Settings tune a Machine.
type Settings struct {
	// CartClearPaths are DELETE endpoints tried in order after an order is placed.
	CartClearPaths []string
	// MockOrders synthesises a local order when the order backend is unreachable. Ignored in
	// production.
	MockOrders       bool
	Production       bool
	StrictProductIDs bool
	TaxRate          float64
	DefaultCountry   string
}

// MachineDeps wires the collaborators of a Machine.
type MachineDeps struct {
	SessionID string
	API       API
	Builder   OrderBuilder
	Payments  *payments.Registry
	Forms     clientstate.FormCache
	Profiles  clientstate.ProfileSource
	Numbers   clientstate.OrderNumbers
	Events    events.Publisher
	Metrics   *observability.CheckoutMetrics
	Logger    *zap.Logger
	Settings  Settings
	Clock     func() time.Time
	NewID     func() string
}

// Machine is one shopper's checkout. It is safe for concurrent use; an order placement in flight
// holds the machine in StateSubmitting so concurrent transitions are rejected.
type Machine struct {
	api        API
	builder    OrderBuilder
	registry   *payments.Registry
	forms      clientstate.FormCache
	profiles   clientstate.ProfileSource
	events     events.Publisher
	metrics    *observability.CheckoutMetrics
	logger     *zap.Logger
	settings   Settings
	carts      cart.Normalizer
	normalizer orders.Normalizer
	now        func() time.Time
	newID      func() string

	mu          sync.Mutex
	state       State
	items       []cart.LineItem
	shipping    clientstate.ShippingForm
	method      payments.Method
	details     payments.Details
	order       *orders.OrderView
	mock        bool
	cartCleared bool
	lastErr     string
}

// NewMachine validates deps and returns a Machine in StateShipping with an empty cart.
func NewMachine(deps MachineDeps) (*Machine, error) {
	if deps.API == nil {
		return nil, ErrMachineMissingAPI
	}
	if deps.Builder == nil {
		return nil, ErrMachineMissingBuilder
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.SessionID != "" {
		logger = logger.With(zap.String("checkout_session", deps.SessionID))
	}
	registry := deps.Payments
	if registry == nil {
		registry = payments.DefaultRegistry()
	}
	publisher := deps.Events
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	settings := deps.Settings
	settings.CartClearPaths = slices.Clone(settings.CartClearPaths)

	return &Machine{
		api:      deps.API,
		builder:  deps.Builder,
		registry: registry,
		forms:    deps.Forms,
		profiles: deps.Profiles,
		events:   publisher,
		metrics:  deps.Metrics,
		logger:   logger,
		settings: settings,
		carts:    cart.Normalizer{Logger: logger, StrictProductIDs: settings.StrictProductIDs},
		normalizer: orders.Normalizer{
			Forms:          deps.Forms,
			Profiles:       deps.Profiles,
			Numbers:        deps.Numbers,
			TaxRate:        settings.TaxRate,
			DefaultCountry: settings.DefaultCountry,
			Clock:          clock,
			Logger:         logger,
		},
		now:   clock,
		newID: newID,
		state: StateShipping,
	}, nil
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a copy of the checkout for display.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		State:       m.state,
		Items:       slices.Clone(m.items),
		Shipping:    m.shipping,
		Mock:        m.mock,
		CartCleared: m.cartCleared,
		Error:       m.lastErr,
	}
	if snap.Items == nil {
		snap.Items = []cart.LineItem{}
	}
	if m.method.Code != "" {
		snap.PaymentMethod = m.method.Code
		if m.method.MobileWallet {
			details := m.details
			snap.PaymentDetails = &details
		}
	}
	if m.order != nil {
		view := *m.order
		snap.Order = &view
	}
	return snap
}

// Load fetches the cart and starts the flow at the shipping step, prefilling the form from the
// form cache and the shopper's profile. It restarts a checkout that is in progress or complete.
func (m *Machine) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateSubmitting || m.state == StateError {
		return invalidTransition("load", m.state)
	}
	return m.loadLocked(ctx)
}

// Reset recovers from StateError by restarting the flow with a fresh cart.
func (m *Machine) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateError {
		return invalidTransition("reset", m.state)
	}
	return m.loadLocked(ctx)
}

func (m *Machine) loadLocked(ctx context.Context) error {
	raw, err := m.api.FetchCart(ctx)
	if err != nil {
		m.logger.Error("cart fetch failed", zap.Error(err))
		m.state = StateError
		m.lastErr = UserMessage(err)
		return fmt.Errorf("checkout: load cart: %w", err)
	}

	m.items = m.carts.Normalize(raw)
	m.shipping = m.prefill(ctx)
	m.method = payments.Method{}
	m.details = payments.Details{}
	m.order = nil
	m.mock = false
	m.cartCleared = false
	m.lastErr = ""
	m.state = StateShipping

	m.logger.Debug("checkout loaded", zap.Int("cart_items", len(m.items)))
	return nil
}

func (m *Machine) prefill(ctx context.Context) clientstate.ShippingForm {
	var form clientstate.ShippingForm
	if m.forms != nil {
		cached, err := m.forms.Get(ctx)
		switch {
		case err == nil:
			form = cached.Trimmed()
		case !errors.Is(err, clientstate.ErrNotFound):
			m.logger.Warn("checkout form cache unavailable", zap.Error(err))
		}
	}
	if m.profiles != nil {
		profile, err := m.profiles.Profile(ctx)
		switch {
		case err == nil:
			form.FullName = textutil.FirstNonEmpty(form.FullName, profile.Name)
			form.Email = textutil.FirstNonEmpty(form.Email, profile.Email)
			form.Phone = textutil.FirstNonEmpty(form.Phone, profile.Phone)
			form.Address = textutil.FirstNonEmpty(form.Address, profile.Street)
			form.City = textutil.FirstNonEmpty(form.City, profile.City)
			form.State = textutil.FirstNonEmpty(form.State, profile.State)
			form.ZipCode = textutil.FirstNonEmpty(form.ZipCode, profile.ZipCode)
			form.Country = textutil.FirstNonEmpty(form.Country, profile.Country)
		case !errors.Is(err, clientstate.ErrNotFound):
			m.logger.Warn("profile unavailable for prefill", zap.Error(err))
		}
	}
	form.Country = textutil.FirstNonEmpty(form.Country, m.settings.DefaultCountry, orders.DefaultCountry)
	return form
}

// SubmitShipping validates the shipping step and advances to payment. The form is kept in the
// form cache for prefill even though the cache is advisory.
func (m *Machine) SubmitShipping(ctx context.Context, form clientstate.ShippingForm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateShipping {
		return invalidTransition("submit shipping", m.state)
	}

	form = form.Trimmed()
	form.Country = textutil.FirstNonEmpty(form.Country, m.settings.DefaultCountry, orders.DefaultCountry)
	m.shipping = form
	if verr := validateShipping(form); verr != nil {
		m.lastErr = UserMessage(verr)
		return verr
	}

	if m.forms != nil {
		if err := m.forms.Set(ctx, form); err != nil {
			m.logger.Warn("checkout form not cached", zap.Error(err))
		}
	}
	m.lastErr = ""
	m.state = StatePayment
	return nil
}

// SubmitPayment selects a payment method and advances to review. Mobile wallets need a payer
// mobile number and a transaction id.
func (m *Machine) SubmitPayment(code string, details payments.Details) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePayment {
		return invalidTransition("submit payment", m.state)
	}

	verr := &ValidationError{Step: StatePayment}
	method, err := m.registry.Lookup(code)
	switch {
	case strings.TrimSpace(code) == "":
		verr.Fields = append(verr.Fields, FieldError{Field: "paymentMethod", Reason: "required"})
	case errors.Is(err, payments.ErrUnknownMethod):
		verr.Fields = append(verr.Fields, FieldError{Field: "paymentMethod", Reason: "unsupported"})
	case err != nil:
		return err
	default:
		for _, fe := range method.Validate(details) {
			verr.Fields = append(verr.Fields, FieldError{Field: fe.Field, Reason: fe.Reason})
		}
	}
	if len(verr.Fields) > 0 {
		m.lastErr = UserMessage(verr)
		return verr
	}

	m.method = method
	m.details = payments.Details{}
	if method.MobileWallet {
		m.details = details.Normalized()
	}
	m.lastErr = ""
	m.state = StateReview
	return nil
}

// Back returns to the previous step: payment to shipping, review to payment.
func (m *Machine) Back() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StatePayment:
		m.state = StateShipping
	case StateReview:
		m.state = StatePayment
	default:
		return invalidTransition("back", m.state)
	}
	m.lastErr = ""
	return nil
}

// PlaceOrder builds and submits the order. Unorderable carts return the flow to review; order
// creation failures move it to error unless mock orders are enabled. After success the cart is
// cleared, the form cache dropped and an event published, all best-effort.
func (m *Machine) PlaceOrder(ctx context.Context) (orders.OrderView, error) {
	m.mu.Lock()
	if m.state != StateReview {
		from := m.state
		m.mu.Unlock()
		return orders.OrderView{}, invalidTransition("place order", from)
	}
	req := orders.BuildRequest{
		Items:    slices.Clone(m.items),
		Shipping: orders.ShippingFromForm(m.shipping, m.settings.DefaultCountry),
		Method:   m.method,
		Details:  m.details,
		Notes:    m.shipping.Notes,
	}
	m.state = StateSubmitting
	m.lastErr = ""
	m.mu.Unlock()

	payload, err := m.builder.Build(ctx, req)
	if err != nil {
		var missing *orders.MissingColorVariantError
		if errors.Is(err, orders.ErrNoValidItems) || errors.As(err, &missing) {
			m.logger.Warn("order build rejected", zap.Error(err))
			m.settle(StateReview, err)
			return orders.OrderView{}, err
		}
		m.logger.Error("order build failed", zap.Error(err))
		m.settle(StateError, err)
		return orders.OrderView{}, fmt.Errorf("checkout: build order: %w", err)
	}

	raw, mock, err := m.createOrder(ctx, payload)
	if err != nil {
		m.logger.Error("order creation failed", zap.Error(err))
		m.settle(StateError, err)
		return orders.OrderView{}, fmt.Errorf("checkout: create order: %w", err)
	}

	id := orders.ExtractOrderID(raw)
	if id == "" {
		m.logger.Warn("order response carried no order id")
	}
	record := confirmationRecord(payload, id, m.now().UTC(), mock)
	mergeResponse(record, raw)
	view := m.normalizer.Normalize(ctx, record)

	m.mu.Lock()
	m.order = &view
	m.mock = mock
	m.lastErr = ""
	m.state = StateComplete
	m.mu.Unlock()

	m.logger.Info("order placed",
		zap.String("order_id", view.ID),
		zap.String("order_number", view.OrderNumber),
		zap.String("payment_method", view.Payment.Method),
		zap.Bool("mock", mock),
	)
	m.afterOrder(ctx, view, mock)
	return view, nil
}

// ClearCart retries the post-order cart clear, e.g. when the browser leaves the confirmation
// page. It returns the name of the strategy that succeeded.
func (m *Machine) ClearCart(ctx context.Context) (string, error) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if state != StateComplete {
		return "", invalidTransition("clear cart", state)
	}
	return m.clearCart(ctx)
}

func (m *Machine) settle(state State, err error) {
	m.mu.Lock()
	m.state = state
	m.lastErr = UserMessage(err)
	m.mu.Unlock()
}

func (m *Machine) createOrder(ctx context.Context, payload orders.Payload) (any, bool, error) {
	raw, err := m.api.CreateOrder(ctx, payload, m.newID())
	if err == nil {
		return raw, false, nil
	}
	if !m.settings.MockOrders || m.settings.Production || !transportFailure(err) {
		return nil, false, err
	}
	m.logger.Warn("order backend unavailable; placing mock order", zap.Error(err))
	return shape.Record{"_id": mockOrderPrefix + strings.ToLower(m.newID())}, true, nil
}

func transportFailure(err error) bool {
	var apiErr *storefront.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Unavailable()
	}
	return !errors.Is(err, context.Canceled)
}

func (m *Machine) afterOrder(ctx context.Context, view orders.OrderView, mock bool) {
	if _, err := m.clearCart(ctx); err != nil {
		m.logger.Warn("cart clear failed", zap.Error(err))
	}
	if m.forms != nil {
		if err := m.forms.Clear(ctx); err != nil {
			m.logger.Warn("checkout form cache not cleared", zap.Error(err))
		}
	}

	m.metrics.OrderPlaced(ctx, view.Payment.Method, mock)
	event := events.OrderPlaced{
		OrderID:       view.ID,
		OrderNumber:   view.OrderNumber,
		Total:         view.Total,
		ItemCount:     len(view.Items),
		PaymentMethod: view.Payment.Method,
		PlacedAt:      view.CreatedAt,
		Mock:          mock,
	}
	if err := m.events.OrderPlaced(ctx, event); err != nil {
		m.logger.Warn("order event not published", zap.String("order_id", view.ID), zap.Error(err))
	}
}

// clearCart tries each cart-clear endpoint and finally the local clear, which always succeeds.
// The local copy of the cart is dropped whichever strategy won.
func (m *Machine) clearCart(ctx context.Context) (string, error) {
	strategies := make([]Strategy, 0, len(m.settings.CartClearPaths)+1)
	for _, path := range m.settings.CartClearPaths {
		strategies = append(strategies, Strategy{
			Name: "api:" + path,
			Run:  func(ctx context.Context) error { return m.api.Delete(ctx, path) },
		})
	}
	strategies = append(strategies, Strategy{
		Name: localClearStrategy,
		Run:  func(context.Context) error { return nil },
	})

	name, err := RunFirstSuccess(ctx, strategies, func(name string, err error) {
		m.logger.Debug("cart clear strategy failed", zap.String("strategy", name), zap.Error(err))
	})

	m.mu.Lock()
	m.items = nil
	m.cartCleared = true
	m.mu.Unlock()

	if err != nil {
		return localClearStrategy, err
	}
	m.metrics.CartCleared(ctx, name)
	return name, nil
}

// confirmationRecord is the order as the checkout knows it, used when the creation response is
// sparse.
func confirmationRecord(payload orders.Payload, id string, placedAt time.Time, mock bool) shape.Record {
	items := make([]any, 0, len(payload.Lines))
	for _, line := range payload.Lines {
		items = append(items, shape.Record{
			"productId": line.ProductID,
			"name":      line.Name,
			"price":     line.Price,
			"quantity":  line.Quantity,
			"image":     line.Image,
			"color":     line.Color,
			"size":      line.Size,
		})
	}
	addr := payload.ShippingAddress
	record := shape.Record{
		"_id":       id,
		"status":    "pending",
		"createdAt": placedAt.Format(time.RFC3339Nano),
		"items":     items,
		"shippingAddress": shape.Record{
			"fullName": addr.FullName,
			"email":    addr.Email,
			"phone":    addr.Phone,
			"street":   addr.Street,
			"city":     addr.City,
			"state":    addr.State,
			"zipCode":  addr.ZipCode,
			"country":  addr.Country,
		},
		"paymentMethod": payload.PaymentMethod,
		"paymentStatus": "pending",
		"notes":         payload.Notes,
	}
	if d := payload.PaymentDetails; d != nil {
		record["paymentDetails"] = shape.Record{"mobileNumber": d.MobileNumber, "transactionId": d.TransactionID}
	}
	if mock {
		record["mock"] = true
	}
	return record
}

// mergeResponse overlays the non-empty fields of the creation response onto record. Response
// items are merged line by line so the locally known name, price and image survive an echo of
// the submitted payload.
func mergeResponse(record shape.Record, raw any) {
	resp, ok := orders.OrderRecord(raw)
	if !ok {
		return
	}
	for key, value := range resp {
		if blank(value) {
			continue
		}
		if key == "items" {
			if merged, ok := mergeItems(record[key], value); ok {
				record[key] = merged
				continue
			}
		}
		record[key] = value
	}
}

// mergeItems pairs each response item with a local line by product id, else by position, else
// with the first line not yet paired.
func mergeItems(local, remote any) ([]any, bool) {
	remoteItems, ok := remote.([]any)
	if !ok {
		return nil, false
	}
	localItems, _ := local.([]any)
	used := make([]bool, len(localItems))

	match := func(idx int, item shape.Record) shape.Record {
		if id, ok := cart.ExtractProductID(item); ok {
			for i, candidate := range localItems {
				rec, _ := shape.AsRecord(candidate)
				if !used[i] && shape.FirstString(rec, shape.Field("productId")) == id {
					used[i] = true
					return rec
				}
			}
		}
		if idx < len(localItems) && !used[idx] {
			used[idx] = true
			rec, _ := shape.AsRecord(localItems[idx])
			return rec
		}
		for i, candidate := range localItems {
			if !used[i] {
				used[i] = true
				rec, _ := shape.AsRecord(candidate)
				return rec
			}
		}
		return nil
	}

	merged := make([]any, 0, len(remoteItems))
	for idx, value := range remoteItems {
		item, ok := shape.AsRecord(value)
		if !ok {
			merged = append(merged, value)
			continue
		}
		line := shape.Record{}
		for k, v := range match(idx, item) {
			line[k] = v
		}
		for k, v := range item {
			if !blank(v) {
				line[k] = v
			}
		}
		merged = append(merged, line)
	}
	return merged, true
}

func blank(v any) bool {
	switch typed := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	case []any:
		return len(typed) == 0
	case map[string]any:
		return len(typed) == 0
	default:
		return false
	}
}
