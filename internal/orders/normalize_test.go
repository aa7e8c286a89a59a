package orders

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finitefield.org/fashion-storefront/internal/cart"
	"finitefield.org/fashion-storefront/internal/clientstate"
	"finitefield.org/fashion-storefront/internal/payments"
)

var synthesizedNumber = regexp.MustCompile(`^ORD-\d{8}-[A-Z2-7]{4}$`)

func fixedClock() time.Time {
	return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
}

func TestNormalizeOrderDefaults(t *testing.T) {
	inputs := map[string]any{
		"nil":    nil,
		"string": "garbage",
		"empty":  map[string]any{},
		"list":   []any{1, 2},
	}
	for name, raw := range inputs {
		t.Run(name, func(t *testing.T) {
			view := Normalizer{Clock: fixedClock}.Normalize(context.Background(), raw)
			assert.Empty(t, view.ID)
			assert.Regexp(t, synthesizedNumber, view.OrderNumber)
			assert.Equal(t, "pending", view.Status)
			assert.Equal(t, fixedClock(), view.CreatedAt)
			assert.NotNil(t, view.Items)
			assert.Empty(t, view.Items)
			assert.Equal(t, DefaultCountry, view.ShippingAddress.Country)
			assert.Equal(t, "pending", view.Payment.Status)
			assert.Zero(t, view.Total)
		})
	}
}

func TestNormalizeOrderEnvelopes(t *testing.T) {
	order := func() map[string]any {
		return map[string]any{"_id": "abc123", "orderNumber": "1001", "status": "Processing"}
	}
	shapes := map[string]any{
		"bare":       order(),
		"data":       map[string]any{"success": true, "data": order()},
		"order":      map[string]any{"order": order()},
		"data.order": map[string]any{"data": map[string]any{"order": order()}},
	}
	for name, raw := range shapes {
		t.Run(name, func(t *testing.T) {
			view := NormalizeOrder(raw)
			assert.Equal(t, "abc123", view.ID)
			assert.Equal(t, "ORD-1001", view.OrderNumber)
			assert.Equal(t, "processing", view.Status)
			assert.Equal(t, "abc123", ExtractOrderID(raw))
		})
	}
}

func TestExtractOrderIDPriority(t *testing.T) {
	assert.Equal(t, "u1", ExtractOrderID(map[string]any{"_id": "u1", "id": "i1", "orderId": "o1"}))
	assert.Equal(t, "i1", ExtractOrderID(map[string]any{"id": "i1", "orderId": "o1"}))
	assert.Equal(t, "o1", ExtractOrderID(map[string]any{"orderId": "o1"}))
	assert.Equal(t, "o2", ExtractOrderID(map[string]any{"success": true, "orderId": "o2", "data": map[string]any{"status": "pending"}}))
	assert.Empty(t, ExtractOrderID(nil))
}

func TestOrderNumberPrefixRules(t *testing.T) {
	assert.Equal(t, "ORD-1001", WithPrefix("1001"))
	assert.Equal(t, "ORD-1001", WithPrefix("ORD-1001"))
	assert.Equal(t, "ORD-1001", WithPrefix("ord-1001"))
	assert.Empty(t, WithPrefix("  "))

	a := SynthesizeNumber("64b7f0c2a1b2c3d4e5f60718", time.Time{}, false)
	b := SynthesizeNumber("64b7f0c2a1b2c3d4e5f60718", time.Time{}, false)
	assert.Equal(t, a, b, "derived from the id")
	assert.Regexp(t, synthesizedNumber, a)

	dated := SynthesizeNumber("x", fixedClock(), true)
	assert.True(t, strings.HasPrefix(dated, "ORD-20260314-"), dated)

	assert.Regexp(t, synthesizedNumber, SynthesizeNumber("", time.Time{}, false))
}

func TestNormalizeOrderRemembersSynthesizedNumbers(t *testing.T) {
	store := clientstate.NewMemoryStore()
	n := Normalizer{Numbers: store.OrderNumbers()}

	first := n.Normalize(context.Background(), map[string]any{"_id": "order-9"})
	second := n.Normalize(context.Background(), map[string]any{"data": map[string]any{"id": "order-9"}})
	assert.Equal(t, first.OrderNumber, second.OrderNumber)

	stored, err := store.OrderNumbers().Lookup(context.Background(), "order-9")
	require.NoError(t, err)
	assert.Equal(t, first.OrderNumber, stored)

	_, err = store.OrderNumbers().Remember(context.Background(), "order-10", "77")
	require.NoError(t, err)
	assert.Equal(t, "ORD-77", n.Normalize(context.Background(), map[string]any{"_id": "order-10"}).OrderNumber)
}

func TestNormalizeOrderItemsAndTotals(t *testing.T) {
	raw := map[string]any{
		"_id": "o1",
		"items": []any{
			map[string]any{
				"product":      map[string]any{"_id": "p1", "name": "Linen Shirt", "images": []any{"shirt.jpg"}},
				"price":        json.Number("500"),
				"quantity":     json.Number("2"),
				"colorVariant": map[string]any{"color": map[string]any{"name": "Red"}},
				"size":         map[string]any{"name": "M", "quantity": 2},
			},
			map[string]any{"productId": "p2", "name": "Scarf", "price": 100.0},
			"not-an-item",
		},
	}

	view := NormalizeOrder(raw)
	require.Len(t, view.Items, 2)
	assert.Equal(t, ItemView{ID: "p1", Name: "Linen Shirt", Price: 500, Quantity: 2, Image: "shirt.jpg", Color: "Red", Size: "M", Subtotal: 1000}, view.Items[0])
	assert.Equal(t, ItemView{ID: "p2", Name: "Scarf", Price: 100, Quantity: 1, Image: cart.PlaceholderImage, Subtotal: 100}, view.Items[1])

	assert.Equal(t, 1100.0, view.Subtotal)
	assert.Equal(t, 55.0, view.Tax)
	assert.Equal(t, 0.0, view.Shipping)
	assert.Equal(t, 0.0, view.Discount)
	assert.Equal(t, 1155.0, view.Total)
}

func TestNormalizeOrderExplicitAmountsWin(t *testing.T) {
	view := NormalizeOrder(map[string]any{
		"items":    []any{map[string]any{"price": 10.0, "quantity": 1.0}},
		"subtotal": 10.0,
		"tax":      0.0,
		"shipping": 60.0,
		"discount": 5.0,
		"total":    65.0,
	})
	assert.Equal(t, 10.0, view.Subtotal)
	assert.Equal(t, 0.0, view.Tax)
	assert.Equal(t, 60.0, view.Shipping)
	assert.Equal(t, 5.0, view.Discount)
	assert.Equal(t, 65.0, view.Total)

	computed := NormalizeOrder(map[string]any{
		"items":    []any{map[string]any{"price": 100.0}},
		"shipping": 60.0,
		"discount": 5.0,
	})
	assert.Equal(t, 160.0, computed.Total, "100 + 5 tax + 60 shipping - 5 discount")
}

func TestNormalizeOrderCentsOnlyWhenFlagged(t *testing.T) {
	plain := NormalizeOrder(map[string]any{"items": []any{map[string]any{"price": 1500.0}}})
	assert.Equal(t, 1500.0, plain.Items[0].Price, "no heuristic conversion")

	flagged := NormalizeOrder(map[string]any{"items": []any{map[string]any{"price": 1500.0, "priceInCents": true}}})
	assert.Equal(t, 15.0, flagged.Items[0].Price)

	numeric := NormalizeOrder(map[string]any{"items": []any{map[string]any{"price": 99.0, "priceInCents": 1999.0}}})
	assert.Equal(t, 19.99, numeric.Items[0].Price)

	orderFlag := NormalizeOrder(map[string]any{
		"priceInCents": true,
		"items":        []any{map[string]any{"price": 250.0}, map[string]any{"price": 250.0, "priceInCents": false}},
	})
	assert.Equal(t, 2.5, orderFlag.Items[0].Price)
	assert.Equal(t, 250.0, orderFlag.Items[1].Price, "item flag overrides order flag")

	totals := NormalizeOrder(map[string]any{"subtotalInCents": 12345.0, "totalInCents": 13000.0, "taxInCents": 655.0})
	assert.Equal(t, 123.45, totals.Subtotal)
	assert.Equal(t, 6.55, totals.Tax)
	assert.Equal(t, 130.0, totals.Total)
}

func TestNormalizeOrderCentsFlagPlacement(t *testing.T) {
	tests := []struct {
		name  string
		order map[string]any
		want  float64
	}{
		{"order bool", map[string]any{"priceInCents": true, "items": []any{map[string]any{"price": 500.0}}}, 5},
		{"order string", map[string]any{"priceInCents": "true", "items": []any{map[string]any{"price": 500.0}}}, 5},
		{"item bool", map[string]any{"items": []any{map[string]any{"price": 500.0, "priceInCents": true}}}, 5},
		{"item string", map[string]any{"items": []any{map[string]any{"price": 500.0, "priceInCents": "true"}}}, 5},
		{"item string false overrides order", map[string]any{"priceInCents": "true", "items": []any{map[string]any{"price": 500.0, "priceInCents": "false"}}}, 500},
		{"item numeric string", map[string]any{"items": []any{map[string]any{"price": 9.0, "priceInCents": "1999"}}}, 19.99},
		{"item null follows order", map[string]any{"priceInCents": "yes", "items": []any{map[string]any{"price": 500.0, "priceInCents": nil}}}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := NormalizeOrder(tt.order)
			require.Len(t, view.Items, 1)
			assert.Equal(t, tt.want, view.Items[0].Price)
		})
	}
}

type stubForm struct {
	form clientstate.ShippingForm
	err  error
}

func (s stubForm) Get(context.Context) (clientstate.ShippingForm, error) { return s.form, s.err }
func (s stubForm) Set(context.Context, clientstate.ShippingForm) error   { return nil }
func (s stubForm) Clear(context.Context) error                           { return nil }

type stubProfile struct {
	profile clientstate.Profile
	err     error
}

func (s stubProfile) Profile(context.Context) (clientstate.Profile, error) { return s.profile, s.err }

func TestNormalizeOrderContactFallbackChain(t *testing.T) {
	n := Normalizer{
		Forms: stubForm{form: clientstate.ShippingForm{FullName: "Form Name", Email: "form@example.com", City: "Form City"}},
		Profiles: stubProfile{profile: clientstate.Profile{
			Name: "Profile Name", Email: "profile@example.com", Phone: "01700000000", Street: "Profile Street", ZipCode: "1207",
		}},
		DefaultCountry: "Bangladesh",
	}

	view := n.Normalize(context.Background(), map[string]any{
		"shippingAddress": map[string]any{"fullName": "Order Name", "street": "<i>Order</i> Street"},
	})
	assert.Equal(t, Customer{Name: "Order Name", Email: "form@example.com", Phone: "01700000000"}, view.Customer)
	assert.Equal(t, Address{Street: "Order Street", City: "Form City", State: "", ZipCode: "1207", Country: "Bangladesh"}, view.ShippingAddress)
}

func TestNormalizeOrderToleratesCacheFailures(t *testing.T) {
	n := Normalizer{
		Forms:    stubForm{err: errors.New("redis down")},
		Profiles: stubProfile{err: clientstate.ErrNotFound},
	}
	view := n.Normalize(context.Background(), map[string]any{"customer": map[string]any{"name": "Nadia", "email": "n@example.com"}})
	assert.Equal(t, "Nadia", view.Customer.Name)
	assert.Equal(t, "n@example.com", view.Customer.Email)
	assert.Equal(t, DefaultCountry, view.ShippingAddress.Country)
}

func TestNormalizeOrderPayment(t *testing.T) {
	view := NormalizeOrder(map[string]any{
		"paymentMethod":  "bkash",
		"paymentDetails": map[string]any{"mobileNumber": "01712345678", "transactionId": "TX1234"},
		"paymentStatus":  "PAID",
	})
	assert.Equal(t, Payment{Method: "bkash", MobileNumber: "01712345678", TransactionID: "TX1234", Status: "paid"}, view.Payment)

	nested := NormalizeOrder(map[string]any{"paymentMethod": map[string]any{"type": "nagad"}})
	assert.Equal(t, "nagad", nested.Payment.Method)
}

func TestNormalizeOrderCreatedAt(t *testing.T) {
	cases := map[string]any{
		"rfc3339":   "2026-03-14T09:30:00Z",
		"offset":    "2026-03-14T15:30:00+06:00",
		"millis":    json.Number("1773480600000"),
		"seconds":   1773480600.0,
		"date time": "2026-03-14 09:30:00",
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			view := Normalizer{Clock: func() time.Time { return time.Time{} }}.Normalize(context.Background(), map[string]any{"createdAt": value})
			assert.Equal(t, fixedClock(), view.CreatedAt)
		})
	}
}

func TestNormalizeOrderIsIdempotent(t *testing.T) {
	store := clientstate.NewMemoryStore()
	n := Normalizer{Numbers: store.OrderNumbers(), Clock: fixedClock}
	ctx := context.Background()

	raws := []any{
		nil,
		map[string]any{"_id": "o1", "items": []any{map[string]any{"productId": "p1", "price": 40.0, "quantity": 1.0, "size": "M"}}},
		map[string]any{"data": map[string]any{"order": map[string]any{
			"id":              "o2",
			"orderNumber":     "ORD-55",
			"createdAt":       "2026-01-02T03:04:05.123Z",
			"shippingAddress": map[string]any{"fullName": "N", "street": "S", "city": "C", "state": "St", "zipCode": "1", "country": "BD"},
			"items":           []any{map[string]any{"price": 1999.0, "priceInCents": true, "quantity": 3.0}},
			"shipping":        60.0,
			"notes":           "Leave at door",
			"paymentMethod":   "nagad",
		}}},
	}
	for _, raw := range raws {
		once := n.Normalize(ctx, raw)
		twice := n.Normalize(ctx, once)
		assert.Equal(t, once, twice)

		pointer := n.Normalize(ctx, &once)
		assert.Equal(t, once, pointer)
	}
}

func TestEndToEndCartToOrderView(t *testing.T) {
	items := cart.NormalizeCart(map[string]any{"data": map[string]any{"items": []any{
		map[string]any{"product": map[string]any{"_id": shirtID}, "quantity": 1.0, "color": "Red"},
	}}})
	require.Len(t, items, 1)
	require.Equal(t, shirtID, items[0].ProductID)

	builder := newTestBuilder(t, catalogue())
	payload, err := builder.Build(context.Background(), BuildRequest{
		Items:  items,
		Method: payments.Method{Code: payments.CashOnDelivery},
	})
	require.NoError(t, err)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, "Red", payload.Items[0].ColorVariant.Color.Name)

	created := map[string]any{"success": true, "data": map[string]any{"_id": "X"}}
	require.Equal(t, "X", ExtractOrderID(created))

	view := NormalizeOrder(map[string]any{"_id": "X", "items": []any{
		map[string]any{"product": shirtID, "price": payload.Lines[0].Price, "quantity": 1.0},
	}})
	assert.Equal(t, "X", view.ID)
	assert.True(t, strings.HasPrefix(view.OrderNumber, OrderNumberPrefix))
	assert.Equal(t, 40.0, view.Subtotal)
	assert.Equal(t, 2.0, view.Tax)
	assert.Equal(t, 42.0, view.Total)
	assert.Equal(t, shirtID, view.Items[0].ID)
}
