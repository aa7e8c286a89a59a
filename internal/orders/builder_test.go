package orders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finitefield.org/fashion-storefront/internal/cart"
	"finitefield.org/fashion-storefront/internal/clientstate"
	"finitefield.org/fashion-storefront/internal/payments"
	"finitefield.org/fashion-storefront/internal/storefront"
)

const (
	shirtID = "64b7f0c2a1b2c3d4e5f60718"
	scarfID = "64b7f0c2a1b2c3d4e5f60719"
	hatID   = "64b7f0c2a1b2c3d4e5f6071a"
)

type stubProducts struct {
	mu       sync.Mutex
	products map[string]storefront.Product
	calls    []string
}

func (s *stubProducts) GetProduct(_ context.Context, id string) (storefront.Product, error) {
	s.mu.Lock()
	s.calls = append(s.calls, id)
	s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return storefront.Product{}, &storefront.APIError{Method: http.MethodGet, Path: "/products/" + id, Status: http.StatusNotFound, Message: "Product not found"}
	}
	return p, nil
}

func catalogue() *stubProducts {
	return &stubProducts{products: map[string]storefront.Product{
		shirtID: {
			ID:    shirtID,
			Name:  "Linen Shirt",
			Price: 40,
			ColorVariants: []storefront.ColorVariant{
				{Color: storefront.Color{Name: "Blue", HexCode: "#00f"}},
				{Color: storefront.Color{Name: "Red", HexCode: "#f00"}, Images: []string{"red.jpg"}},
			},
		},
		scarfID: {
			ID:        scarfID,
			Name:      "Silk Scarf",
			BasePrice: 15,
			ColorVariants: []storefront.ColorVariant{
				{Color: storefront.Color{Name: "Écru", HexCode: "#888"}},
			},
		},
		hatID: {ID: hatID, Name: "Bucket Hat", Price: 20},
	}}
}

func newTestBuilder(t *testing.T, products ProductFetcher) *Builder {
	t.Helper()
	b, err := NewBuilder(BuilderDeps{Products: products, Concurrency: 2})
	require.NoError(t, err)
	return b
}

func TestNewBuilderRequiresProducts(t *testing.T) {
	_, err := NewBuilder(BuilderDeps{})
	assert.ErrorIs(t, err, ErrBuilderMissingProducts)
}

func TestBuildMatchesColorCaseInsensitively(t *testing.T) {
	b := newTestBuilder(t, catalogue())

	payload, err := b.Build(context.Background(), BuildRequest{
		Items: []cart.LineItem{
			{ProductID: shirtID, Name: "Shirt", Quantity: 2, Color: "red", Size: "M", Image: cart.PlaceholderImage},
			{ProductID: scarfID, Name: "Scarf", Quantity: 1, Color: "ÉCRU"},
		},
		Shipping: ShippingAddress{FullName: "Nadia Rahman", City: "Dhaka", Country: "Bangladesh"},
		Method:   payments.Method{Code: payments.CashOnDelivery},
		Details:  payments.Details{MobileNumber: "01712345678", TransactionID: "ignored"},
	})
	require.NoError(t, err)

	require.Len(t, payload.Items, 2)
	assert.Equal(t, PayloadItem{
		Product:      shirtID,
		Quantity:     2,
		ColorVariant: &ColorVariantRef{Color: ColorRef{Name: "Red", HexCode: "#f00"}},
		Size:         SizeRef{Name: "M", Quantity: 2},
	}, payload.Items[0])
	assert.Equal(t, "Écru", payload.Items[1].ColorVariant.Color.Name, "unicode case folding")
	assert.Nil(t, payload.PaymentDetails, "cash on delivery carries no details")

	require.Len(t, payload.Lines, 2)
	assert.Equal(t, Line{ProductID: shirtID, Name: "Linen Shirt", Price: 40, Quantity: 2, Image: "red.jpg", Color: "Red", Size: "M"}, payload.Lines[0])
	assert.Equal(t, 15.0, payload.Lines[1].Price, "base price fallback")
}

func TestBuildFallsBackToFirstVariant(t *testing.T) {
	b := newTestBuilder(t, catalogue())

	payload, err := b.Build(context.Background(), BuildRequest{
		Items:   []cart.LineItem{{ProductID: shirtID, Quantity: 2, Color: "Purple"}},
		Method:  payments.Method{Code: payments.BKash, MobileWallet: true},
		Details: payments.Details{MobileNumber: " 01712345678 ", TransactionID: "TX1234"},
	})
	require.NoError(t, err)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, "Blue", payload.Items[0].ColorVariant.Color.Name)
	assert.Equal(t, SizeRef{Name: "", Quantity: 2}, payload.Items[0].Size)
	require.NotNil(t, payload.PaymentDetails)
	assert.Equal(t, payments.Details{MobileNumber: "01712345678", TransactionID: "TX1234"}, *payload.PaymentDetails)
}

func TestBuildDropsInvalidAndUnavailableItems(t *testing.T) {
	products := catalogue()
	b := newTestBuilder(t, products)

	payload, err := b.Build(context.Background(), BuildRequest{
		Items: []cart.LineItem{
			{ProductID: "", Name: "No id"},
			{ProductID: "000000000000000000000000", Name: "Gone"},
			{ProductID: shirtID, Quantity: 1, Color: "Blue"},
		},
		Method: payments.Method{Code: payments.CashOnDelivery},
	})
	require.NoError(t, err)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, shirtID, payload.Items[0].Product)
	assert.ElementsMatch(t, []string{"000000000000000000000000", shirtID}, products.calls, "invalid ids are never fetched")
}

func TestBuildNoValidItems(t *testing.T) {
	b := newTestBuilder(t, catalogue())

	_, err := b.Build(context.Background(), BuildRequest{
		Items: []cart.LineItem{{Name: "A"}, {ProductID: "not-an-id"}},
	})
	assert.ErrorIs(t, err, ErrNoValidItems)

	_, err = b.Build(context.Background(), BuildRequest{
		Items: []cart.LineItem{{ProductID: "000000000000000000000000"}},
	})
	assert.ErrorIs(t, err, ErrNoValidItems, "all fetches failed")

	_, err = b.Build(context.Background(), BuildRequest{})
	assert.ErrorIs(t, err, ErrNoValidItems)
}

func TestBuildMissingColorVariantNamesProducts(t *testing.T) {
	b := newTestBuilder(t, catalogue())

	_, err := b.Build(context.Background(), BuildRequest{
		Items: []cart.LineItem{
			{ProductID: hatID, Quantity: 1},
			{ProductID: shirtID, Quantity: 1},
		},
	})
	var missing *MissingColorVariantError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"Bucket Hat"}, missing.Products)
	assert.Contains(t, err.Error(), "Bucket Hat")
}

func TestBuildHonoursCancellation(t *testing.T) {
	b := newTestBuilder(t, catalogue())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Build(ctx, BuildRequest{Items: []cart.LineItem{{ProductID: shirtID}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPayloadJSONShape(t *testing.T) {
	payload := Payload{
		Items: []PayloadItem{{
			Product:      shirtID,
			Quantity:     2,
			ColorVariant: &ColorVariantRef{Color: ColorRef{Name: "Red", HexCode: "#f00"}},
			Size:         SizeRef{Quantity: 2},
		}},
		ShippingAddress: ShippingAddress{FullName: "N"},
		PaymentMethod:   payments.CashOnDelivery,
		Lines:           []Line{{Name: "hidden"}},
		Notes:           "hidden",
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	keys := make([]string, 0, len(decoded))
	for k := range decoded {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{"items", "shippingAddress", "paymentMethod"}, keys)

	item := decoded["items"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{"color": map[string]any{"name": "Red", "hexCode": "#f00"}}, item["colorVariant"])
	assert.Equal(t, map[string]any{"name": "", "quantity": 2.0}, item["size"])
}

func TestShippingFromForm(t *testing.T) {
	addr := ShippingFromForm(clientstate.ShippingForm{
		FullName: " <b>Nadia</b> Rahman ",
		Email:    "nadia@example.com ",
		Address:  "12 Lake Road<script>alert(1)</script>",
		City:     "Dhaka",
	}, "")
	assert.Equal(t, "Nadia Rahman", addr.FullName)
	assert.Equal(t, "nadia@example.com", addr.Email)
	assert.Equal(t, "12 Lake Road", addr.Street)
	assert.Equal(t, DefaultCountry, addr.Country)

	addr = ShippingFromForm(clientstate.ShippingForm{Country: "Nepal"}, "Bangladesh")
	assert.Equal(t, "Nepal", addr.Country)
}
