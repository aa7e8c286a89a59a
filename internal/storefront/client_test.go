package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finitefield.org/fashion-storefront/internal/platform/requestctx"
	"finitefield.org/fashion-storefront/internal/shape"
)

const testProductID = "64b7f0c2a1b2c3d4e5f60718"

func TestClientForwardsBearerAndIdempotencyKey(t *testing.T) {
	var gotAuth, gotKey, gotContentType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/orders", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"_id":"abc","total":12.5}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL + "/api/")
	ctx := requestctx.WithBearerToken(context.Background(), "tok-123")

	raw, err := client.CreateOrder(ctx, map[string]any{"items": []any{}}, "key-1")
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "key-1", gotKey)
	assert.Equal(t, "application/json", gotContentType)
	assert.Contains(t, gotBody, "items")

	rec, ok := shape.AsRecord(raw)
	require.True(t, ok)
	assert.Equal(t, "abc", shape.FirstString(rec, shape.Field("data", "_id")))
	assert.Equal(t, json.Number("12.5"), rec["data"].(map[string]any)["total"])
}

func TestClientErrorTranslation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/products/" + testProductID:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"success":false,"message":"Product not found"}`))
		case "/orders":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"Product not found: 64b7"}}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	ctx := context.Background()

	_, err := client.GetProduct(ctx, testProductID)
	require.Error(t, err)
	assert.True(t, IsProductNotFound(err))
	assert.Equal(t, http.StatusNotFound, StatusCode(err))

	_, err = client.CreateOrder(ctx, map[string]any{}, "")
	require.Error(t, err)
	assert.True(t, IsProductNotFound(err), "message-based detection")

	_, err = client.FetchCart(ctx)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.Unavailable())
	assert.Equal(t, "boom", apiErr.Message)
	assert.False(t, IsProductNotFound(err))
}

func TestClientTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(url, WithTimeout(time.Second))
	_, err := client.FetchCart(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 0, apiErr.Status)
	assert.True(t, apiErr.Unavailable())
	assert.NotNil(t, errors.Unwrap(err))
}

func TestGetProductSharesConcurrentLookups(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"data":{"product":{"_id":"` + testProductID + `","name":"Shirt","price":40,
			"colorVariants":[{"color":{"name":"Red","hexCode":"#f00"},"sizes":[{"name":"M","quantity":2}],"images":["red.jpg"]}]}}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	var wg sync.WaitGroup
	results := make([]Product, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := client.GetProduct(context.Background(), testProductID)
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, p := range results {
		assert.Equal(t, "Shirt", p.Name)
		assert.Equal(t, 40.0, p.UnitPrice())
		require.Len(t, p.ColorVariants, 1)
		assert.Equal(t, Color{Name: "Red", HexCode: "#f00"}, p.ColorVariants[0].Color)
		assert.Equal(t, []Size{{Name: "M", Quantity: 2}}, p.ColorVariants[0].Sizes)
		assert.Equal(t, "red.jpg", p.Image())
	}
}

func TestGetProductSharingIsPerCallerAndSurvivesCancellation(t *testing.T) {
	var (
		mu     sync.Mutex
		tokens []string
	)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		tokens = append(tokens, r.Header.Get("Authorization"))
		mu.Unlock()
		<-release
		_, _ = w.Write([]byte(`{"data":{"_id":"` + testProductID + `","name":"Shirt","price":40}}`))
	}))
	defer srv.Close()
	client := NewClient(srv.URL)

	cancelled, cancel := context.WithCancel(requestctx.WithBearerToken(context.Background(), "tok-a"))
	sameCaller := requestctx.WithBearerToken(context.Background(), "tok-a")
	otherCaller := requestctx.WithBearerToken(context.Background(), "tok-b")

	errs := make(chan error, 1)
	go func() {
		_, err := client.GetProduct(cancelled, testProductID)
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)

	var wg sync.WaitGroup
	results := make([]Product, 2)
	for i, ctx := range []context.Context{sameCaller, otherCaller} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := client.GetProduct(ctx, testProductID)
			assert.NoError(t, err)
			results[i] = p
		}()
	}
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)
	close(release)
	wg.Wait()

	assert.Equal(t, "Shirt", results[0].Name, "waiter survives the first caller's cancellation")
	assert.Equal(t, "Shirt", results[1].Name)
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"Bearer tok-a", "Bearer tok-b"}, tokens, "one request per caller token")
}

func TestParseProductEnvelopes(t *testing.T) {
	bare := map[string]any{"_id": testProductID, "name": "Scarf", "basePrice": json.Number("15")}
	shapes := map[string]any{
		"bare":         bare,
		"data":         map[string]any{"data": bare},
		"product":      map[string]any{"product": bare},
		"data.product": map[string]any{"success": true, "data": map[string]any{"product": bare}},
	}
	for name, raw := range shapes {
		t.Run(name, func(t *testing.T) {
			p, ok := ParseProduct(raw)
			require.True(t, ok)
			assert.Equal(t, testProductID, p.ID)
			assert.Equal(t, 15.0, p.UnitPrice())
			assert.Empty(t, p.ColorVariants)
		})
	}

	_, ok := ParseProduct(map[string]any{"success": false})
	assert.False(t, ok)
	_, ok = ParseProduct("nope")
	assert.False(t, ok)
}

func TestDemoClient(t *testing.T) {
	client := NewClient("")
	require.True(t, client.Demo())
	ctx := context.Background()

	raw, err := client.FetchCart(ctx)
	require.NoError(t, err)
	items, ok := shape.FirstList(raw.(map[string]any), shape.Field("data", "items"))
	require.True(t, ok)
	assert.Len(t, items, 2)

	p, err := client.GetProduct(ctx, DemoLinenShirtID)
	require.NoError(t, err)
	assert.Equal(t, "Linen Camp Shirt", p.Name)

	_, err = client.GetProduct(ctx, "000000000000000000000000")
	assert.True(t, IsProductNotFound(err))

	created, err := client.CreateOrder(ctx, map[string]any{
		"items": []any{map[string]any{"product": DemoSilkScarfID, "quantity": 2}},
	}, "")
	require.NoError(t, err)
	id := shape.FirstString(created.(map[string]any), shape.Field("data", "order", "_id"))
	require.NotEmpty(t, id)

	fetched, err := client.GetOrder(ctx, id)
	require.NoError(t, err)
	subtotal, ok := shape.FirstNumber(fetched.(map[string]any), shape.Field("data", "subtotal"))
	require.True(t, ok)
	assert.Equal(t, 2400.0, subtotal)

	assert.Error(t, client.Delete(ctx, "/cart"))
	require.NoError(t, client.Delete(ctx, "/users/cart"))
	raw, err = client.FetchCart(ctx)
	require.NoError(t, err)
	items, _ = shape.FirstList(raw.(map[string]any), shape.Field("data", "items"))
	assert.Empty(t, items)
}
