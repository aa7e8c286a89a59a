package storefront

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"finitefield.org/fashion-storefront/internal/shape"
)

// Demo catalogue identifiers, stable so links in local development keep working.
const (
	DemoLinenShirtID = "66a1f0c2b3d4e5f601234567"
	DemoSilkScarfID  = "66a1f0c2b3d4e5f601234568"
)

type fakeBackend struct {
	mu       sync.Mutex
	products map[string]Product
	items    []any
	orders   map[string]shape.Record
}

func newFakeBackend() *fakeBackend {
	products := map[string]Product{
		DemoLinenShirtID: {
			ID:        DemoLinenShirtID,
			Name:      "Linen Camp Shirt",
			Price:     2450,
			BasePrice: 2800,
			ColorVariants: []ColorVariant{
				{Color: Color{Name: "Sand", HexCode: "#d8c8a8"}, Sizes: []Size{{Name: "M", Quantity: 8}, {Name: "L", Quantity: 5}}, Images: []string{"/images/demo/linen-sand.jpg"}},
				{Color: Color{Name: "Indigo", HexCode: "#3f4a7a"}, Sizes: []Size{{Name: "M", Quantity: 3}}, Images: []string{"/images/demo/linen-indigo.jpg"}},
			},
		},
		DemoSilkScarfID: {
			ID:    DemoSilkScarfID,
			Name:  "Printed Silk Scarf",
			Price: 1200,
			ColorVariants: []ColorVariant{
				{Color: Color{Name: "Rose", HexCode: "#d87a8c"}, Images: []string{"/images/demo/scarf-rose.jpg"}},
			},
		},
	}
	return &fakeBackend{
		products: products,
		items:    demoCartItems(),
		orders:   make(map[string]shape.Record),
	}
}

func demoCartItems() []any {
	return []any{
		map[string]any{
			"_id":      primitive.NewObjectID().Hex(),
			"product":  map[string]any{"_id": DemoLinenShirtID, "name": "Linen Camp Shirt", "price": 2450.0, "images": []any{"/images/demo/linen-sand.jpg"}},
			"quantity": 1.0,
			"color":    "Sand",
			"size":     map[string]any{"name": "M"},
		},
		map[string]any{
			"_id":      primitive.NewObjectID().Hex(),
			"product":  DemoSilkScarfID,
			"name":     "Printed Silk Scarf",
			"price":    1200.0,
			"quantity": 2.0,
			"color":    "rose",
		},
	}
}

func (f *fakeBackend) cart() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]any, len(f.items))
	copy(items, f.items)
	return map[string]any{"success": true, "data": map[string]any{"items": items}}
}

func (f *fakeBackend) product(id string) (Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return Product{}, &APIError{Method: http.MethodGet, Path: "/products/" + id, Status: http.StatusNotFound, Message: "Product not found"}
	}
	return p, nil
}

func (f *fakeBackend) createOrder(payload any) (any, error) {
	doc, err := shape.Normalize(payload)
	if err != nil {
		return nil, &APIError{Method: http.MethodPost, Path: "/orders", Status: http.StatusBadRequest, Message: err.Error()}
	}
	rec, ok := shape.AsRecord(doc)
	if !ok {
		return nil, &APIError{Method: http.MethodPost, Path: "/orders", Status: http.StatusBadRequest, Message: "invalid order payload"}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	items, _ := rec["items"].([]any)
	if len(items) == 0 {
		return nil, &APIError{Method: http.MethodPost, Path: "/orders", Status: http.StatusBadRequest, Message: "order has no items"}
	}
	var subtotal float64
	for _, raw := range items {
		item, ok := shape.AsRecord(raw)
		if !ok {
			continue
		}
		id := shape.FirstString(item, shape.Field("product"))
		p, ok := f.products[id]
		if !ok {
			return nil, &APIError{Method: http.MethodPost, Path: "/orders", Status: http.StatusBadRequest, Message: "Product not found: " + id}
		}
		qty, _ := shape.FirstNumber(item, shape.Field("quantity"))
		item["price"] = p.UnitPrice()
		item["name"] = p.Name
		item["image"] = p.Image()
		subtotal += p.UnitPrice() * qty
	}

	order := shape.Record{}
	for k, v := range rec {
		order[k] = v
	}
	order["_id"] = primitive.NewObjectID().Hex()
	order["status"] = "pending"
	order["createdAt"] = time.Now().UTC().Format(time.RFC3339)
	order["subtotal"] = subtotal
	f.orders[order["_id"].(string)] = order

	return map[string]any{"success": true, "data": map[string]any{"order": order}}, nil
}

func (f *fakeBackend) order(id string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, &APIError{Method: http.MethodGet, Path: "/orders/" + id, Status: http.StatusNotFound, Message: "Order not found"}
	}
	return map[string]any{"success": true, "data": order}, nil
}

// Only the canonical cart endpoint exists on the demo backend.
func (f *fakeBackend) delete(path string) error {
	if strings.TrimRight(path, "/") != "/users/cart" {
		return &APIError{Method: http.MethodDelete, Path: path, Status: http.StatusNotFound, Message: "route not found"}
	}
	f.mu.Lock()
	f.items = nil
	f.mu.Unlock()
	return nil
}
