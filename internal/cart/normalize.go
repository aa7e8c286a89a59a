package cart

import (
	"go.uber.org/zap"

	"finitefield.org/fashion-storefront/internal/shape"
)

const (
	// PlaceholderImage is shown for cart lines without any product imagery.
	PlaceholderImage = "/images/placeholder-product.png"
	// UnknownProductName labels lines whose name could not be resolved.
	UnknownProductName = "Unknown Product"
)

// LineItem is one cart line in the canonical shape used by checkout. ProductID is empty when no
// valid product id could be resolved.
type LineItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Image     string  `json:"image"`
	Color     string  `json:"color"`
	Size      string  `json:"size"`
}

// HasProductID reports whether the line can be ordered.
func (l LineItem) HasProductID() bool {
	return l.ProductID != ""
}

// Normalizer converts cart responses into line items.
type Normalizer struct {
	Logger *zap.Logger
	// StrictProductIDs discards ids that were only found on the entry's own `_id` field.
	StrictProductIDs bool
}

// NormalizeCart converts any cart response shape into line items without logging.
func NormalizeCart(raw any) []LineItem {
	return Normalizer{}.Normalize(raw)
}

var (
	listLocations = []shape.Extractor{
		shape.Field("data"),
		shape.Field("data", "items"),
		shape.Field("data", "cart", "items"),
		shape.Field("data", "products"),
		shape.Field("items"),
		shape.Field("cart", "items"),
	}

	nameFields = []shape.Extractor{
		shape.Field("product", "name"),
		shape.Field("name"),
		shape.Field("productName"),
		shape.Field("title"),
		shape.Field("product", "title"),
	}
	priceFields = []shape.Extractor{
		shape.Field("price"),
		shape.Field("product", "price"),
		shape.Field("product", "basePrice"),
		shape.Field("basePrice"),
		shape.Field("unitPrice"),
	}
	quantityFields = []shape.Extractor{
		shape.Field("quantity"),
		shape.Field("qty"),
		shape.Field("count"),
	}
	imageFields = []shape.Extractor{
		shape.Field("image"),
		shape.Field("product", "image"),
		shape.Index(0, "product", "images"),
		shape.Index(0, "images"),
		shape.Field("product", "imageUrl"),
		shape.Field("imageUrl"),
		shape.Field("colorVariant", "images"),
	}
	colorFields = []shape.Extractor{
		shape.Field("color"),
		shape.Field("color", "name"),
		shape.Field("selectedColor"),
		shape.Field("colorVariant", "color", "name"),
		shape.Field("colorVariant", "name"),
		shape.Field("product", "color"),
	}
	sizeFields = []shape.Extractor{
		shape.Field("size", "name"),
		shape.Field("size"),
		shape.Field("selectedSize"),
	}

	// Keys that mark an object as a cart entry when the response carries no list.
	itemKeys = []string{"product", "productId", "product_id", "productID", "name", "quantity", "price"}
)

// Normalize converts any cart response shape into line items. It never fails; an unrecognised
// response yields an empty cart.
func (n Normalizer) Normalize(raw any) []LineItem {
	logger := n.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	doc, err := shape.Normalize(raw)
	if err != nil {
		logger.Warn("cart response could not be decoded", zap.Error(err))
		return []LineItem{}
	}
	entries := rawEntries(doc)
	items := make([]LineItem, 0, len(entries))
	for idx, entry := range entries {
		rec, ok := shape.AsRecord(entry)
		if !ok {
			logger.Warn("cart entry is not an object", zap.Int("index", idx))
			continue
		}
		items = append(items, n.normalizeEntry(logger, idx, rec))
	}
	return items
}

func (n Normalizer) normalizeEntry(logger *zap.Logger, idx int, rec shape.Record) LineItem {
	item := LineItem{
		Name:     shape.FirstString(rec, nameFields...),
		Image:    firstImage(rec),
		Color:    shape.FirstString(rec, colorFields...),
		Size:     shape.FirstString(rec, sizeFields...),
		Quantity: 1,
	}
	if item.Name == "" {
		item.Name = UnknownProductName
	}
	if price, ok := shape.FirstNumber(rec, priceFields...); ok && price >= 0 {
		item.Price = price
	}
	if qty, ok := shape.FirstNumber(rec, quantityFields...); ok && int(qty) >= 1 {
		item.Quantity = int(qty)
	}

	res, ok := ResolveProductID(rec)
	switch {
	case !ok:
		logger.Warn("cart entry has no valid product id", zap.Int("index", idx), zap.String("name", item.Name))
	case res.Legacy && n.StrictProductIDs:
		logger.Warn("cart entry product id only found on entry _id; discarded",
			zap.Int("index", idx), zap.String("id", res.ID))
	case res.Legacy:
		logger.Warn("cart entry product id resolved from entry _id",
			zap.Int("index", idx), zap.String("id", res.ID))
		item.ProductID = res.ID
	default:
		item.ProductID = res.ID
	}
	return item
}

func rawEntries(raw any) []any {
	if list, ok := raw.([]any); ok {
		return list
	}
	rec, ok := shape.AsRecord(raw)
	if !ok || len(rec) == 0 {
		return nil
	}
	if list, ok := shape.FirstList(rec, listLocations...); ok {
		return list
	}

	single := rec
	if data, ok := shape.AsRecord(rec["data"]); ok {
		single = data
	} else if _, present := rec["data"]; present {
		return nil
	}
	if looksLikeItem(single) {
		return []any{single}
	}
	return nil
}

func looksLikeItem(rec shape.Record) bool {
	for _, key := range itemKeys {
		if _, ok := shape.Lookup(rec, key); ok {
			return true
		}
	}
	return false
}

func firstImage(rec shape.Record) string {
	value, ok := shape.First(rec, func(v any) bool { return imageURL(v) != "" }, imageFields...)
	if !ok {
		return PlaceholderImage
	}
	return imageURL(value)
}

// imageURL accepts a URL string, an object with a url field, or a list of either.
func imageURL(v any) string {
	switch typed := v.(type) {
	case string:
		s, _ := shape.AsString(typed)
		return s
	case map[string]any:
		return shape.FirstString(typed, shape.Field("url"), shape.Field("src"), shape.Field("secure_url"))
	case []any:
		for _, elem := range typed {
			if url := imageURL(elem); url != "" {
				return url
			}
		}
	}
	return ""
}
