package storefront

import (
	"finitefield.org/fashion-storefront/internal/shape"
)

// Product is the catalogue detail used to price and enrich order lines.
type Product struct {
	ID            string         `json:"_id"`
	Name          string         `json:"name"`
	Price         float64        `json:"price"`
	BasePrice     float64        `json:"basePrice"`
	Images        []string       `json:"images,omitempty"`
	ColorVariants []ColorVariant `json:"colorVariants"`
}

// ColorVariant is one colourway of a product.
type ColorVariant struct {
	Color  Color    `json:"color"`
	Sizes  []Size   `json:"sizes,omitempty"`
	Images []string `json:"images,omitempty"`
}

// Color names a colourway.
type Color struct {
	Name    string `json:"name"`
	HexCode string `json:"hexCode"`
}

// Size is a size option and its stock.
type Size struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// UnitPrice is the selling price, falling back to the base price.
func (p Product) UnitPrice() float64 {
	if p.Price > 0 {
		return p.Price
	}
	return p.BasePrice
}

// Image returns the first product or variant image.
func (p Product) Image() string {
	if len(p.Images) > 0 {
		return p.Images[0]
	}
	for _, variant := range p.ColorVariants {
		if len(variant.Images) > 0 {
			return variant.Images[0]
		}
	}
	return ""
}

// ParseProduct reads product detail from any of the envelopes the API uses
// (`{data:{product}}`, `{data}`, `{product}`, or the bare object).
func ParseProduct(raw any) (Product, bool) {
	root, ok := shape.AsRecord(raw)
	if !ok {
		return Product{}, false
	}
	rec, ok := shape.FirstRecord(root,
		shape.Field("data", "product"),
		shape.Field("product"),
		shape.Field("data"),
	)
	if !ok {
		rec = root
	}

	p := Product{
		ID:   shape.FirstString(rec, shape.Field("_id"), shape.Field("id")),
		Name: shape.FirstString(rec, shape.Field("name"), shape.Field("title")),
	}
	if p.ID == "" && p.Name == "" {
		return Product{}, false
	}
	p.Price, _ = shape.FirstNumber(rec, shape.Field("price"), shape.Field("salePrice"))
	p.BasePrice, _ = shape.FirstNumber(rec, shape.Field("basePrice"))
	p.Images = stringList(rec["images"])

	if variants, ok := rec["colorVariants"].([]any); ok {
		for _, raw := range variants {
			vrec, ok := shape.AsRecord(raw)
			if !ok {
				continue
			}
			p.ColorVariants = append(p.ColorVariants, parseVariant(vrec))
		}
	}
	return p, true
}

func parseVariant(rec shape.Record) ColorVariant {
	v := ColorVariant{
		Color: Color{
			Name:    shape.FirstString(rec, shape.Field("color", "name"), shape.Field("color"), shape.Field("name")),
			HexCode: shape.FirstString(rec, shape.Field("color", "hexCode"), shape.Field("hexCode")),
		},
		Images: stringList(rec["images"]),
	}
	if sizes, ok := rec["sizes"].([]any); ok {
		for _, raw := range sizes {
			switch typed := raw.(type) {
			case string:
				v.Sizes = append(v.Sizes, Size{Name: typed})
			case map[string]any:
				size := Size{Name: shape.FirstString(typed, shape.Field("name"), shape.Field("size"))}
				if qty, ok := shape.FirstNumber(typed, shape.Field("quantity"), shape.Field("stock")); ok {
					size.Quantity = int(qty)
				}
				v.Sizes = append(v.Sizes, size)
			}
		}
	}
	return v
}

func stringList(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, elem := range list {
		switch typed := elem.(type) {
		case string:
			if typed != "" {
				out = append(out, typed)
			}
		case map[string]any:
			if url := shape.FirstString(typed, shape.Field("url")); url != "" {
				out = append(out, url)
			}
		}
	}
	return out
}
