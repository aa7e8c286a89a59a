package cart

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"finitefield.org/fashion-storefront/internal/shape"
)

// Resolution describes where a product id was found on a cart entry.
type Resolution struct {
	ID     string
	Field  string
	Legacy bool
}

type idCandidate struct {
	field   string
	extract shape.Extractor
	legacy  bool
}

// Candidates are probed strictly in this order. The bare `_id` comes last because it is usually
// the cart entry's own identifier rather than the product's.
var idCandidates = []idCandidate{
	{field: "product._id", extract: shape.Field("product", "_id")},
	{field: "product.id", extract: shape.Field("product", "id")},
	{field: "product.productId", extract: shape.Field("product", "productId")},
	{field: "productId", extract: shape.Field("productId")},
	{field: "product", extract: shape.Field("product")},
	{field: "id", extract: shape.Field("id")},
	{field: "product_id", extract: shape.Field("product_id")},
	{field: "productID", extract: shape.Field("productID")},
	{field: "_id", extract: shape.Field("_id"), legacy: true},
}

// IsProductID reports whether s is a 24 character lowercase hexadecimal object id.
func IsProductID(s string) bool {
	if len(s) != 24 {
		return false
	}
	oid, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return false
	}
	return oid.Hex() == s
}

// ResolveProductID probes a cart entry for the first candidate field holding a valid product id.
func ResolveProductID(item shape.Record) (Resolution, bool) {
	if item == nil {
		return Resolution{}, false
	}
	for _, candidate := range idCandidates {
		value, ok := candidate.extract(item)
		if !ok {
			continue
		}
		s, ok := value.(string)
		if !ok || !IsProductID(s) {
			continue
		}
		return Resolution{ID: s, Field: candidate.field, Legacy: candidate.legacy}, true
	}
	return Resolution{}, false
}

// ExtractProductID returns the product id of a cart entry, or ("", false) when none of the
// candidate fields holds a valid id.
func ExtractProductID(item shape.Record) (string, bool) {
	res, ok := ResolveProductID(item)
	return res.ID, ok
}
