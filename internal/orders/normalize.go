package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"finitefield.org/fashion-storefront/internal/cart"
	"finitefield.org/fashion-storefront/internal/clientstate"
	"finitefield.org/fashion-storefront/internal/platform/textutil"
	"finitefield.org/fashion-storefront/internal/shape"
)

const (
	// DefaultTaxRate applies when the order carries no tax amount.
	DefaultTaxRate = 0.05
	defaultStatus  = "pending"
	fallbackName   = "Item"
)

// OrderView is the display model of an order. Every field is populated, with defaults where the
// source had nothing.
type OrderView struct {
	ID              string     `json:"id"`
	OrderNumber     string     `json:"orderNumber"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	Customer        Customer   `json:"customer"`
	ShippingAddress Address    `json:"shippingAddress"`
	Payment         Payment    `json:"payment"`
	Items           []ItemView `json:"items"`
	Subtotal        float64    `json:"subtotal"`
	Shipping        float64    `json:"shipping"`
	Tax             float64    `json:"tax"`
	Discount        float64    `json:"discount"`
	Total           float64    `json:"total"`
	Notes           string     `json:"notes"`
}

// Customer is the order's contact.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Address is the delivery address shown on an order.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

// Payment summarises how the order is paid.
type Payment struct {
	Method        string `json:"method"`
	MobileNumber  string `json:"mobileNumber"`
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
}

// ItemView is one order line for display.
type ItemView struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Image    string  `json:"image"`
	Color    string  `json:"color"`
	Size     string  `json:"size"`
	Subtotal float64 `json:"subtotal"`
}

// Normalizer converts order responses into OrderView. Caches are optional; a nil cache is skipped.
type Normalizer struct {
	Forms          clientstate.FormCache
	Profiles       clientstate.ProfileSource
	Numbers        clientstate.OrderNumbers
	TaxRate        float64
	DefaultCountry string
	Clock          func() time.Time
	Logger         *zap.Logger
}

// NormalizeOrder converts an order response into a view without any local caches.
func NormalizeOrder(raw any) OrderView {
	return Normalizer{}.Normalize(context.Background(), raw)
}

var (
	orderEnvelopes = []shape.Extractor{
		shape.Field("data", "order"),
		shape.Field("order"),
		shape.Field("data"),
	}
	orderIDFields = []shape.Extractor{
		shape.Field("_id"),
		shape.Field("id"),
		shape.Field("orderId"),
	}
	orderNumberFields = []shape.Extractor{
		shape.Field("orderNumber"),
		shape.Field("order_number"),
		shape.Field("orderNo"),
		shape.Field("number"),
	}
	createdAtFields = []shape.Extractor{
		shape.Field("createdAt"),
		shape.Field("created_at"),
		shape.Field("orderDate"),
		shape.Field("date"),
	}
	itemListFields = []shape.Extractor{
		shape.Field("items"),
		shape.Field("orderItems"),
		shape.Field("products"),
	}

	itemIDFields = []shape.Extractor{
		shape.Field("product", "_id"),
		shape.Field("product", "id"),
		shape.Field("productId"),
		shape.Field("product"),
		shape.Field("id"),
		shape.Field("_id"),
	}
	itemNameFields = []shape.Extractor{
		shape.Field("name"),
		shape.Field("productName"),
		shape.Field("title"),
		shape.Field("product", "name"),
		shape.Field("product", "title"),
	}
	itemPriceFields = []shape.Extractor{
		shape.Field("price"),
		shape.Field("unitPrice"),
		shape.Field("product", "price"),
		shape.Field("product", "basePrice"),
	}
	itemImageFields = []shape.Extractor{
		shape.Field("image"),
		shape.Field("imageUrl"),
		shape.Index(0, "images"),
		shape.Field("product", "image"),
		shape.Index(0, "product", "images"),
		shape.Index(0, "colorVariant", "images"),
	}
	itemColorFields = []shape.Extractor{
		shape.Field("color"),
		shape.Field("color", "name"),
		shape.Field("colorVariant", "color", "name"),
		shape.Field("colorVariant", "name"),
		shape.Field("selectedColor"),
	}
	itemSizeFields = []shape.Extractor{
		shape.Field("size", "name"),
		shape.Field("size"),
		shape.Field("selectedSize"),
	}
)

// Normalize converts any order response shape into an OrderView. Malformed input yields a view
// of defaults; it never fails.
func (n Normalizer) Normalize(ctx context.Context, raw any) OrderView {
	logger := n.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	root, rec := orderRecord(raw)
	if rec == nil {
		logger.Warn("order response is not an object; using defaults")
		rec = shape.Record{}
		root = rec
	}

	view := OrderView{
		ID:     orderID(root, rec),
		Status: strings.ToLower(textutil.FirstNonEmpty(shape.FirstString(rec, shape.Field("status"), shape.Field("orderStatus")), defaultStatus)),
		Notes:  textutil.PlainText(shape.FirstString(rec, shape.Field("notes"), shape.Field("note"), shape.Field("shippingAddress", "notes"))),
	}

	createdAt, sourced := parseCreatedAt(rec)
	if !sourced {
		createdAt = n.now()
	}
	view.CreatedAt = createdAt.UTC().Round(0)
	view.OrderNumber = n.orderNumber(ctx, logger, rec, view.ID, view.CreatedAt, sourced)

	centsOrder := shape.AsBool(rec["priceInCents"])
	lines, _ := shape.FirstList(rec, itemListFields...)
	view.Items = make([]ItemView, 0, len(lines))
	itemsTotal := decimal.Zero
	for _, raw := range lines {
		item, ok := shape.AsRecord(raw)
		if !ok {
			continue
		}
		iv, subtotal := normalizeItem(item, centsOrder)
		itemsTotal = itemsTotal.Add(subtotal)
		view.Items = append(view.Items, iv)
	}

	n.applyTotals(&view, rec, itemsTotal)
	n.applyContact(ctx, logger, &view, rec)
	view.Payment = normalizePayment(rec)
	return view
}

// ExtractOrderID returns the order id from a creation or detail response, probing `_id`, `id`,
// then `orderId`.
func ExtractOrderID(raw any) string {
	root, rec := orderRecord(raw)
	if rec == nil {
		return ""
	}
	return orderID(root, rec)
}

// OrderRecord unwraps the order object from a response envelope.
func OrderRecord(raw any) (shape.Record, bool) {
	_, rec := orderRecord(raw)
	return rec, rec != nil
}

func orderRecord(raw any) (root, rec shape.Record) {
	doc, err := shape.Normalize(raw)
	if err != nil {
		return nil, nil
	}
	root, ok := shape.AsRecord(doc)
	if !ok {
		return nil, nil
	}
	if inner, ok := shape.FirstRecord(root, orderEnvelopes...); ok {
		return root, inner
	}
	return root, root
}

func orderID(root, rec shape.Record) string {
	if id := shape.FirstString(rec, orderIDFields...); id != "" {
		return id
	}
	return shape.FirstString(root, orderIDFields...)
}

func (n Normalizer) now() time.Time {
	if n.Clock != nil {
		return n.Clock()
	}
	return time.Now()
}

func (n Normalizer) orderNumber(ctx context.Context, logger *zap.Logger, rec shape.Record, id string, createdAt time.Time, sourced bool) string {
	if number := WithPrefix(shape.FirstString(rec, orderNumberFields...)); number != "" {
		return number
	}
	if n.Numbers != nil && id != "" {
		number, err := n.Numbers.Lookup(ctx, id)
		switch {
		case err == nil && number != "":
			return WithPrefix(number)
		case err != nil && !errors.Is(err, clientstate.ErrNotFound):
			logger.Warn("order number lookup failed", zap.String("order_id", id), zap.Error(err))
		}
	}

	number := SynthesizeNumber(id, createdAt, sourced)
	if n.Numbers != nil && id != "" {
		stored, err := n.Numbers.Remember(ctx, id, number)
		if err != nil {
			logger.Warn("order number could not be stored", zap.String("order_id", id), zap.Error(err))
		} else if stored != "" {
			number = WithPrefix(stored)
		}
	}
	return number
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseCreatedAt(rec shape.Record) (time.Time, bool) {
	value, ok := shape.First(rec, nil, createdAtFields...)
	if !ok {
		return time.Time{}, false
	}
	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		return time.Time{}, false
	}
	if f, ok := shape.AsFloat(value); ok && f > 0 {
		if f > 1e12 {
			return time.UnixMilli(int64(f)), true
		}
		return time.Unix(int64(f), 0), true
	}
	return time.Time{}, false
}

func normalizeItem(item shape.Record, centsOrder bool) (ItemView, decimal.Decimal) {
	iv := ItemView{
		ID:       shape.FirstString(item, itemIDFields...),
		Name:     textutil.FirstNonEmpty(shape.FirstString(item, itemNameFields...), fallbackName),
		Image:    shape.FirstString(item, itemImageFields...),
		Color:    shape.FirstString(item, itemColorFields...),
		Size:     shape.FirstString(item, itemSizeFields...),
		Quantity: 1,
	}
	if iv.Image == "" {
		iv.Image = cart.PlaceholderImage
	}
	if qty, ok := shape.FirstNumber(item, shape.Field("quantity"), shape.Field("qty")); ok && int(qty) >= 1 {
		iv.Quantity = int(qty)
	}

	// priceInCents is either a flag (bool or "true"/"false") or the price itself in cents.
	price := decimal.Zero
	flag, flagged := item["priceInCents"]
	if cents, ok := shape.AsFloat(flag); ok && flagged {
		price = decimal.NewFromFloat(cents).Div(decimal.NewFromInt(100))
	} else {
		if p, ok := shape.FirstNumber(item, itemPriceFields...); ok {
			price = decimal.NewFromFloat(p)
		}
		inCents := centsOrder
		if flagged && flag != nil {
			inCents = shape.AsBool(flag)
		}
		if inCents {
			price = price.Div(decimal.NewFromInt(100))
		}
	}
	if price.IsNegative() {
		price = decimal.Zero
	}

	subtotal := price.Mul(decimal.NewFromInt(int64(iv.Quantity))).Round(2)
	iv.Price = price.Round(2).InexactFloat64()
	iv.Subtotal = subtotal.InexactFloat64()
	return iv, subtotal
}

// amount reads an explicit money field. A field named in cents is divided by 100.
func amount(rec shape.Record, centsField string, fields ...string) (decimal.Decimal, bool) {
	if cents, ok := shape.FirstNumber(rec, shape.Field(centsField)); ok {
		return decimal.NewFromFloat(cents).Div(decimal.NewFromInt(100)), true
	}
	extractors := make([]shape.Extractor, 0, len(fields))
	for _, field := range fields {
		extractors = append(extractors, shape.Field(field))
	}
	if value, ok := shape.FirstNumber(rec, extractors...); ok {
		return decimal.NewFromFloat(value), true
	}
	return decimal.Zero, false
}

func (n Normalizer) applyTotals(view *OrderView, rec shape.Record, itemsTotal decimal.Decimal) {
	rate := n.TaxRate
	if rate <= 0 {
		rate = DefaultTaxRate
	}

	subtotal, ok := amount(rec, "subtotalInCents", "subtotal", "subTotal", "itemsTotal")
	if !ok {
		subtotal = itemsTotal
	}
	tax, ok := amount(rec, "taxInCents", "tax", "taxAmount")
	if !ok {
		tax = subtotal.Mul(decimal.NewFromFloat(rate))
	}
	shipping, _ := amount(rec, "shippingInCents", "shipping", "shippingCost", "shippingFee")
	discount, _ := amount(rec, "discountInCents", "discount", "discountAmount")
	total, ok := amount(rec, "totalInCents", "total", "totalAmount", "totalPrice", "grandTotal")
	if !ok {
		total = subtotal.Add(tax).Add(shipping).Sub(discount)
	}

	view.Subtotal = subtotal.Round(2).InexactFloat64()
	view.Tax = tax.Round(2).InexactFloat64()
	view.Shipping = shipping.Round(2).InexactFloat64()
	view.Discount = discount.Round(2).InexactFloat64()
	view.Total = total.Round(2).InexactFloat64()
}

type contactFallback struct {
	form    clientstate.ShippingForm
	profile clientstate.Profile
}

func (n Normalizer) fallback(ctx context.Context, logger *zap.Logger) contactFallback {
	var fb contactFallback
	if n.Forms != nil {
		form, err := n.Forms.Get(ctx)
		switch {
		case err == nil:
			fb.form = form.Trimmed()
		case !errors.Is(err, clientstate.ErrNotFound):
			logger.Warn("checkout form cache unavailable", zap.Error(err))
		}
	}
	if n.Profiles != nil {
		profile, err := n.Profiles.Profile(ctx)
		switch {
		case err == nil:
			fb.profile = profile
		case !errors.Is(err, clientstate.ErrNotFound):
			logger.Warn("profile unavailable", zap.Error(err))
		}
	}
	return fb
}

func (n Normalizer) applyContact(ctx context.Context, logger *zap.Logger, view *OrderView, rec shape.Record) {
	addr, _ := shape.FirstRecord(rec,
		shape.Field("shippingAddress"),
		shape.Field("shipping"),
		shape.Field("address"),
		shape.Field("deliveryAddress"),
	)
	customer, _ := shape.FirstRecord(rec, shape.Field("customer"), shape.Field("user"))

	view.Customer = Customer{
		Name: textutil.PlainText(textutil.FirstNonEmpty(
			shape.FirstString(addr, shape.Field("fullName"), shape.Field("name")),
			shape.FirstString(customer, shape.Field("name"), shape.Field("fullName")),
			shape.FirstString(rec, shape.Field("customerName")),
		)),
		Email: textutil.FirstNonEmpty(
			shape.FirstString(addr, shape.Field("email")),
			shape.FirstString(customer, shape.Field("email")),
			shape.FirstString(rec, shape.Field("customerEmail"), shape.Field("email")),
		),
		Phone: textutil.FirstNonEmpty(
			shape.FirstString(addr, shape.Field("phone")),
			shape.FirstString(customer, shape.Field("phone")),
			shape.FirstString(rec, shape.Field("customerPhone"), shape.Field("phone")),
		),
	}
	view.ShippingAddress = Address{
		Street:  textutil.PlainText(shape.FirstString(addr, shape.Field("street"), shape.Field("address"), shape.Field("addressLine1"), shape.Field("line1"))),
		City:    textutil.PlainText(shape.FirstString(addr, shape.Field("city"))),
		State:   textutil.PlainText(shape.FirstString(addr, shape.Field("state"), shape.Field("region"))),
		ZipCode: shape.FirstString(addr, shape.Field("zipCode"), shape.Field("zip"), shape.Field("postalCode")),
		Country: textutil.PlainText(shape.FirstString(addr, shape.Field("country"))),
	}

	c, a := &view.Customer, &view.ShippingAddress
	if c.Name != "" && c.Email != "" && c.Phone != "" && a.Street != "" && a.City != "" && a.State != "" && a.ZipCode != "" && a.Country != "" {
		return
	}

	fb := n.fallback(ctx, logger)
	c.Name = textutil.FirstNonEmpty(c.Name, fb.form.FullName, fb.profile.Name)
	c.Email = textutil.FirstNonEmpty(c.Email, fb.form.Email, fb.profile.Email)
	c.Phone = textutil.FirstNonEmpty(c.Phone, fb.form.Phone, fb.profile.Phone)
	a.Street = textutil.FirstNonEmpty(a.Street, fb.form.Address, fb.profile.Street)
	a.City = textutil.FirstNonEmpty(a.City, fb.form.City, fb.profile.City)
	a.State = textutil.FirstNonEmpty(a.State, fb.form.State, fb.profile.State)
	a.ZipCode = textutil.FirstNonEmpty(a.ZipCode, fb.form.ZipCode, fb.profile.ZipCode)
	a.Country = textutil.FirstNonEmpty(a.Country, fb.form.Country, fb.profile.Country, n.DefaultCountry, DefaultCountry)
}

func normalizePayment(rec shape.Record) Payment {
	return Payment{
		Method: shape.FirstString(rec,
			shape.Field("paymentMethod"),
			shape.Field("paymentMethod", "type"),
			shape.Field("paymentMethod", "method"),
			shape.Field("payment", "method"),
			shape.Field("payment", "type"),
		),
		MobileNumber: shape.FirstString(rec,
			shape.Field("paymentDetails", "mobileNumber"),
			shape.Field("payment", "mobileNumber"),
			shape.Field("paymentDetails", "phone"),
		),
		TransactionID: shape.FirstString(rec,
			shape.Field("paymentDetails", "transactionId"),
			shape.Field("payment", "transactionId"),
			shape.Field("transactionId"),
		),
		Status: strings.ToLower(textutil.FirstNonEmpty(
			shape.FirstString(rec, shape.Field("paymentStatus"), shape.Field("payment", "status")),
			defaultStatus,
		)),
	}
}
