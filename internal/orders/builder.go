package orders

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"finitefield.org/fashion-storefront/internal/cart"
	"finitefield.org/fashion-storefront/internal/payments"
	"finitefield.org/fashion-storefront/internal/platform/observability"
	"finitefield.org/fashion-storefront/internal/storefront"
)

const defaultFetchConcurrency = 8

// ProductFetcher loads catalogue detail for a product id.
type ProductFetcher interface {
	GetProduct(ctx context.Context, id string) (storefront.Product, error)
}

// BuilderDeps bundles the collaborators required to construct a Builder.
type BuilderDeps struct {
	Products    ProductFetcher
	Logger      *zap.Logger
	Metrics     *observability.CheckoutMetrics
	Concurrency int
}

// Builder turns checkout state into an order payload.
type Builder struct {
	products    ProductFetcher
	logger      *zap.Logger
	metrics     *observability.CheckoutMetrics
	concurrency int
}

// BuildRequest is the checkout state an order is built from.
type BuildRequest struct {
	Items    []cart.LineItem
	Shipping ShippingAddress
	Method   payments.Method
	Details  payments.Details
	Notes    string
}

// NewBuilder validates deps and returns a Builder.
func NewBuilder(deps BuilderDeps) (*Builder, error) {
	if deps.Products == nil {
		return nil, ErrBuilderMissingProducts
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = defaultFetchConcurrency
	}
	return &Builder{
		products:    deps.Products,
		logger:      logger,
		metrics:     deps.Metrics,
		concurrency: concurrency,
	}, nil
}

type fetched struct {
	item    cart.LineItem
	product storefront.Product
	err     error
}

// Build validates the cart lines, enriches them with catalogue data, and assembles the payload.
// It fails with ErrNoValidItems when nothing orderable remains and with
// *MissingColorVariantError when a product has no colourway.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (_ Payload, err error) {
	ctx, span := observability.StartSpan(ctx, "orders.Build", attribute.Int("cart.items", len(req.Items)))
	defer func() { observability.EndSpan(span, err) }()

	valid := make([]cart.LineItem, 0, len(req.Items))
	for idx, item := range req.Items {
		if !cart.IsProductID(item.ProductID) {
			b.logger.Warn("dropping cart line without product id", zap.Int("index", idx), zap.String("name", item.Name))
			b.metrics.ItemDropped(ctx, "missing_product_id")
			continue
		}
		valid = append(valid, item)
	}
	if len(valid) == 0 {
		return Payload{}, ErrNoValidItems
	}

	results := make([]fetched, len(valid))
	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i, item := range valid {
		g.Go(func() error {
			product, err := b.products.GetProduct(ctx, item.ProductID)
			results[i] = fetched{item: item, product: product, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Payload{}, err
	}

	fold := cases.Fold()
	var (
		items   []PayloadItem
		lines   []Line
		missing []string
	)
	for _, res := range results {
		if res.err != nil {
			b.logger.Warn("dropping cart line whose product could not be loaded",
				zap.String("product_id", res.item.ProductID), zap.Error(res.err))
			b.metrics.ItemDropped(ctx, "product_unavailable")
			continue
		}
		variant, ok := matchVariant(fold, res.product, res.item.Color)
		if !ok {
			missing = append(missing, productLabel(res.product, res.item))
			continue
		}
		items = append(items, PayloadItem{
			Product:  res.item.ProductID,
			Quantity: res.item.Quantity,
			ColorVariant: &ColorVariantRef{Color: ColorRef{
				Name:    variant.Color.Name,
				HexCode: variant.Color.HexCode,
			}},
			Size: SizeRef{Name: res.item.Size, Quantity: res.item.Quantity},
		})
		lines = append(lines, enrichLine(res.item, res.product, variant))
	}

	if len(missing) > 0 {
		return Payload{}, &MissingColorVariantError{Products: missing}
	}
	if len(items) == 0 {
		return Payload{}, ErrNoValidItems
	}

	payload := Payload{
		Items:           items,
		ShippingAddress: req.Shipping,
		PaymentMethod:   req.Method.Code,
		Lines:           lines,
		Notes:           req.Notes,
	}
	if req.Method.MobileWallet {
		details := req.Details.Normalized()
		payload.PaymentDetails = &details
	}
	return payload, nil
}

// matchVariant picks the colourway whose name matches color under Unicode case folding, else the
// first colourway.
func matchVariant(fold cases.Caser, product storefront.Product, color string) (storefront.ColorVariant, bool) {
	if len(product.ColorVariants) == 0 {
		return storefront.ColorVariant{}, false
	}
	if want := fold.String(strings.TrimSpace(color)); want != "" {
		for _, variant := range product.ColorVariants {
			if fold.String(strings.TrimSpace(variant.Color.Name)) == want {
				return variant, true
			}
		}
	}
	return product.ColorVariants[0], true
}

func enrichLine(item cart.LineItem, product storefront.Product, variant storefront.ColorVariant) Line {
	line := Line{
		ProductID: item.ProductID,
		Name:      item.Name,
		Price:     item.Price,
		Quantity:  item.Quantity,
		Image:     item.Image,
		Color:     variant.Color.Name,
		Size:      item.Size,
	}
	if product.Name != "" {
		line.Name = product.Name
	}
	if price := product.UnitPrice(); price > 0 {
		line.Price = price
	}
	if len(variant.Images) > 0 {
		line.Image = variant.Images[0]
	} else if image := product.Image(); image != "" && (line.Image == "" || line.Image == cart.PlaceholderImage) {
		line.Image = image
	}
	return line
}

func productLabel(product storefront.Product, item cart.LineItem) string {
	if product.Name != "" {
		return product.Name
	}
	if item.Name != "" && item.Name != cart.UnknownProductName {
		return item.Name
	}
	return item.ProductID
}
