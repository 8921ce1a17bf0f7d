package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"shop-catalog/internal/blob"
	"shop-catalog/internal/domain"
	"shop-catalog/internal/metrics"
	"shop-catalog/internal/query"
	"shop-catalog/internal/repository"
	"shop-catalog/internal/trending"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultTrendingLimit is used when TrendingProducts is called without a positive limit
	DefaultTrendingLimit = 10
	// MaxTrendingLimit caps a single trending query
	MaxTrendingLimit = 100

	indexApplyTimeout = 30 * time.Second
)

// Counter names reported to metrics
const (
	CounterViews    = "views"
	CounterCartAdds = "cart_adds"
	CounterWishlist = "wishlist"
	CounterSold     = "sold"
)

// IndexApplier applies a committed vendor index change
type IndexApplier interface {
	Apply(ctx context.Context, change domain.IndexChange) error
}

// ImageUploader stores product images
type ImageUploader interface {
	UploadImage(ctx context.Context, img blob.Image, objectPath string) (string, error)
}

// ListingRouter picks the listing strategy for a caller
type ListingRouter interface {
	Select(role domain.Role, vendorID string) (query.Strategy, error)
}

// CatalogService is the entry point for every product aggregate operation
type CatalogService struct {
	products repository.ProductRepository
	router   ListingRouter
	indexer  IndexApplier
	uploader ImageUploader
	validate *validator.Validate
	clock    trending.Clock
	newID    func() string
	metrics  *metrics.Metrics
	logger   *zap.Logger

	pending sync.WaitGroup
}

// Option customizes a CatalogService
type Option func(*CatalogService)

// WithClock replaces the wall clock used for timestamps and scoring
func WithClock(clock trending.Clock) Option {
	return func(s *CatalogService) { s.clock = clock }
}

// WithIDGenerator replaces the uuid generator
func WithIDGenerator(fn func() string) Option {
	return func(s *CatalogService) { s.newID = fn }
}

// NewCatalogService creates a CatalogService. indexer and uploader may be nil, in which case index
// changes are left to the relay and image uploads are rejected.
func NewCatalogService(
	products repository.ProductRepository,
	router ListingRouter,
	indexer IndexApplier,
	uploader ImageUploader,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts ...Option,
) *CatalogService {
	s := &CatalogService{
		products: products,
		router:   router,
		indexer:  indexer,
		uploader: uploader,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		clock:    trending.SystemClock,
		newID:    uuid.NewString,
		metrics:  m,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// now is millisecond precision so both stores round-trip timestamps unchanged
func (s *CatalogService) now() time.Time {
	return s.clock().UTC().Truncate(time.Millisecond)
}

func (s *CatalogService) indexChange(op domain.IndexOp, vendorID, productID string, at time.Time) domain.IndexChange {
	return domain.IndexChange{
		ID:        s.newID(),
		VendorID:  vendorID,
		ProductID: productID,
		Op:        op,
		CreatedAt: at,
	}
}

// AddProduct validates and commits a new aggregate, returning its id
func (s *CatalogService) AddProduct(ctx context.Context, fields domain.ProductFields, variants []domain.VariantFields) (string, error) {
	if err := s.validateAggregate(fields, variants); err != nil {
		return "", err
	}

	now := s.now()
	p := &domain.Product{ID: s.newID(), CreatedAt: now, UpdatedAt: now}
	fields.Apply(p)

	changes := []domain.IndexChange{s.indexChange(domain.IndexOpAdd, p.VendorID, p.ID, now)}
	err := s.products.CreateAggregate(ctx, p, s.buildVariants(p.ID, variants), changes)
	s.metrics.AggregateCommit("create", err)
	if err != nil {
		s.logger.Error("Failed to create product", zap.String("vendor_id", p.VendorID), zap.Error(err))
		return "", fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("Product created",
		zap.String("product_id", p.ID),
		zap.String("vendor_id", p.VendorID),
		zap.Int("variants", len(variants)),
	)
	s.applyAsync(changes)
	return p.ID, nil
}

// UpdateProductWithVariants replaces the editable fields and the whole variant set of a product.
// Variants get new ids on every call.
func (s *CatalogService) UpdateProductWithVariants(ctx context.Context, id string, fields domain.ProductFields, variants []domain.VariantFields) (*domain.Product, error) {
	if err := s.validateAggregate(fields, variants); err != nil {
		return nil, err
	}

	now := s.now()
	var changes []domain.IndexChange
	updated, err := s.products.ReplaceAggregate(ctx, id, s.buildVariants(id, variants), func(p *domain.Product) ([]domain.IndexChange, error) {
		previousVendor := p.VendorID
		fields.Apply(p)
		p.UpdatedAt = now

		changes = nil
		if previousVendor != p.VendorID {
			changes = []domain.IndexChange{
				s.indexChange(domain.IndexOpRemove, previousVendor, p.ID, now),
				s.indexChange(domain.IndexOpAdd, p.VendorID, p.ID, now),
			}
		}
		return changes, nil
	})
	s.metrics.AggregateCommit("replace", err)
	if err != nil {
		return nil, fmt.Errorf("failed to update product %s: %w", id, err)
	}

	s.logger.Info("Product updated", zap.String("product_id", id), zap.Int("variants", len(variants)))
	s.applyAsync(changes)
	return updated, nil
}

// UpdateProduct applies a partial update and refreshes the trending score
func (s *CatalogService) UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch) (*domain.Product, error) {
	if patch.IsEmpty() {
		return nil, domain.Invalid("body", "no fields to update")
	}
	if patch.ClearDiscount && patch.DiscountPrice != nil {
		return nil, domain.Invalid("clearDiscount", "cannot be combined with discountPrice")
	}
	if err := s.validateStruct(patch); err != nil {
		return nil, err
	}

	updated, err := s.products.Mutate(ctx, id, func(p *domain.Product) ([]domain.IndexChange, error) {
		patch.Apply(p)
		if p.ProductType == domain.ProductTypeSimple {
			if err := checkDiscount("discountPrice", p.Price, p.DiscountPrice); err != nil {
				return nil, err
			}
		}
		now := s.now()
		p.UpdatedAt = now
		p.TrendingScore = trending.Score(p, now)
		return nil, nil
	})
	s.metrics.AggregateCommit("patch", err)
	if err != nil {
		return nil, fmt.Errorf("failed to patch product %s: %w", id, domain.WrapStore("patch product", err))
	}
	return updated, nil
}

// DeleteProduct removes a product with all of its variants
func (s *CatalogService) DeleteProduct(ctx context.Context, id string) error {
	var changes []domain.IndexChange
	_, err := s.products.DeleteAggregate(ctx, id, func(p *domain.Product) ([]domain.IndexChange, error) {
		changes = []domain.IndexChange{s.indexChange(domain.IndexOpRemove, p.VendorID, p.ID, s.now())}
		return changes, nil
	})
	s.metrics.AggregateCommit("delete", err)
	if err != nil {
		return fmt.Errorf("failed to delete product %s: %w", id, err)
	}

	s.logger.Info("Product deleted", zap.String("product_id", id))
	s.applyAsync(changes)
	return nil
}

// GetProductByID returns a NotFound error when the product does not exist
func (s *CatalogService) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	return s.products.FindByID(ctx, id)
}

// GetVariantsForProduct returns an empty slice when the product has no variants
func (s *CatalogService) GetVariantsForProduct(ctx context.Context, id string) ([]domain.Variant, error) {
	variants, err := s.products.FindVariants(ctx, id)
	if err != nil {
		return nil, err
	}
	if variants == nil {
		variants = []domain.Variant{}
	}
	return variants, nil
}

// ListProducts lists the products visible to the caller
func (s *CatalogService) ListProducts(ctx context.Context, role domain.Role, vendorID string) ([]*domain.Product, error) {
	strategy, err := s.router.Select(role, vendorID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	products, err := strategy.List(ctx)
	s.metrics.Listing(strategy.Name(), started)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	if products == nil {
		products = []*domain.Product{}
	}
	return products, nil
}

// TrendingProducts returns the highest scored products, optionally restricted to one vendor
func (s *CatalogService) TrendingProducts(ctx context.Context, limit int, vendorID string) ([]*domain.Product, error) {
	if limit <= 0 {
		limit = DefaultTrendingLimit
	}
	limit = min(limit, MaxTrendingLimit)

	products, err := s.products.TopTrending(ctx, limit, vendorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trending products: %w", err)
	}
	return products, nil
}

// IncrementViews records one product view
func (s *CatalogService) IncrementViews(ctx context.Context, id string) (*domain.Product, error) {
	return s.mutateCounter(ctx, id, CounterViews, func(p *domain.Product, _ time.Time) []domain.IndexChange {
		p.Views++
		return nil
	})
}

// IncrementCartAdds records one add-to-cart
func (s *CatalogService) IncrementCartAdds(ctx context.Context, id string) (*domain.Product, error) {
	return s.mutateCounter(ctx, id, CounterCartAdds, func(p *domain.Product, _ time.Time) []domain.IndexChange {
		p.CartAdds++
		return nil
	})
}

// UpdateWishlistCount adds delta (+1 or -1) to the wishlist counter. The counter never goes below zero.
func (s *CatalogService) UpdateWishlistCount(ctx context.Context, id string, delta int) (*domain.Product, error) {
	if delta != 1 && delta != -1 {
		return nil, domain.Invalid("delta", "must be 1 or -1")
	}
	return s.mutateCounter(ctx, id, CounterWishlist, func(p *domain.Product, _ time.Time) []domain.IndexChange {
		p.WishlistCount = max(0, p.WishlistCount+delta)
		return nil
	})
}

// IncrementSoldCount records one sale and, in the same commit, the vendor's salesProducts change
func (s *CatalogService) IncrementSoldCount(ctx context.Context, id string) (*domain.Product, error) {
	var changes []domain.IndexChange
	p, err := s.mutateCounter(ctx, id, CounterSold, func(p *domain.Product, now time.Time) []domain.IndexChange {
		p.SoldCount++
		changes = nil
		if p.VendorID != "" {
			changes = []domain.IndexChange{s.indexChange(domain.IndexOpSale, p.VendorID, p.ID, now)}
		}
		return changes
	})
	if err != nil {
		return nil, err
	}
	s.applyAsync(changes)
	return p, nil
}

// mutateCounter runs a single-document transaction that applies fn, stamps updatedAt and
// recomputes the trending score from the updated product
func (s *CatalogService) mutateCounter(ctx context.Context, id, counter string, fn func(p *domain.Product, now time.Time) []domain.IndexChange) (*domain.Product, error) {
	p, err := s.products.Mutate(ctx, id, func(p *domain.Product) ([]domain.IndexChange, error) {
		now := s.now()
		changes := fn(p, now)
		p.UpdatedAt = now
		p.TrendingScore = trending.Score(p, now)
		return changes, nil
	})
	s.metrics.CounterMutation(counter, err)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s of product %s: %w", counter, id, domain.WrapStore("update "+counter, err))
	}
	return p, nil
}

// UploadImage stores an image and returns its public URL
func (s *CatalogService) UploadImage(ctx context.Context, img blob.Image, objectPath string) (string, error) {
	if s.uploader == nil {
		return "", domain.WrapStore("upload image", errors.New("image storage is not configured"))
	}
	return s.uploader.UploadImage(ctx, img, objectPath)
}

// applyAsync hands committed index changes to the maintainer without blocking the caller. Failures
// stay in the outbox for the relay.
func (s *CatalogService) applyAsync(changes []domain.IndexChange) {
	if s.indexer == nil || len(changes) == 0 {
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), indexApplyTimeout)
		defer cancel()

		for _, change := range changes {
			if err := s.indexer.Apply(ctx, change); err != nil {
				s.logger.Warn("Vendor index update deferred to relay",
					zap.String("change_id", change.ID),
					zap.String("op", string(change.Op)),
					zap.String("vendor_id", change.VendorID),
					zap.String("product_id", change.ProductID),
					zap.Error(err),
				)
			}
		}
	}()
}

// Close waits for in-flight index updates
func (s *CatalogService) Close() {
	s.pending.Wait()
}

func (s *CatalogService) buildVariants(productID string, fields []domain.VariantFields) []domain.Variant {
	variants := make([]domain.Variant, 0, len(fields))
	for i, f := range fields {
		variants = append(variants, f.ToVariant(s.newID(), productID, i))
	}
	return variants
}

// validateAggregate checks struct tags and the cross-field invariants of a product aggregate
func (s *CatalogService) validateAggregate(fields domain.ProductFields, variants []domain.VariantFields) error {
	problems := map[string]string{}
	collectViolations(problems, "", s.validate.Struct(fields))

	switch fields.ProductType {
	case domain.ProductTypeSimple:
		if len(variants) > 0 {
			problems["variants"] = "only variant products can have variants"
		}
		if err := checkDiscount("discountPrice", fields.Price, fields.DiscountPrice); err != nil {
			mergeViolations(problems, err)
		}
	case domain.ProductTypeVariant:
		if len(variants) == 0 {
			problems["variants"] = "variant products need at least one variant"
		}
	}

	for i, v := range variants {
		prefix := fmt.Sprintf("variants[%d]", i)
		collectViolations(problems, prefix+".", s.validate.Struct(v))
		if len(v.Attributes) == 0 {
			problems[prefix+".attributes"] = "at least one attribute is required"
		}
		for j, a := range v.Attributes {
			if strings.TrimSpace(a.Key) == "" || strings.TrimSpace(a.Value) == "" {
				problems[fmt.Sprintf("%s.attributes[%d]", prefix, j)] = "key and value must not be empty"
			}
		}
		if err := checkDiscount(prefix+".discountPrice", v.Price, v.DiscountPrice); err != nil {
			mergeViolations(problems, err)
		}
	}

	if len(problems) > 0 {
		return &domain.ValidationError{Fields: problems}
	}
	return nil
}

func (s *CatalogService) validateStruct(v any) error {
	problems := map[string]string{}
	collectViolations(problems, "", s.validate.Struct(v))
	if len(problems) > 0 {
		return &domain.ValidationError{Fields: problems}
	}
	return nil
}

func checkDiscount(field string, price float64, discount *float64) error {
	if discount != nil && *discount >= price {
		return domain.Invalid(field, "must be less than price")
	}
	return nil
}

func collectViolations(problems map[string]string, prefix string, err error) {
	var violations validator.ValidationErrors
	if !errors.As(err, &violations) {
		return
	}
	for _, fe := range violations {
		problems[prefix+fieldPath(fe)] = violationMessage(fe)
	}
}

func mergeViolations(problems map[string]string, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		for k, v := range verr.Fields {
			problems[k] = v
		}
	}
}

// fieldPath turns "ProductFields.Attributes[0].Key" into "attributes[0].key"
func fieldPath(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	parts := strings.Split(ns, ".")
	for i, part := range parts {
		if part != "" {
			parts[i] = strings.ToLower(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, ".")
}

func violationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	default:
		return "is invalid"
	}
}
