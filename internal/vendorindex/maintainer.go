// Package vendorindex keeps the denormalized product references on vendor documents in line with
// product ownership. Changes arrive as outbox records written with the product commit; the
// Relay applies them and the Reconciler rebuilds the index from scratch as a backstop.
package vendorindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shop-catalog/internal/domain"
	"shop-catalog/internal/metrics"
	"shop-catalog/internal/repository"

	"go.uber.org/zap"
)

// ProductLookup resolves the current owner of a product
type ProductLookup interface {
	FindByID(ctx context.Context, id string) (*domain.Product, error)
}

// Maintainer applies vendor index changes
type Maintainer struct {
	vendors  repository.VendorRepository
	outbox   repository.OutboxRepository
	products ProductLookup
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewMaintainer creates a Maintainer
func NewMaintainer(vendors repository.VendorRepository, outbox repository.OutboxRepository, products ProductLookup, m *metrics.Metrics, logger *zap.Logger) *Maintainer {
	return &Maintainer{
		vendors:  vendors,
		outbox:   outbox,
		products: products,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// skipMissing turns a missing vendor into a logged no-op
func (m *Maintainer) skipMissing(err error, op, vendorID, productID string) error {
	if errors.Is(err, domain.ErrNotFound) {
		m.logger.Warn("Vendor not found, skipping index update",
			zap.String("op", op),
			zap.String("vendor_id", vendorID),
			zap.String("product_id", productID),
		)
		return nil
	}
	return err
}

// AddProductToVendor unions productID into the vendor's productIds
func (m *Maintainer) AddProductToVendor(ctx context.Context, productID, vendorID string) error {
	changed, err := m.vendors.AddProduct(ctx, vendorID, productID)
	if err != nil {
		return m.skipMissing(err, string(domain.IndexOpAdd), vendorID, productID)
	}
	m.logger.Debug("Vendor product added", zap.String("vendor_id", vendorID), zap.String("product_id", productID), zap.Bool("changed", changed))
	return nil
}

// RemoveProductFromVendor removes productID from the vendor's productIds
func (m *Maintainer) RemoveProductFromVendor(ctx context.Context, productID, vendorID string) error {
	changed, err := m.vendors.RemoveProduct(ctx, vendorID, productID)
	if err != nil {
		return m.skipMissing(err, string(domain.IndexOpRemove), vendorID, productID)
	}
	m.logger.Debug("Vendor product removed", zap.String("vendor_id", vendorID), zap.String("product_id", productID), zap.Bool("changed", changed))
	return nil
}

// AddSaleToVendor unions productID into the vendor's salesProducts
func (m *Maintainer) AddSaleToVendor(ctx context.Context, productID, vendorID string) error {
	if _, err := m.vendors.AddSale(ctx, vendorID, productID); err != nil {
		return m.skipMissing(err, string(domain.IndexOpSale), vendorID, productID)
	}
	return nil
}

// UpdateVendorProductCount sets numberOfProducts to the size of productIds
func (m *Maintainer) UpdateVendorProductCount(ctx context.Context, vendorID string) error {
	count, err := m.vendors.RefreshProductCount(ctx, vendorID)
	if err != nil {
		return m.skipMissing(err, "count", vendorID, "")
	}
	m.logger.Debug("Vendor product count refreshed", zap.String("vendor_id", vendorID), zap.Int("count", count))
	return nil
}

// stale reports whether change no longer matches product ownership. Applying a stale add or
// remove out of order would undo a later change.
func (m *Maintainer) stale(ctx context.Context, change domain.IndexChange) (bool, error) {
	if m.products == nil || change.Op == domain.IndexOpSale {
		return false, nil
	}

	p, err := m.products.FindByID(ctx, change.ProductID)
	owned := err == nil && p.VendorID == change.VendorID
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}

	switch change.Op {
	case domain.IndexOpAdd:
		return !owned, nil
	case domain.IndexOpRemove:
		return owned, nil
	}
	return false, nil
}

// Apply performs one outbox record and marks it applied. Set semantics make it idempotent; on
// failure the attempt is recorded and the error returned so the relay retries later.
func (m *Maintainer) Apply(ctx context.Context, change domain.IndexChange) error {
	err := m.apply(ctx, change)
	if err != nil {
		m.metrics.IndexChange(string(change.Op), metrics.ResultError)
		if markErr := m.outbox.MarkFailed(ctx, change.ID, err.Error()); markErr != nil {
			m.logger.Error("Failed to record index change failure",
				zap.String("change_id", change.ID),
				zap.Error(markErr),
			)
		}
		return fmt.Errorf("failed to apply index change %s: %w", change.ID, err)
	}

	if err := m.outbox.MarkApplied(ctx, change.ID, m.now()); err != nil {
		return fmt.Errorf("failed to mark index change %s applied: %w", change.ID, err)
	}
	return nil
}

func (m *Maintainer) apply(ctx context.Context, change domain.IndexChange) error {
	stale, err := m.stale(ctx, change)
	if err != nil {
		return err
	}
	if stale {
		m.metrics.IndexChange(string(change.Op), metrics.ResultSkipped)
		m.logger.Info("Skipping stale index change",
			zap.String("change_id", change.ID),
			zap.String("op", string(change.Op)),
			zap.String("vendor_id", change.VendorID),
			zap.String("product_id", change.ProductID),
		)
		return nil
	}

	switch change.Op {
	case domain.IndexOpAdd:
		err = m.AddProductToVendor(ctx, change.ProductID, change.VendorID)
	case domain.IndexOpRemove:
		err = m.RemoveProductFromVendor(ctx, change.ProductID, change.VendorID)
	case domain.IndexOpSale:
		err = m.AddSaleToVendor(ctx, change.ProductID, change.VendorID)
	default:
		return domain.Invalid("op", fmt.Sprintf("unknown index op %q", change.Op))
	}
	if err == nil {
		m.metrics.IndexChange(string(change.Op), metrics.ResultOK)
	}
	return err
}
