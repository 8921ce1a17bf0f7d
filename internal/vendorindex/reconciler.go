package vendorindex

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"shop-catalog/internal/domain"
	"shop-catalog/internal/metrics"
	"shop-catalog/internal/repository"

	"go.uber.org/zap"
)

// OwnershipSource lists product ids grouped by owning vendor and resolves the current owner of
// a single product
type OwnershipSource interface {
	OwnedIDs(ctx context.Context) (map[string][]string, error)
	FindByID(ctx context.Context, id string) (*domain.Product, error)
}

// ReconcileStats summarizes one reconciliation run
type ReconcileStats struct {
	Vendors  int
	Repaired int
	Orphaned int
}

// Reconciler rebuilds every vendor's productIds from actual product ownership
type Reconciler struct {
	products OwnershipSource
	vendors  repository.VendorRepository
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewReconciler creates a Reconciler
func NewReconciler(products OwnershipSource, vendors repository.VendorRepository, m *metrics.Metrics, logger *zap.Logger) *Reconciler {
	return &Reconciler{products: products, vendors: vendors, metrics: m, logger: logger}
}

// Run compares each vendor document with an ownership snapshot and repairs the ones that diverged.
// Repairs are per-id set operations, each confirmed against the product's current owner, so index
// changes applied after the snapshot survive. Products whose vendor has no document are counted as
// orphaned and left alone.
func (r *Reconciler) Run(ctx context.Context) (stats ReconcileStats, err error) {
	started := time.Now()
	defer func() { r.metrics.JobRun("reconcile", started, err) }()

	owned, err := r.products.OwnedIDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to load product ownership: %w", err)
	}

	vendors, err := r.vendors.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list vendors: %w", err)
	}

	known := make(map[string]bool, len(vendors))
	for _, v := range vendors {
		known[v.ID] = true
		stats.Vendors++

		want := owned[v.ID]
		if sameSet(v.ProductIDs, want) && v.NumberOfProducts == len(want) {
			continue
		}

		added, removed, err := r.repair(ctx, v, want)
		if err != nil {
			return stats, fmt.Errorf("failed to repair vendor %s: %w", v.ID, err)
		}
		stats.Repaired++
		r.logger.Info("Repaired vendor index",
			zap.String("vendor_id", v.ID),
			zap.Int("had", len(v.ProductIDs)),
			zap.Int("added", added),
			zap.Int("removed", removed),
		)
	}

	for vendorID, ids := range owned {
		if !known[vendorID] {
			stats.Orphaned += len(ids)
			r.logger.Warn("Products reference a missing vendor",
				zap.String("vendor_id", vendorID),
				zap.Int("products", len(ids)),
			)
		}
	}

	r.logger.Info("Vendor index reconciled",
		zap.Int("vendors", stats.Vendors),
		zap.Int("repaired", stats.Repaired),
		zap.Int("orphaned", stats.Orphaned),
	)
	return stats, nil
}

// repair adds snapshot-owned ids missing from v and removes ids v lists but the snapshot does not.
// Each id is re-checked against the product store right before the write.
func (r *Reconciler) repair(ctx context.Context, v *domain.Vendor, want []string) (added, removed int, err error) {
	for _, id := range want {
		if slices.Contains(v.ProductIDs, id) {
			continue
		}
		owned, err := r.owns(ctx, v.ID, id)
		if err != nil {
			return added, removed, err
		}
		if !owned {
			continue
		}
		if _, err := r.vendors.AddProduct(ctx, v.ID, id); err != nil {
			return added, removed, err
		}
		added++
	}

	for _, id := range v.ProductIDs {
		if slices.Contains(want, id) {
			continue
		}
		owned, err := r.owns(ctx, v.ID, id)
		if err != nil {
			return added, removed, err
		}
		if owned {
			continue
		}
		if _, err := r.vendors.RemoveProduct(ctx, v.ID, id); err != nil {
			return added, removed, err
		}
		removed++
	}

	if _, err := r.vendors.RefreshProductCount(ctx, v.ID); err != nil {
		return added, removed, err
	}
	return added, removed, nil
}

// owns reports whether productID currently belongs to vendorID
func (r *Reconciler) owns(ctx context.Context, vendorID, productID string) (bool, error) {
	p, err := r.products.FindByID(ctx, productID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load product %s: %w", productID, err)
	}
	return p.VendorID == vendorID, nil
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := slices.Clone(a)
	bs := slices.Clone(b)
	slices.Sort(as)
	slices.Sort(bs)
	return slices.Equal(as, bs)
}
