package vendorindex

import (
	"context"
	"testing"

	"shop-catalog/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReconciler_RepairsDivergedVendors(t *testing.T) {
	ctx := context.Background()
	vendors := newFakeVendors()
	require.NoError(t, vendors.Create(ctx, &domain.Vendor{ID: "v1", ProductIDs: []string{"p1", "stale"}, NumberOfProducts: 2}))
	require.NoError(t, vendors.Create(ctx, &domain.Vendor{ID: "v2", ProductIDs: []string{"p3"}, NumberOfProducts: 1}))
	require.NoError(t, vendors.Create(ctx, &domain.Vendor{ID: "v3", NumberOfProducts: 4}))

	products := newFakeProducts()
	products.put("p1", "v1")
	products.put("p2", "v1")
	products.put("p3", "v2")
	products.put("p9", "ghost")

	r := NewReconciler(products, vendors, nil, zap.NewNop())
	stats, err := r.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Vendors)
	assert.Equal(t, 2, stats.Repaired)
	assert.Equal(t, 1, stats.Orphaned)

	v1, _ := vendors.Get(ctx, "v1")
	assert.ElementsMatch(t, []string{"p1", "p2"}, v1.ProductIDs)
	assert.Equal(t, 2, v1.NumberOfProducts)

	v3, _ := vendors.Get(ctx, "v3")
	assert.Empty(t, v3.ProductIDs)
	assert.Equal(t, 0, v3.NumberOfProducts)

	// A second run finds nothing to do
	stats, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Repaired)
}

// lateOwnership hands out an ownership snapshot, then lets a concurrent writer run before the
// reconciler acts on it
type lateOwnership struct {
	*fakeProducts
	afterSnapshot func()
}

func (l *lateOwnership) OwnedIDs(ctx context.Context) (map[string][]string, error) {
	owned, err := l.fakeProducts.OwnedIDs(ctx)
	l.afterSnapshot()
	return owned, err
}

func TestReconciler_KeepsChangesAppliedAfterSnapshot(t *testing.T) {
	ctx := context.Background()
	vendors := newFakeVendors()
	require.NoError(t, vendors.Create(ctx, &domain.Vendor{ID: "v1", ProductIDs: []string{"p-1", "gone"}, NumberOfProducts: 2}))

	products := newFakeProducts()
	products.put("p-1", "v1")
	maintainer := NewMaintainer(vendors, &fakeOutbox{}, products, nil, zap.NewNop())

	source := &lateOwnership{fakeProducts: products, afterSnapshot: func() {
		products.put("p-new", "v1")
		require.NoError(t, maintainer.AddProductToVendor(ctx, "p-new", "v1"))
	}}

	stats, err := NewReconciler(source, vendors, nil, zap.NewNop()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Repaired)

	v1, _ := vendors.Get(ctx, "v1")
	assert.ElementsMatch(t, []string{"p-1", "p-new"}, v1.ProductIDs)
	assert.Equal(t, 2, v1.NumberOfProducts)
}

func TestReconciler_SkipsProductsThatMovedAfterSnapshot(t *testing.T) {
	ctx := context.Background()
	vendors := newFakeVendors()
	require.NoError(t, vendors.Create(ctx, &domain.Vendor{ID: "v1"}))
	require.NoError(t, vendors.Create(ctx, &domain.Vendor{ID: "v2"}))

	products := newFakeProducts()
	products.put("p-1", "v1")

	source := &lateOwnership{fakeProducts: products, afterSnapshot: func() {
		products.put("p-1", "v2")
	}}

	_, err := NewReconciler(source, vendors, nil, zap.NewNop()).Run(ctx)
	require.NoError(t, err)

	v1, _ := vendors.Get(ctx, "v1")
	assert.Empty(t, v1.ProductIDs)
}

func TestSameSet(t *testing.T) {
	assert.True(t, sameSet([]string{"a", "b"}, []string{"b", "a"}))
	assert.True(t, sameSet(nil, []string{}))
	assert.False(t, sameSet([]string{"a"}, []string{"b"}))
	assert.False(t, sameSet([]string{"a"}, []string{"a", "b"}))
}
