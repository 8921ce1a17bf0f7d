package vendorindex

import (
	"context"
	"fmt"
	"testing"
	"time"

	"shop-catalog/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func change(op domain.IndexOp, vendorID, productID string) domain.IndexChange {
	return domain.IndexChange{
		ID:        fmt.Sprintf("%s-%s-%s", op, vendorID, productID),
		VendorID:  vendorID,
		ProductID: productID,
		Op:        op,
		CreatedAt: time.Now(),
	}
}

func TestMaintainer_SetOperationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	vendors := newFakeVendors("v1")
	m := NewMaintainer(vendors, &fakeOutbox{}, nil, nil, zap.NewNop())

	require.NoError(t, m.AddProductToVendor(ctx, "p1", "v1"))
	require.NoError(t, m.AddProductToVendor(ctx, "p1", "v1"))
	require.NoError(t, m.AddProductToVendor(ctx, "p2", "v1"))
	require.NoError(t, m.AddSaleToVendor(ctx, "p2", "v1"))
	require.NoError(t, m.AddSaleToVendor(ctx, "p2", "v1"))

	v, _ := vendors.Get(ctx, "v1")
	assert.Equal(t, []string{"p1", "p2"}, v.ProductIDs)
	assert.Equal(t, []string{"p2"}, v.SalesProducts)
	assert.Equal(t, 2, v.NumberOfProducts)

	require.NoError(t, m.RemoveProductFromVendor(ctx, "p1", "v1"))
	require.NoError(t, m.RemoveProductFromVendor(ctx, "p1", "v1"))
	require.NoError(t, m.UpdateVendorProductCount(ctx, "v1"))

	v, _ = vendors.Get(ctx, "v1")
	assert.Equal(t, []string{"p2"}, v.ProductIDs)
	assert.Equal(t, 1, v.NumberOfProducts)
}

func TestMaintainer_MissingVendorIsNoop(t *testing.T) {
	ctx := context.Background()
	m := NewMaintainer(newFakeVendors(), &fakeOutbox{}, nil, nil, zap.NewNop())

	assert.NoError(t, m.AddProductToVendor(ctx, "p1", "ghost"))
	assert.NoError(t, m.RemoveProductFromVendor(ctx, "p1", "ghost"))
	assert.NoError(t, m.AddSaleToVendor(ctx, "p1", "ghost"))
	assert.NoError(t, m.UpdateVendorProductCount(ctx, "ghost"))
}

func TestMaintainer_ApplyMarksOutcome(t *testing.T) {
	ctx := context.Background()
	vendors := newFakeVendors("v1", "v2")
	outbox := &fakeOutbox{}
	products := newFakeProducts()
	products.put("p1", "v1")
	m := NewMaintainer(vendors, outbox, products, nil, zap.NewNop())

	ok := change(domain.IndexOpAdd, "v1", "p1")
	outbox.add(ok)
	require.NoError(t, m.Apply(ctx, ok))
	assert.NotNil(t, outbox.find(ok.ID).AppliedAt)

	vendors.failOn["v2"] = errVendorLocked
	products.put("p2", "v2")
	bad := change(domain.IndexOpAdd, "v2", "p2")
	outbox.add(bad)
	err := m.Apply(ctx, bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, errVendorLocked)
	assert.Nil(t, outbox.find(bad.ID).AppliedAt)
	assert.Equal(t, 1, outbox.find(bad.ID).Attempts)
	assert.Equal(t, errVendorLocked.Error(), outbox.find(bad.ID).LastError)
}

func TestMaintainer_ApplySkipsStaleChanges(t *testing.T) {
	ctx := context.Background()
	vendors := newFakeVendors("v1")
	outbox := &fakeOutbox{}
	products := newFakeProducts()
	m := NewMaintainer(vendors, outbox, products, nil, zap.NewNop())

	// The product was deleted before its add was relayed
	add := change(domain.IndexOpAdd, "v1", "gone")
	outbox.add(add)
	require.NoError(t, m.Apply(ctx, add))

	v, _ := vendors.Get(ctx, "v1")
	assert.Empty(t, v.ProductIDs)
	assert.NotNil(t, outbox.find(add.ID).AppliedAt)

	// A remove for a product the vendor owns again is stale too
	products.put("p1", "v1")
	require.NoError(t, m.AddProductToVendor(ctx, "p1", "v1"))
	remove := change(domain.IndexOpRemove, "v1", "p1")
	outbox.add(remove)
	require.NoError(t, m.Apply(ctx, remove))

	v, _ = vendors.Get(ctx, "v1")
	assert.Equal(t, []string{"p1"}, v.ProductIDs)
}

func TestMaintainer_ApplyRejectsUnknownOp(t *testing.T) {
	outbox := &fakeOutbox{}
	m := NewMaintainer(newFakeVendors("v1"), outbox, nil, nil, zap.NewNop())

	c := change("rename", "v1", "p1")
	outbox.add(c)
	err := m.Apply(context.Background(), c)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
