package mongostore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"shop-catalog/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// testDatabase connects to the replica set named by MONGO_TEST_URI and returns a fresh database
func testDatabase(t *testing.T) *mongo.Database {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set, skipping MongoDB integration test")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)

	db := client.Database("catalog_test_" + uuid.NewString()[:8])
	require.NoError(t, EnsureIndexes(context.Background(), db))

	t.Cleanup(func() {
		ctx := context.Background()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return db
}

func sampleProduct(vendorID string) *domain.Product {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.Product{
		ID:          uuid.NewString(),
		ProductType: domain.ProductTypeVariant,
		Title:       domain.LocalizedText{EN: "Kettle"},
		Price:       25,
		Quantity:    3,
		VendorID:    vendorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func sampleVariants(productID string, n int) []domain.Variant {
	out := make([]domain.Variant, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Variant{
			ID:         uuid.NewString(),
			ProductID:  productID,
			Attributes: []domain.Attribute{{Key: "size", Value: fmt.Sprint(i)}},
			Price:      10,
			Position:   i,
		})
	}
	return out
}

func TestProductStore_AggregateLifecycle(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()
	products := NewProductRepository(db, 0)
	outbox := NewOutboxRepository(db)

	p := sampleProduct("vendor-1")
	old := sampleVariants(p.ID, 3)
	add := domain.IndexChange{ID: uuid.NewString(), VendorID: "vendor-1", ProductID: p.ID, Op: domain.IndexOpAdd, CreatedAt: time.Now().UTC()}
	require.NoError(t, products.CreateAggregate(ctx, p, old, []domain.IndexChange{add}))

	found, err := products.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Title, found.Title)
	assert.Equal(t, int64(1), found.Version)

	replacement := sampleVariants(p.ID, 2)
	_, err = products.ReplaceAggregate(ctx, p.ID, replacement, func(cur *domain.Product) ([]domain.IndexChange, error) {
		cur.Price = 30
		return nil, nil
	})
	require.NoError(t, err)

	variants, err := products.FindVariants(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, variants, 2)
	for _, v := range variants {
		for _, o := range old {
			assert.NotEqual(t, o.ID, v.ID)
		}
	}

	_, err = products.DeleteAggregate(ctx, p.ID, func(cur *domain.Product) ([]domain.IndexChange, error) {
		return []domain.IndexChange{{ID: uuid.NewString(), VendorID: cur.VendorID, ProductID: cur.ID, Op: domain.IndexOpRemove, CreatedAt: time.Now().UTC()}}, nil
	})
	require.NoError(t, err)

	_, err = products.FindByID(ctx, p.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	variants, err = products.FindVariants(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, variants)

	pending, err := outbox.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, domain.IndexOpAdd, pending[0].Op)
	assert.Equal(t, domain.IndexOpRemove, pending[1].Op)

	require.NoError(t, outbox.MarkApplied(ctx, pending[0].ID, time.Now().UTC()))
	require.NoError(t, outbox.MarkApplied(ctx, pending[0].ID, time.Now().UTC()))
	pending, err = outbox.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestProductStore_ConcurrentMutate(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()
	const workers = 50
	products := NewProductRepository(db, 0)

	p := sampleProduct("vendor-1")
	require.NoError(t, products.CreateAggregate(ctx, p, nil, nil))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := products.Mutate(ctx, p.ID, func(cur *domain.Product) ([]domain.IndexChange, error) {
				cur.Views++
				return nil, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	found, err := products.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, found.Views)
}

func TestVendorStore_SetOperators(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()
	vendors := NewVendorRepository(db)

	require.NoError(t, vendors.Create(ctx, &domain.Vendor{ID: "vendor-1"}))

	changed, err := vendors.AddProduct(ctx, "vendor-1", "p-1")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = vendors.AddProduct(ctx, "vendor-1", "p-1")
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = vendors.AddSale(ctx, "vendor-1", "p-1")
	require.NoError(t, err)

	v, err := vendors.Get(ctx, "vendor-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p-1"}, v.ProductIDs)
	assert.Equal(t, 1, v.NumberOfProducts)
	assert.Equal(t, []string{"p-1"}, v.SalesProducts)

	changed, err = vendors.RemoveProduct(ctx, "vendor-1", "p-1")
	require.NoError(t, err)
	assert.True(t, changed)

	count, err := vendors.RefreshProductCount(ctx, "vendor-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, err = vendors.AddProduct(ctx, "ghost", "p-1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
