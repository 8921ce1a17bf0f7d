package query

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"shop-catalog/internal/domain"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	products map[string]*domain.Product
	vendors  map[string]*domain.Vendor
	maxSeen  int
	calls    int
	failIDs  error
}

func newMemStore() *memStore {
	return &memStore{products: map[string]*domain.Product{}, vendors: map[string]*domain.Vendor{}}
}

func (m *memStore) List(_ context.Context) ([]*domain.Product, error) {
	out := make([]*domain.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) FindByIDs(_ context.Context, ids []string) ([]*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIDs != nil {
		return nil, m.failIDs
	}
	m.calls++
	m.maxSeen = max(m.maxSeen, len(ids))
	var out []*domain.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) Get(_ context.Context, id string) (*domain.Vendor, error) {
	v, ok := m.vendors[id]
	if !ok {
		return nil, domain.NotFound("vendor", id)
	}
	return v, nil
}

func TestRouter_Select(t *testing.T) {
	r := NewRouter(newMemStore(), newMemStore(), 0)

	s, err := r.Select(domain.RoleAdmin, "")
	require.NoError(t, err)
	assert.Equal(t, "privileged_scan", s.Name())

	s, err = r.Select(domain.RoleShopManager, "v1")
	require.NoError(t, err)
	assert.Equal(t, "privileged_scan", s.Name())

	s, err = r.Select(domain.RoleVendor, "v1")
	require.NoError(t, err)
	assert.Equal(t, "vendor_restricted", s.Name())
	assert.Equal(t, DefaultMaxInValues, s.(VendorRestricted).MaxInValues)

	_, err = r.Select(domain.RoleVendor, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = r.Select("customer", "v1")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestVendorRestricted_ChunksAndPreservesOrder(t *testing.T) {
	store := newMemStore()
	var ids []string
	for i := 0; i < 95; i++ {
		id := fmt.Sprintf("p%03d", 94-i)
		ids = append(ids, id)
		store.products[id] = &domain.Product{ID: id, VendorID: "v1"}
	}
	store.vendors["v1"] = &domain.Vendor{ID: "v1", ProductIDs: ids}

	s, err := NewRouter(store, store, 30).Select(domain.RoleVendor, "v1")
	require.NoError(t, err)

	products, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 95)
	for i, p := range products {
		assert.Equal(t, ids[i], p.ID)
	}
	assert.Equal(t, 4, store.calls)
	assert.LessOrEqual(t, store.maxSeen, 30)
}

func TestVendorRestricted_FiltersStaleIndexEntries(t *testing.T) {
	store := newMemStore()
	store.products["mine"] = &domain.Product{ID: "mine", VendorID: "v1"}
	store.products["moved"] = &domain.Product{ID: "moved", VendorID: "v2"}
	store.vendors["v1"] = &domain.Vendor{ID: "v1", ProductIDs: []string{"moved", "deleted", "mine"}}

	s, _ := NewRouter(store, store, 30).Select(domain.RoleVendor, "v1")
	products, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "mine", products[0].ID)
}

func TestVendorRestricted_EmptyCases(t *testing.T) {
	store := newMemStore()
	store.vendors["empty"] = &domain.Vendor{ID: "empty"}
	r := NewRouter(store, store, 30)

	for _, vendorID := range []string{"empty", "missing"} {
		s, _ := r.Select(domain.RoleVendor, vendorID)
		products, err := s.List(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, products)
		assert.Empty(t, products)
	}
	assert.Equal(t, 0, store.calls)
}

func TestVendorRestricted_PropagatesChunkErrors(t *testing.T) {
	store := newMemStore()
	store.vendors["v1"] = &domain.Vendor{ID: "v1", ProductIDs: []string{"a", "b"}}
	store.failIDs = errors.New("connection refused")

	s, _ := NewRouter(store, store, 1).Select(domain.RoleVendor, "v1")
	_, err := s.List(context.Background())
	assert.ErrorIs(t, err, store.failIDs)
}

// Feature: product-catalog, Property 5: Chunking covers every id once within the size cap
func TestProperty_ChunkCoversInputWithinCap(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("chunks concatenate back to the input and respect the cap", prop.ForAll(
		func(n, size int) bool {
			ids := make([]string, n)
			for i := range ids {
				ids[i] = fmt.Sprint(i)
			}

			chunks := Chunk(ids, size)
			var joined []string
			for _, c := range chunks {
				if len(c) == 0 || len(c) > size {
					return false
				}
				joined = append(joined, c...)
			}
			return slices.Equal(joined, ids) && len(chunks) == (n+size-1)/size
		},
		gen.IntRange(0, 500),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}

// Feature: product-catalog, Property 6: Vendor listing returns only that vendor's products
func TestProperty_VendorListingOnlyOwnProducts(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("every listed product belongs to the caller", prop.ForAll(
		func(owners []int) bool {
			store := newMemStore()
			index := map[string][]string{}
			for i, o := range owners {
				id := fmt.Sprintf("p%d", i)
				vendorID := fmt.Sprintf("v%d", o)
				store.products[id] = &domain.Product{ID: id, VendorID: vendorID}
				// every vendor's index also carries a foreign id to simulate drift
				index[vendorID] = append(index[vendorID], id, fmt.Sprintf("p%d", (i+1)%len(owners)))
			}
			for vendorID, ids := range index {
				store.vendors[vendorID] = &domain.Vendor{ID: vendorID, ProductIDs: ids}
			}

			r := NewRouter(store, store, 7)
			for vendorID := range index {
				s, err := r.Select(domain.RoleVendor, vendorID)
				if err != nil {
					return false
				}
				products, err := s.List(context.Background())
				if err != nil {
					return false
				}
				seen := map[string]bool{}
				for _, p := range products {
					if p.VendorID != vendorID || seen[p.ID] {
						return false
					}
					seen[p.ID] = true
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 4)),
	))

	properties.TestingRun(t)
}
