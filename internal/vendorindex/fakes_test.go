package vendorindex

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"shop-catalog/internal/domain"
)

type fakeVendors struct {
	mu      sync.Mutex
	vendors map[string]*domain.Vendor
	failOn  map[string]error
}

func newFakeVendors(ids ...string) *fakeVendors {
	f := &fakeVendors{vendors: map[string]*domain.Vendor{}, failOn: map[string]error{}}
	for _, id := range ids {
		f.vendors[id] = &domain.Vendor{ID: id}
	}
	return f
}

func (f *fakeVendors) update(id string, fn func(v *domain.Vendor) bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[id]; err != nil {
		return false, err
	}
	v, ok := f.vendors[id]
	if !ok {
		return false, domain.NotFound("vendor", id)
	}
	changed := fn(v)
	v.UpdatedAt = time.Now()
	return changed, nil
}

func (f *fakeVendors) Create(_ context.Context, v *domain.Vendor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *v
	f.vendors[v.ID] = &c
	return nil
}

func (f *fakeVendors) Get(_ context.Context, id string) (*domain.Vendor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vendors[id]
	if !ok {
		return nil, domain.NotFound("vendor", id)
	}
	c := *v
	return &c, nil
}

func (f *fakeVendors) List(_ context.Context) ([]*domain.Vendor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Vendor, 0, len(f.vendors))
	for _, v := range f.vendors {
		c := *v
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeVendors) AddProduct(_ context.Context, vendorID, productID string) (bool, error) {
	return f.update(vendorID, func(v *domain.Vendor) bool { return v.AddProduct(productID) })
}

func (f *fakeVendors) RemoveProduct(_ context.Context, vendorID, productID string) (bool, error) {
	return f.update(vendorID, func(v *domain.Vendor) bool { return v.RemoveProduct(productID) })
}

func (f *fakeVendors) AddSale(_ context.Context, vendorID, productID string) (bool, error) {
	return f.update(vendorID, func(v *domain.Vendor) bool { return v.AddSale(productID) })
}

func (f *fakeVendors) RefreshProductCount(_ context.Context, vendorID string) (int, error) {
	var n int
	_, err := f.update(vendorID, func(v *domain.Vendor) bool {
		v.NumberOfProducts = len(v.ProductIDs)
		n = v.NumberOfProducts
		return true
	})
	return n, err
}

type fakeOutbox struct {
	mu      sync.Mutex
	changes []domain.IndexChange
}

func (f *fakeOutbox) add(c domain.IndexChange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, c)
}

func (f *fakeOutbox) Pending(_ context.Context, limit int) ([]domain.IndexChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.IndexChange
	for _, c := range f.changes {
		if c.AppliedAt == nil {
			out = append(out, c)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeOutbox) find(id string) *domain.IndexChange {
	for i := range f.changes {
		if f.changes[i].ID == id {
			return &f.changes[i]
		}
	}
	return nil
}

func (f *fakeOutbox) MarkApplied(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.find(id)
	if c == nil {
		return domain.NotFound("index change", id)
	}
	c.Attempts++
	if c.AppliedAt == nil {
		c.AppliedAt = &at
	}
	return nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id string, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.find(id)
	if c == nil {
		return domain.NotFound("index change", id)
	}
	c.Attempts++
	c.LastError = cause
	return nil
}

type fakeProducts struct {
	mu       sync.Mutex
	products map[string]*domain.Product
}

func newFakeProducts() *fakeProducts {
	return &fakeProducts{products: map[string]*domain.Product{}}
}

func (f *fakeProducts) put(id, vendorID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[id] = &domain.Product{ID: id, VendorID: vendorID}
}

func (f *fakeProducts) FindByID(_ context.Context, id string) (*domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return nil, domain.NotFound("product", id)
	}
	return p.Clone(), nil
}

func (f *fakeProducts) OwnedIDs(_ context.Context) (map[string][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	owned := map[string][]string{}
	for _, p := range f.products {
		owned[p.VendorID] = append(owned[p.VendorID], p.ID)
	}
	for _, ids := range owned {
		sort.Strings(ids)
	}
	return owned, nil
}

var errVendorLocked = errors.New("vendor locked")
