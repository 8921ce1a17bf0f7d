package service

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"shop-catalog/internal/blob"
	"shop-catalog/internal/domain"
	"shop-catalog/internal/repository"
)

// memProducts is an in-memory ProductRepository
type memProducts struct {
	mu        sync.Mutex
	products  map[string]*domain.Product
	variants  map[string][]domain.Variant
	outbox    []domain.IndexChange
	createErr error
}

var _ repository.ProductRepository = (*memProducts)(nil)

func newMemProducts() *memProducts {
	return &memProducts{
		products: make(map[string]*domain.Product),
		variants: make(map[string][]domain.Variant),
	}
}

func (m *memProducts) CreateAggregate(_ context.Context, p *domain.Product, variants []domain.Variant, changes []domain.IndexChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return domain.WrapStore("create product", m.createErr)
	}
	stored := p.Clone()
	stored.Version = 1
	m.products[p.ID] = stored
	m.variants[p.ID] = append([]domain.Variant(nil), variants...)
	m.outbox = append(m.outbox, changes...)
	return nil
}

func (m *memProducts) ReplaceAggregate(_ context.Context, id string, variants []domain.Variant, fn repository.MutateFunc) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.products[id]
	if !ok {
		return nil, domain.NotFound("product", id)
	}
	next := current.Clone()
	changes, err := fn(next)
	if err != nil {
		return nil, err
	}
	next.Version++
	m.products[id] = next
	m.variants[id] = append([]domain.Variant(nil), variants...)
	m.outbox = append(m.outbox, changes...)
	return next.Clone(), nil
}

func (m *memProducts) DeleteAggregate(_ context.Context, id string, fn repository.MutateFunc) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.products[id]
	if !ok {
		return nil, domain.NotFound("product", id)
	}
	changes, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}
	delete(m.products, id)
	delete(m.variants, id)
	m.outbox = append(m.outbox, changes...)
	return current, nil
}

func (m *memProducts) Mutate(_ context.Context, id string, fn repository.MutateFunc) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.products[id]
	if !ok {
		return nil, domain.NotFound("product", id)
	}
	next := current.Clone()
	changes, err := fn(next)
	if err != nil {
		return nil, err
	}
	next.Version = current.Version + 1
	m.products[id] = next
	m.outbox = append(m.outbox, changes...)
	return next.Clone(), nil
}

func (m *memProducts) FindByID(_ context.Context, id string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, domain.NotFound("product", id)
	}
	return p.Clone(), nil
}

func (m *memProducts) FindVariants(_ context.Context, productID string) ([]domain.Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Variant(nil), m.variants[productID]...), nil
}

func (m *memProducts) sorted(keep func(p *domain.Product) bool) []*domain.Product {
	out := make([]*domain.Product, 0, len(m.products))
	for _, p := range m.products {
		if keep(p) {
			out = append(out, p.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *domain.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (m *memProducts) List(_ context.Context) ([]*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(*domain.Product) bool { return true }), nil
}

func (m *memProducts) FindByIDs(_ context.Context, ids []string) ([]*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(p *domain.Product) bool { return slices.Contains(ids, p.ID) }), nil
}

func (m *memProducts) TopTrending(_ context.Context, limit int, vendorID string) ([]*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sorted(func(p *domain.Product) bool { return vendorID == "" || p.VendorID == vendorID })
	slices.SortStableFunc(out, func(a, b *domain.Product) int { return cmp.Compare(b.TrendingScore, a.TrendingScore) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memProducts) Page(_ context.Context, afterID string, limit int) ([]*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sorted(func(p *domain.Product) bool { return p.ID > afterID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memProducts) ApplyScores(_ context.Context, updates []domain.ScoreUpdate, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range updates {
		if p, ok := m.products[u.ProductID]; ok && p.Version == u.Version {
			p.TrendingScore = u.Score
			p.LastTrendingUpdate = &at
			p.Version++
		}
	}
	return nil
}

func (m *memProducts) OwnedIDs(_ context.Context) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owned := make(map[string][]string)
	for _, p := range m.sorted(func(*domain.Product) bool { return true }) {
		owned[p.VendorID] = append(owned[p.VendorID], p.ID)
	}
	return owned, nil
}

func (m *memProducts) changes() []domain.IndexChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.IndexChange(nil), m.outbox...)
}

// memIndex applies index changes to in-memory vendor documents and serves them to the router
type memIndex struct {
	mu       sync.Mutex
	vendors  map[string]*domain.Vendor
	applied  []domain.IndexChange
	applyErr error
}

func newMemIndex(vendorIDs ...string) *memIndex {
	idx := &memIndex{vendors: make(map[string]*domain.Vendor)}
	for _, id := range vendorIDs {
		idx.vendors[id] = &domain.Vendor{ID: id, ProductIDs: []string{}, SalesProducts: []string{}}
	}
	return idx
}

func (i *memIndex) Apply(_ context.Context, change domain.IndexChange) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.applyErr != nil {
		return i.applyErr
	}
	i.applied = append(i.applied, change)
	v, ok := i.vendors[change.VendorID]
	if !ok {
		return nil
	}
	switch change.Op {
	case domain.IndexOpAdd:
		v.AddProduct(change.ProductID)
	case domain.IndexOpRemove:
		v.RemoveProduct(change.ProductID)
	case domain.IndexOpSale:
		v.AddSale(change.ProductID)
	}
	return nil
}

func (i *memIndex) Get(_ context.Context, id string) (*domain.Vendor, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	v, ok := i.vendors[id]
	if !ok {
		return nil, domain.NotFound("vendor", id)
	}
	c := *v
	c.ProductIDs = append([]string(nil), v.ProductIDs...)
	c.SalesProducts = append([]string(nil), v.SalesProducts...)
	return &c, nil
}

type fakeUploader struct {
	gotPath string
}

func (f *fakeUploader) UploadImage(_ context.Context, img blob.Image, objectPath string) (string, error) {
	f.gotPath = objectPath
	return "https://cdn.example.com/" + img.Filename, nil
}
