// Package query selects how product listings are read based on the caller's role
package query

import (
	"context"
	"errors"
	"fmt"

	"shop-catalog/internal/domain"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxInValues is the largest id list a single membership query may carry
const DefaultMaxInValues = 30

const chunkParallelism = 4

// ProductReader is the product side of the store used for listings
type ProductReader interface {
	List(ctx context.Context) ([]*domain.Product, error)
	FindByIDs(ctx context.Context, ids []string) ([]*domain.Product, error)
}

// VendorReader loads a vendor's index document
type VendorReader interface {
	Get(ctx context.Context, id string) (*domain.Vendor, error)
}

// Strategy produces a product listing
type Strategy interface {
	Name() string
	List(ctx context.Context) ([]*domain.Product, error)
}

// PrivilegedScan lists the whole catalog
type PrivilegedScan struct {
	products ProductReader
}

func (s PrivilegedScan) Name() string { return "privileged_scan" }

func (s PrivilegedScan) List(ctx context.Context) ([]*domain.Product, error) {
	products, err := s.products.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scan products: %w", err)
	}
	return products, nil
}

// VendorRestricted lists the products referenced by one vendor's index, querying them in
// chunks of at most MaxInValues ids
type VendorRestricted struct {
	products    ProductReader
	vendors     VendorReader
	VendorID    string
	MaxInValues int
}

func (s VendorRestricted) Name() string { return "vendor_restricted" }

// List returns the vendor's products in productIds order. A missing vendor or an empty index
// yields an empty listing. Products that no longer belong to the vendor are dropped.
func (s VendorRestricted) List(ctx context.Context) ([]*domain.Product, error) {
	vendor, err := s.vendors.Get(ctx, s.VendorID)
	if errors.Is(err, domain.ErrNotFound) {
		return []*domain.Product{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load vendor %s: %w", s.VendorID, err)
	}
	if len(vendor.ProductIDs) == 0 {
		return []*domain.Product{}, nil
	}

	chunks := Chunk(vendor.ProductIDs, s.MaxInValues)
	results := make([][]*domain.Product, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(chunkParallelism)
	for i, ids := range chunks {
		g.Go(func() error {
			products, err := s.products.FindByIDs(gctx, ids)
			if err != nil {
				return fmt.Errorf("failed to load product chunk %d: %w", i, err)
			}
			results[i] = products
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]*domain.Product, len(vendor.ProductIDs))
	for _, chunk := range results {
		for _, p := range chunk {
			if p.VendorID == s.VendorID {
				byID[p.ID] = p
			}
		}
	}

	products := make([]*domain.Product, 0, len(byID))
	for _, id := range vendor.ProductIDs {
		if p, ok := byID[id]; ok {
			products = append(products, p)
			delete(byID, id)
		}
	}
	return products, nil
}

// Chunk splits ids into consecutive groups of at most size elements
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultMaxInValues
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// Router picks a Strategy per call
type Router struct {
	products    ProductReader
	vendors     VendorReader
	maxInValues int
}

// NewRouter creates a Router. maxInValues bounds each membership query.
func NewRouter(products ProductReader, vendors VendorReader, maxInValues int) *Router {
	if maxInValues <= 0 {
		maxInValues = DefaultMaxInValues
	}
	return &Router{products: products, vendors: vendors, maxInValues: maxInValues}
}

// Select returns the strategy for role. Vendors must identify themselves.
func (r *Router) Select(role domain.Role, vendorID string) (Strategy, error) {
	switch {
	case role.IsPrivileged():
		return PrivilegedScan{products: r.products}, nil
	case role == domain.RoleVendor:
		if vendorID == "" {
			return nil, domain.Invalid("vendorId", "vendor role requires a vendor id")
		}
		return VendorRestricted{
			products:    r.products,
			vendors:     r.vendors,
			VendorID:    vendorID,
			MaxInValues: r.maxInValues,
		}, nil
	default:
		return nil, domain.Invalid("role", fmt.Sprintf("unknown role %q", role))
	}
}
