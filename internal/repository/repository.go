// Package repository holds the document store contracts of the catalog and their PostgreSQL
// implementation. The mongostore subpackage implements the same contracts on MongoDB.
package repository

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"shop-catalog/internal/domain"
)

// ErrConflict reports that a conditional write lost to a concurrent writer
var ErrConflict = errors.New("concurrent modification")

// MutateFunc edits a private copy of the current product and returns the vendor index changes to
// commit alongside it. Returning an error aborts the transaction.
type MutateFunc func(p *domain.Product) ([]domain.IndexChange, error)

// ProductRepository defines product aggregate persistence
type ProductRepository interface {
	// CreateAggregate commits the product, its variants and the outbox records atomically
	CreateAggregate(ctx context.Context, p *domain.Product, variants []domain.Variant, changes []domain.IndexChange) error
	// ReplaceAggregate locks the product, applies fn, replaces the whole variant set and commits
	ReplaceAggregate(ctx context.Context, id string, variants []domain.Variant, fn MutateFunc) (*domain.Product, error)
	// DeleteAggregate removes the product with all its variants; fn sees the deleted product
	DeleteAggregate(ctx context.Context, id string, fn MutateFunc) (*domain.Product, error)
	// Mutate is a single-document transaction with an optimistic version check
	Mutate(ctx context.Context, id string, fn MutateFunc) (*domain.Product, error)

	FindByID(ctx context.Context, id string) (*domain.Product, error)
	FindVariants(ctx context.Context, productID string) ([]domain.Variant, error)
	List(ctx context.Context) ([]*domain.Product, error)
	FindByIDs(ctx context.Context, ids []string) ([]*domain.Product, error)
	TopTrending(ctx context.Context, limit int, vendorID string) ([]*domain.Product, error)

	// Page returns up to limit products with id > afterID, ordered by id
	Page(ctx context.Context, afterID string, limit int) ([]*domain.Product, error)
	// ApplyScores writes all scores and stamps lastTrendingUpdate in one commit, skipping products
	// whose version no longer matches the update
	ApplyScores(ctx context.Context, updates []domain.ScoreUpdate, at time.Time) error
	// OwnedIDs groups every product id by its vendor
	OwnedIDs(ctx context.Context) (map[string][]string, error)
}

// VendorRepository defines vendor index persistence. The set operations report whether the
// stored set changed and return a NotFound error when the vendor does not exist.
type VendorRepository interface {
	Create(ctx context.Context, v *domain.Vendor) error
	Get(ctx context.Context, id string) (*domain.Vendor, error)
	List(ctx context.Context) ([]*domain.Vendor, error)
	AddProduct(ctx context.Context, vendorID, productID string) (bool, error)
	RemoveProduct(ctx context.Context, vendorID, productID string) (bool, error)
	AddSale(ctx context.Context, vendorID, productID string) (bool, error)
	RefreshProductCount(ctx context.Context, vendorID string) (int, error)
}

// OutboxRepository defines access to pending vendor index changes. Records are inserted by
// ProductRepository inside the aggregate commit.
type OutboxRepository interface {
	Pending(ctx context.Context, limit int) ([]domain.IndexChange, error)
	MarkApplied(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, cause string) error
}

const (
	baseBackoff = 2 * time.Millisecond
	maxBackoff  = 100 * time.Millisecond
)

// WithRetry runs fn until it returns something other than ErrConflict, sleeping a jittered,
// exponentially growing delay between attempts. A non-positive attempts keeps retrying until ctx
// is done.
func WithRetry(ctx context.Context, attempts int, fn func() error) error {
	backoff := baseBackoff
	for i := 1; ; i++ {
		err := fn()
		if !errors.Is(err, ErrConflict) || (attempts > 0 && i >= attempts) {
			return err
		}

		delay := backoff/2 + rand.N(backoff)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = min(backoff*2, maxBackoff)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
