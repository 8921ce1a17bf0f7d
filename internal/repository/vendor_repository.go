package repository

import (
	"context"
	"errors"
	"time"

	"shop-catalog/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const vendorColumns = `id, product_ids, sales_products, number_of_products, updated_at`

type vendorRepository struct {
	pool *pgxpool.Pool
}

// NewVendorRepository creates a PostgreSQL backed VendorRepository. Set operations lock only the
// vendor row, so concurrent updates to one vendor queue instead of retrying.
func NewVendorRepository(pool *pgxpool.Pool) VendorRepository {
	return &vendorRepository{pool: pool}
}

func scanVendor(row rowScanner) (*domain.Vendor, error) {
	var v domain.Vendor
	if err := row.Scan(&v.ID, &v.ProductIDs, &v.SalesProducts, &v.NumberOfProducts, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

// Create inserts a vendor index document
func (r *vendorRepository) Create(ctx context.Context, v *domain.Vendor) error {
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = time.Now().UTC()
	}
	v.NumberOfProducts = len(v.ProductIDs)

	_, err := r.pool.Exec(ctx, `INSERT INTO vendors (`+vendorColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		v.ID, nonNil(v.ProductIDs), nonNil(v.SalesProducts), v.NumberOfProducts, v.UpdatedAt)
	return domain.WrapStore("create vendor", err)
}

// Get retrieves a vendor by its ID
func (r *vendorRepository) Get(ctx context.Context, id string) (*domain.Vendor, error) {
	v, err := scanVendor(r.pool.QueryRow(ctx, `SELECT `+vendorColumns+` FROM vendors WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("vendor", id)
	}
	if err != nil {
		return nil, domain.WrapStore("get vendor", err)
	}
	return v, nil
}

// List returns all vendors ordered by id
func (r *vendorRepository) List(ctx context.Context) ([]*domain.Vendor, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+vendorColumns+` FROM vendors ORDER BY id`)
	if err != nil {
		return nil, domain.WrapStore("list vendors", err)
	}
	defer rows.Close()

	vendors := make([]*domain.Vendor, 0)
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, domain.WrapStore("scan vendor", err)
		}
		vendors = append(vendors, v)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapStore("list vendors", err)
	}
	return vendors, nil
}

// update runs fn against the locked vendor row and writes the result back with a fresh updatedAt
func (r *vendorRepository) update(ctx context.Context, id string, fn func(v *domain.Vendor) bool) (*domain.Vendor, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, domain.WrapStore("begin vendor update", err)
	}
	defer tx.Rollback(ctx)

	v, err := scanVendor(tx.QueryRow(ctx, `SELECT `+vendorColumns+` FROM vendors WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, domain.NotFound("vendor", id)
	}
	if err != nil {
		return nil, false, domain.WrapStore("lock vendor", err)
	}

	changed := fn(v)
	v.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
		UPDATE vendors
		SET product_ids = $2, sales_products = $3, number_of_products = $4, updated_at = $5
		WHERE id = $1`,
		v.ID, nonNil(v.ProductIDs), nonNil(v.SalesProducts), v.NumberOfProducts, v.UpdatedAt,
	)
	if err != nil {
		return nil, false, domain.WrapStore("update vendor", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, domain.WrapStore("commit vendor update", err)
	}
	return v, changed, nil
}

// AddProduct unions productID into the vendor's product set
func (r *vendorRepository) AddProduct(ctx context.Context, vendorID, productID string) (bool, error) {
	_, changed, err := r.update(ctx, vendorID, func(v *domain.Vendor) bool {
		return v.AddProduct(productID)
	})
	return changed, err
}

// RemoveProduct removes productID from the vendor's product set
func (r *vendorRepository) RemoveProduct(ctx context.Context, vendorID, productID string) (bool, error) {
	_, changed, err := r.update(ctx, vendorID, func(v *domain.Vendor) bool {
		return v.RemoveProduct(productID)
	})
	return changed, err
}

// AddSale unions productID into the vendor's sold product set
func (r *vendorRepository) AddSale(ctx context.Context, vendorID, productID string) (bool, error) {
	_, changed, err := r.update(ctx, vendorID, func(v *domain.Vendor) bool {
		return v.AddSale(productID)
	})
	return changed, err
}

// RefreshProductCount recomputes numberOfProducts from the product set
func (r *vendorRepository) RefreshProductCount(ctx context.Context, vendorID string) (int, error) {
	v, _, err := r.update(ctx, vendorID, func(v *domain.Vendor) bool {
		before := v.NumberOfProducts
		v.NumberOfProducts = len(v.ProductIDs)
		return before != v.NumberOfProducts
	})
	if err != nil {
		return 0, err
	}
	return v.NumberOfProducts, nil
}
