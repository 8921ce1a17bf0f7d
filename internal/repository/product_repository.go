package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shop-catalog/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const productColumns = `id, product_type, title_en, title_ar, description_en, description_ar, price,
	discount_price, quantity, sku, brand_id, category_id, sub_category_id, main_image, images, tags,
	vendor_id, rating_average, rating_count, views, sold_count, wishlist_count, cart_adds,
	trending_score, last_trending_update, created_at, updated_at, version`

const variantColumns = `id, product_id, title_en, title_ar, attributes, price, discount_price, quantity,
	sku, main_image, images, position`

type rowScanner interface {
	Scan(dest ...any) error
}

type productRepository struct {
	pool          *pgxpool.Pool
	retryAttempts int
}

// NewProductRepository creates a PostgreSQL backed ProductRepository. retryAttempts bounds the
// optimistic retries of Mutate; zero retries until the context is done.
func NewProductRepository(pool *pgxpool.Pool, retryAttempts int) ProductRepository {
	return &productRepository{pool: pool, retryAttempts: retryAttempts}
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID, &p.ProductType, &p.Title.EN, &p.Title.AR, &p.Description.EN, &p.Description.AR,
		&p.Price, &p.DiscountPrice, &p.Quantity, &p.SKU, &p.BrandID, &p.CategoryID, &p.SubCategoryID,
		&p.MainImage, &p.Images, &p.Tags, &p.VendorID, &p.RatingSummary.Average, &p.RatingSummary.Count,
		&p.Views, &p.SoldCount, &p.WishlistCount, &p.CartAdds, &p.TrendingScore, &p.LastTrendingUpdate,
		&p.CreatedAt, &p.UpdatedAt, &p.Version,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanProducts(rows pgx.Rows) ([]*domain.Product, error) {
	defer rows.Close()

	products := make([]*domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}
	return products, nil
}

func queueInsertVariants(batch *pgx.Batch, variants []domain.Variant) error {
	for _, v := range variants {
		attrs, err := json.Marshal(v.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes of variant %s: %w", v.ID, err)
		}
		batch.Queue(`INSERT INTO product_variants (`+variantColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			v.ID, v.ProductID, v.Title.EN, v.Title.AR, attrs, v.Price, v.DiscountPrice, v.Quantity,
			v.SKU, v.MainImage, nonNil(v.Images), v.Position,
		)
	}
	return nil
}

func queueInsertChanges(batch *pgx.Batch, changes []domain.IndexChange) {
	for _, c := range changes {
		batch.Queue(`INSERT INTO vendor_index_outbox (id, vendor_id, product_id, op, created_at, attempts, last_error)
			VALUES ($1, $2, $3, $4, $5, 0, '')`,
			c.ID, c.VendorID, c.ProductID, string(c.Op), c.CreatedAt,
		)
	}
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	return tx.SendBatch(ctx, batch).Close()
}

// updateProduct writes every mutable column if the stored version still matches p.Version
func updateProduct(ctx context.Context, tx pgx.Tx, p *domain.Product) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE products
		SET product_type = $3, title_en = $4, title_ar = $5, description_en = $6, description_ar = $7,
		    price = $8, discount_price = $9, quantity = $10, sku = $11, brand_id = $12, category_id = $13,
		    sub_category_id = $14, main_image = $15, images = $16, tags = $17, vendor_id = $18,
		    rating_average = $19, rating_count = $20, views = $21, sold_count = $22,
		    wishlist_count = $23, cart_adds = $24, trending_score = $25, last_trending_update = $26,
		    updated_at = $27, version = version + 1
		WHERE id = $1 AND version = $2`,
		p.ID, p.Version, string(p.ProductType), p.Title.EN, p.Title.AR, p.Description.EN, p.Description.AR,
		p.Price, p.DiscountPrice, p.Quantity, p.SKU, p.BrandID, p.CategoryID,
		p.SubCategoryID, p.MainImage, nonNil(p.Images), nonNil(p.Tags), p.VendorID,
		p.RatingSummary.Average, p.RatingSummary.Count, p.Views, p.SoldCount,
		p.WishlistCount, p.CartAdds, p.TrendingScore, p.LastTrendingUpdate,
		p.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *productRepository) lockProduct(ctx context.Context, tx pgx.Tx, id string) (*domain.Product, error) {
	p, err := scanProduct(tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("product", id)
	}
	return p, err
}

// CreateAggregate inserts the product, its variants and the outbox records in one transaction
func (r *productRepository) CreateAggregate(ctx context.Context, p *domain.Product, variants []domain.Variant, changes []domain.IndexChange) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.WrapStore("begin create product", err)
	}
	defer tx.Rollback(ctx)

	if p.Version == 0 {
		p.Version = 1
	}

	batch := &pgx.Batch{}
	batch.Queue(`INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
		        $20, $21, $22, $23, $24, $25, $26, $27, $28)`,
		p.ID, string(p.ProductType), p.Title.EN, p.Title.AR, p.Description.EN, p.Description.AR, p.Price,
		p.DiscountPrice, p.Quantity, p.SKU, p.BrandID, p.CategoryID, p.SubCategoryID, p.MainImage,
		nonNil(p.Images), nonNil(p.Tags), p.VendorID, p.RatingSummary.Average, p.RatingSummary.Count,
		p.Views, p.SoldCount, p.WishlistCount, p.CartAdds, p.TrendingScore, p.LastTrendingUpdate,
		p.CreatedAt, p.UpdatedAt, p.Version,
	)
	if err := queueInsertVariants(batch, variants); err != nil {
		return domain.WrapStore("create product", err)
	}
	queueInsertChanges(batch, changes)

	if err := sendBatch(ctx, tx, batch); err != nil {
		return domain.WrapStore("create product", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.WrapStore("commit create product", err)
	}
	return nil
}

// ReplaceAggregate updates the product row and swaps its variant set under a row lock
func (r *productRepository) ReplaceAggregate(ctx context.Context, id string, variants []domain.Variant, fn MutateFunc) (*domain.Product, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, domain.WrapStore("begin replace product", err)
	}
	defer tx.Rollback(ctx)

	current, err := r.lockProduct(ctx, tx, id)
	if err != nil {
		return nil, domain.WrapStore("load product", err)
	}

	next := current.Clone()
	changes, err := fn(next)
	if err != nil {
		return nil, err
	}

	ok, err := updateProduct(ctx, tx, next)
	if err != nil {
		return nil, domain.WrapStore("update product", err)
	}
	if !ok {
		return nil, domain.WrapStore("update product", ErrConflict)
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM product_variants WHERE product_id = $1`, id)
	if err := queueInsertVariants(batch, variants); err != nil {
		return nil, domain.WrapStore("replace variants", err)
	}
	queueInsertChanges(batch, changes)

	if err := sendBatch(ctx, tx, batch); err != nil {
		return nil, domain.WrapStore("replace variants", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, domain.WrapStore("commit replace product", err)
	}

	next.Version++
	return next, nil
}

// DeleteAggregate removes the product and its variants and records the outbox entries from fn
func (r *productRepository) DeleteAggregate(ctx context.Context, id string, fn MutateFunc) (*domain.Product, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, domain.WrapStore("begin delete product", err)
	}
	defer tx.Rollback(ctx)

	current, err := r.lockProduct(ctx, tx, id)
	if err != nil {
		return nil, domain.WrapStore("load product", err)
	}

	changes, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM product_variants WHERE product_id = $1`, id)
	batch.Queue(`DELETE FROM products WHERE id = $1`, id)
	queueInsertChanges(batch, changes)

	if err := sendBatch(ctx, tx, batch); err != nil {
		return nil, domain.WrapStore("delete product", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, domain.WrapStore("commit delete product", err)
	}
	return current, nil
}

// Mutate locks the product row, applies fn and writes it back conditioned on the version it read.
// Concurrent mutations of one product queue on the row lock, so each one lands.
func (r *productRepository) Mutate(ctx context.Context, id string, fn MutateFunc) (*domain.Product, error) {
	var result *domain.Product

	err := WithRetry(ctx, r.retryAttempts, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return domain.WrapStore("begin mutate product", err)
		}
		defer tx.Rollback(ctx)

		current, err := r.lockProduct(ctx, tx, id)
		if err != nil {
			return domain.WrapStore("load product", err)
		}

		next := current.Clone()
		changes, err := fn(next)
		if err != nil {
			return err
		}
		next.Version = current.Version

		ok, err := updateProduct(ctx, tx, next)
		if err != nil {
			return domain.WrapStore("update product", err)
		}
		if !ok {
			return ErrConflict
		}

		batch := &pgx.Batch{}
		queueInsertChanges(batch, changes)
		if err := sendBatch(ctx, tx, batch); err != nil {
			return domain.WrapStore("record index change", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return domain.WrapStore("commit mutate product", err)
		}

		next.Version++
		result = next
		return nil
	})
	if errors.Is(err, ErrConflict) {
		return nil, domain.WrapStore("mutate product", err)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FindByID retrieves a product by its ID
func (r *productRepository) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("product", id)
	}
	if err != nil {
		return nil, domain.WrapStore("find product", err)
	}
	return p, nil
}

// FindVariants returns the variants of a product in insertion order
func (r *productRepository) FindVariants(ctx context.Context, productID string) ([]domain.Variant, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+variantColumns+` FROM product_variants
		WHERE product_id = $1 ORDER BY position, id`, productID)
	if err != nil {
		return nil, domain.WrapStore("find variants", err)
	}
	defer rows.Close()

	variants := make([]domain.Variant, 0)
	for rows.Next() {
		var (
			v     domain.Variant
			attrs []byte
		)
		if err := rows.Scan(
			&v.ID, &v.ProductID, &v.Title.EN, &v.Title.AR, &attrs, &v.Price, &v.DiscountPrice,
			&v.Quantity, &v.SKU, &v.MainImage, &v.Images, &v.Position,
		); err != nil {
			return nil, domain.WrapStore("scan variant", err)
		}
		if err := json.Unmarshal(attrs, &v.Attributes); err != nil {
			return nil, domain.WrapStore("decode variant attributes", err)
		}
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapStore("find variants", err)
	}
	return variants, nil
}

// List returns every product, newest first
func (r *productRepository) List(ctx context.Context) ([]*domain.Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, domain.WrapStore("list products", err)
	}
	products, err := scanProducts(rows)
	return products, domain.WrapStore("list products", err)
}

// FindByIDs is a single membership query. Callers bound len(ids).
func (r *productRepository) FindByIDs(ctx context.Context, ids []string) ([]*domain.Product, error) {
	if len(ids) == 0 {
		return []*domain.Product{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, domain.WrapStore("find products by ids", err)
	}
	products, err := scanProducts(rows)
	return products, domain.WrapStore("find products by ids", err)
}

// TopTrending returns the highest scoring products, optionally restricted to one vendor
func (r *productRepository) TopTrending(ctx context.Context, limit int, vendorID string) ([]*domain.Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products
		WHERE ($2 = '' OR vendor_id = $2)
		ORDER BY trending_score DESC, id
		LIMIT $1`, limit, vendorID)
	if err != nil {
		return nil, domain.WrapStore("list trending products", err)
	}
	products, err := scanProducts(rows)
	return products, domain.WrapStore("list trending products", err)
}

// Page is keyset pagination over product ids
func (r *productRepository) Page(ctx context.Context, afterID string, limit int) ([]*domain.Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products
		WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, domain.WrapStore("page products", err)
	}
	products, err := scanProducts(rows)
	return products, domain.WrapStore("page products", err)
}

// ApplyScores commits a page of scores. Rows whose version moved since Page read them already carry
// a score from a newer counter mutation and are left alone.
func (r *productRepository) ApplyScores(ctx context.Context, updates []domain.ScoreUpdate, at time.Time) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.WrapStore("begin apply scores", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(`UPDATE products SET trending_score = $2, last_trending_update = $3, version = version + 1
			WHERE id = $1 AND version = $4`, u.ProductID, u.Score, at, u.Version)
	}
	if err := sendBatch(ctx, tx, batch); err != nil {
		return domain.WrapStore("apply scores", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.WrapStore("commit apply scores", err)
	}
	return nil
}

// OwnedIDs groups product ids by vendor, oldest product first
func (r *productRepository) OwnedIDs(ctx context.Context) (map[string][]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT vendor_id, id FROM products ORDER BY vendor_id, created_at, id`)
	if err != nil {
		return nil, domain.WrapStore("list product owners", err)
	}
	defer rows.Close()

	owned := make(map[string][]string)
	for rows.Next() {
		var vendorID, id string
		if err := rows.Scan(&vendorID, &id); err != nil {
			return nil, domain.WrapStore("scan product owner", err)
		}
		owned[vendorID] = append(owned[vendorID], id)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapStore("list product owners", err)
	}
	return owned, nil
}
