package mongostore

import (
	"context"
	"errors"
	"time"

	"shop-catalog/internal/domain"
	"shop-catalog/internal/repository"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type productStore struct {
	client        *mongo.Client
	products      *mongo.Collection
	variants      *mongo.Collection
	outbox        *mongo.Collection
	retryAttempts int
}

// NewProductRepository creates a MongoDB backed repository.ProductRepository. retryAttempts bounds
// the version conflict retries of Mutate; zero retries until the context is done.
func NewProductRepository(db *mongo.Database, retryAttempts int) repository.ProductRepository {
	return &productStore{
		client:        db.Client(),
		products:      db.Collection(ProductsCollection),
		variants:      db.Collection(VariantsCollection),
		outbox:        db.Collection(OutboxCollection),
		retryAttempts: retryAttempts,
	}
}

func (s *productStore) findOne(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.products.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.NotFound("product", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *productStore) insertVariants(ctx context.Context, variants []domain.Variant) error {
	if len(variants) == 0 {
		return nil
	}
	docs := make([]any, 0, len(variants))
	for _, v := range variants {
		v.Images = nonNil(v.Images)
		docs = append(docs, v)
	}
	_, err := s.variants.InsertMany(ctx, docs)
	return err
}

// replaceVersioned writes p if the stored version still equals p.Version
func (s *productStore) replaceVersioned(ctx context.Context, p *domain.Product) (bool, error) {
	next := *p
	next.Version = p.Version + 1
	next.Images = nonNil(next.Images)
	next.Tags = nonNil(next.Tags)

	res, err := s.products.ReplaceOne(ctx, bson.M{"_id": p.ID, "version": p.Version}, next)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// CreateAggregate inserts product, variants and outbox records in one transaction
func (s *productStore) CreateAggregate(ctx context.Context, p *domain.Product, variants []domain.Variant, changes []domain.IndexChange) error {
	if p.Version == 0 {
		p.Version = 1
	}
	doc := *p
	doc.Images = nonNil(doc.Images)
	doc.Tags = nonNil(doc.Tags)

	err := inTransaction(ctx, s.client, func(ctx context.Context) error {
		if _, err := s.products.InsertOne(ctx, doc); err != nil {
			return err
		}
		if err := s.insertVariants(ctx, variants); err != nil {
			return err
		}
		return insertChanges(ctx, s.outbox, changes)
	})
	return domain.WrapStore("create product", err)
}

// ReplaceAggregate updates the product and swaps its variant set in one transaction
func (s *productStore) ReplaceAggregate(ctx context.Context, id string, variants []domain.Variant, fn repository.MutateFunc) (*domain.Product, error) {
	var result *domain.Product

	err := inTransaction(ctx, s.client, func(ctx context.Context) error {
		current, err := s.findOne(ctx, id)
		if err != nil {
			return err
		}

		next := current.Clone()
		changes, err := fn(next)
		if err != nil {
			return err
		}
		next.Version = current.Version

		ok, err := s.replaceVersioned(ctx, next)
		if err != nil {
			return err
		}
		if !ok {
			return repository.ErrConflict
		}

		if _, err := s.variants.DeleteMany(ctx, bson.M{"productId": id}); err != nil {
			return err
		}
		if err := s.insertVariants(ctx, variants); err != nil {
			return err
		}
		if err := insertChanges(ctx, s.outbox, changes); err != nil {
			return err
		}

		next.Version++
		result = next
		return nil
	})
	if err != nil {
		return nil, domain.WrapStore("replace product", err)
	}
	return result, nil
}

// DeleteAggregate removes the product, its variants and records the changes from fn
func (s *productStore) DeleteAggregate(ctx context.Context, id string, fn repository.MutateFunc) (*domain.Product, error) {
	var deleted *domain.Product

	err := inTransaction(ctx, s.client, func(ctx context.Context) error {
		current, err := s.findOne(ctx, id)
		if err != nil {
			return err
		}

		changes, err := fn(current.Clone())
		if err != nil {
			return err
		}

		if _, err := s.variants.DeleteMany(ctx, bson.M{"productId": id}); err != nil {
			return err
		}
		if _, err := s.products.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
			return err
		}
		if err := insertChanges(ctx, s.outbox, changes); err != nil {
			return err
		}

		deleted = current
		return nil
	})
	if err != nil {
		return nil, domain.WrapStore("delete product", err)
	}
	return deleted, nil
}

// Mutate is a versioned single-document transaction retried on conflict until it lands or ctx is done
func (s *productStore) Mutate(ctx context.Context, id string, fn repository.MutateFunc) (*domain.Product, error) {
	var result *domain.Product

	err := repository.WithRetry(ctx, s.retryAttempts, func() error {
		return inTransaction(ctx, s.client, func(ctx context.Context) error {
			current, err := s.findOne(ctx, id)
			if err != nil {
				return err
			}

			next := current.Clone()
			changes, err := fn(next)
			if err != nil {
				return err
			}
			next.Version = current.Version

			ok, err := s.replaceVersioned(ctx, next)
			if err != nil {
				return err
			}
			if !ok {
				return repository.ErrConflict
			}
			if err := insertChanges(ctx, s.outbox, changes); err != nil {
				return err
			}

			next.Version++
			result = next
			return nil
		})
	})
	if err != nil {
		return nil, domain.WrapStore("mutate product", err)
	}
	return result, nil
}

func (s *productStore) findMany(ctx context.Context, op string, filter any, opts *options.FindOptionsBuilder) ([]*domain.Product, error) {
	cursor, err := s.products.Find(ctx, filter, opts)
	if err != nil {
		return nil, domain.WrapStore(op, err)
	}
	defer cursor.Close(ctx)

	products := make([]*domain.Product, 0)
	for cursor.Next(ctx) {
		var p domain.Product
		if err := cursor.Decode(&p); err != nil {
			return nil, domain.WrapStore(op, err)
		}
		products = append(products, &p)
	}
	if err := cursor.Err(); err != nil {
		return nil, domain.WrapStore(op, err)
	}
	return products, nil
}

// FindByID retrieves a product by its ID
func (s *productStore) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	p, err := s.findOne(ctx, id)
	if err != nil {
		return nil, domain.WrapStore("find product", err)
	}
	return p, nil
}

// FindVariants returns the variants of a product in insertion order
func (s *productStore) FindVariants(ctx context.Context, productID string) ([]domain.Variant, error) {
	opts := options.Find().SetSort(bson.D{{Key: "position", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.variants.Find(ctx, bson.M{"productId": productID}, opts)
	if err != nil {
		return nil, domain.WrapStore("find variants", err)
	}

	variants := make([]domain.Variant, 0)
	if err := cursor.All(ctx, &variants); err != nil {
		return nil, domain.WrapStore("decode variants", err)
	}
	return variants, nil
}

// List returns every product, newest first
func (s *productStore) List(ctx context.Context) ([]*domain.Product, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	return s.findMany(ctx, "list products", bson.M{}, opts)
}

// FindByIDs is a single $in query. Callers bound len(ids).
func (s *productStore) FindByIDs(ctx context.Context, ids []string) ([]*domain.Product, error) {
	if len(ids) == 0 {
		return []*domain.Product{}, nil
	}
	return s.findMany(ctx, "find products by ids", bson.M{"_id": bson.M{"$in": ids}}, options.Find())
}

// TopTrending returns the highest scoring products, optionally restricted to one vendor
func (s *productStore) TopTrending(ctx context.Context, limit int, vendorID string) ([]*domain.Product, error) {
	filter := bson.M{}
	if vendorID != "" {
		filter["vendorId"] = vendorID
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "trendingScore", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	return s.findMany(ctx, "list trending products", filter, opts)
}

// Page is keyset pagination over product ids
func (s *productStore) Page(ctx context.Context, afterID string, limit int) ([]*domain.Product, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit))
	return s.findMany(ctx, "page products", bson.M{"_id": bson.M{"$gt": afterID}}, opts)
}

// ApplyScores writes a page of scores as one bulk write inside a transaction. Products whose version
// moved since they were paged are skipped.
func (s *productStore) ApplyScores(ctx context.Context, updates []domain.ScoreUpdate, at time.Time) error {
	if len(updates) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(updates))
	for _, u := range updates {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": u.ProductID, "version": u.Version}).
			SetUpdate(bson.M{
				"$set": bson.M{"trendingScore": u.Score, "lastTrendingUpdate": at},
				"$inc": bson.M{"version": 1},
			}))
	}

	err := inTransaction(ctx, s.client, func(ctx context.Context) error {
		_, err := s.products.BulkWrite(ctx, models)
		return err
	})
	return domain.WrapStore("apply scores", err)
}

// OwnedIDs groups product ids by vendor, oldest product first
func (s *productStore) OwnedIDs(ctx context.Context) (map[string][]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1, "vendorId": 1}).
		SetSort(bson.D{{Key: "vendorId", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := s.products.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, domain.WrapStore("list product owners", err)
	}

	var rows []struct {
		ID       string `bson:"_id"`
		VendorID string `bson:"vendorId"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, domain.WrapStore("decode product owners", err)
	}

	owned := make(map[string][]string)
	for _, r := range rows {
		owned[r.VendorID] = append(owned[r.VendorID], r.ID)
	}
	return owned, nil
}
