// Package mongostore implements the catalog repositories on MongoDB. Aggregate commits use
// multi-document transactions, which need a replica set deployment.
package mongostore

import (
	"context"
	"fmt"

	"shop-catalog/internal/domain"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Collection names
const (
	ProductsCollection = "products"
	VariantsCollection = "product_variants"
	VendorsCollection  = "vendors"
	OutboxCollection   = "vendor_index_outbox"
)

// EnsureIndexes creates the secondary indexes the repositories query by
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		ProductsCollection: {
			{Keys: bson.D{{Key: "vendorId", Value: 1}}},
			{Keys: bson.D{{Key: "trendingScore", Value: -1}}},
		},
		VariantsCollection: {
			{Keys: bson.D{{Key: "productId", Value: 1}, {Key: "position", Value: 1}}},
		},
		OutboxCollection: {
			{Keys: bson.D{{Key: "appliedAt", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
	}

	for coll, models := range indexes {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// inTransaction runs fn inside a session transaction. The driver retries fn on transient
// transaction errors such as write conflicts.
func inTransaction(ctx context.Context, client *mongo.Client, fn func(ctx context.Context) error) error {
	session, err := client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func changeDocs(changes []domain.IndexChange) []any {
	docs := make([]any, 0, len(changes))
	for _, c := range changes {
		docs = append(docs, c)
	}
	return docs
}

func insertChanges(ctx context.Context, coll *mongo.Collection, changes []domain.IndexChange) error {
	if len(changes) == 0 {
		return nil
	}
	_, err := coll.InsertMany(ctx, changeDocs(changes))
	return err
}
