package mongostore

import (
	"context"
	"time"

	"shop-catalog/internal/domain"
	"shop-catalog/internal/repository"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type outboxStore struct {
	outbox *mongo.Collection
}

// NewOutboxRepository creates a MongoDB backed repository.OutboxRepository
func NewOutboxRepository(db *mongo.Database) repository.OutboxRepository {
	return &outboxStore{outbox: db.Collection(OutboxCollection)}
}

// pending matches records without an appliedAt field
var pending = bson.M{"appliedAt": nil}

func (s *outboxStore) Pending(ctx context.Context, limit int) ([]domain.IndexChange, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := s.outbox.Find(ctx, pending, opts)
	if err != nil {
		return nil, domain.WrapStore("list pending index changes", err)
	}

	changes := make([]domain.IndexChange, 0)
	if err := cursor.All(ctx, &changes); err != nil {
		return nil, domain.WrapStore("decode index changes", err)
	}
	return changes, nil
}

func (s *outboxStore) MarkApplied(ctx context.Context, id string, at time.Time) error {
	res, err := s.outbox.UpdateOne(ctx, bson.M{"_id": id, "appliedAt": nil}, bson.M{
		"$set": bson.M{"appliedAt": at, "lastError": ""},
		"$inc":   bson.M{"attempts": 1},
	})
	if err != nil {
		return domain.WrapStore("mark index change applied", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	// Already applied is fine, unknown is not
	n, err := s.outbox.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return domain.WrapStore("mark index change applied", err)
	}
	if n == 0 {
		return domain.NotFound("index change", id)
	}
	return nil
}

func (s *outboxStore) MarkFailed(ctx context.Context, id string, cause string) error {
	res, err := s.outbox.UpdateOne(ctx, bson.M{"_id": id, "appliedAt": nil}, bson.M{
		"$set": bson.M{"lastError": cause},
		"$inc": bson.M{"attempts": 1},
	})
	if err != nil {
		return domain.WrapStore("mark index change failed", err)
	}
	if res.MatchedCount == 0 {
		return domain.NotFound("index change", id)
	}
	return nil
}
