package mongostore

import (
	"context"
	"errors"
	"slices"
	"time"

	"shop-catalog/internal/domain"
	"shop-catalog/internal/repository"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type vendorStore struct {
	vendors *mongo.Collection
	now     func() time.Time
}

// NewVendorRepository creates a MongoDB backed repository.VendorRepository. Set operations use
// $addToSet and $pull so concurrent writers never race on a read-modify-write of the array.
func NewVendorRepository(db *mongo.Database) repository.VendorRepository {
	return &vendorStore{
		vendors: db.Collection(VendorsCollection),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// refreshCount recomputes numberOfProducts from the stored array
var refreshCount = mongo.Pipeline{
	{{Key: "$set", Value: bson.D{{Key: "numberOfProducts", Value: bson.D{{Key: "$size", Value: "$productIds"}}}}}},
}

func (s *vendorStore) Create(ctx context.Context, v *domain.Vendor) error {
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = s.now()
	}
	doc := *v
	doc.ProductIDs = nonNil(doc.ProductIDs)
	doc.SalesProducts = nonNil(doc.SalesProducts)
	doc.NumberOfProducts = len(doc.ProductIDs)
	v.NumberOfProducts = doc.NumberOfProducts

	_, err := s.vendors.InsertOne(ctx, doc)
	return domain.WrapStore("create vendor", err)
}

func (s *vendorStore) Get(ctx context.Context, id string) (*domain.Vendor, error) {
	var v domain.Vendor
	err := s.vendors.FindOne(ctx, bson.M{"_id": id}).Decode(&v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.NotFound("vendor", id)
	}
	if err != nil {
		return nil, domain.WrapStore("get vendor", err)
	}
	return &v, nil
}

func (s *vendorStore) List(ctx context.Context) ([]*domain.Vendor, error) {
	cursor, err := s.vendors.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, domain.WrapStore("list vendors", err)
	}

	vendors := make([]*domain.Vendor, 0)
	if err := cursor.All(ctx, &vendors); err != nil {
		return nil, domain.WrapStore("decode vendors", err)
	}
	return vendors, nil
}

// apply runs a single set operator against the vendor, refreshes the cached count and returns
// the document as it was before the update
func (s *vendorStore) apply(ctx context.Context, op, vendorID string, update bson.M) (*domain.Vendor, error) {
	update["$set"] = bson.M{"updatedAt": s.now()}

	var before domain.Vendor
	err := s.vendors.FindOneAndUpdate(ctx, bson.M{"_id": vendorID}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.Before)).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.NotFound("vendor", vendorID)
	}
	if err != nil {
		return nil, domain.WrapStore(op, err)
	}

	if _, err := s.vendors.UpdateOne(ctx, bson.M{"_id": vendorID}, refreshCount); err != nil {
		return nil, domain.WrapStore("refresh vendor product count", err)
	}
	return &before, nil
}

func (s *vendorStore) AddProduct(ctx context.Context, vendorID, productID string) (bool, error) {
	before, err := s.apply(ctx, "add vendor product", vendorID, bson.M{"$addToSet": bson.M{"productIds": productID}})
	if err != nil {
		return false, err
	}
	return !slices.Contains(before.ProductIDs, productID), nil
}

func (s *vendorStore) RemoveProduct(ctx context.Context, vendorID, productID string) (bool, error) {
	before, err := s.apply(ctx, "remove vendor product", vendorID, bson.M{"$pull": bson.M{"productIds": productID}})
	if err != nil {
		return false, err
	}
	return slices.Contains(before.ProductIDs, productID), nil
}

func (s *vendorStore) AddSale(ctx context.Context, vendorID, productID string) (bool, error) {
	before, err := s.apply(ctx, "add vendor sale", vendorID, bson.M{"$addToSet": bson.M{"salesProducts": productID}})
	if err != nil {
		return false, err
	}
	return !slices.Contains(before.SalesProducts, productID), nil
}

func (s *vendorStore) RefreshProductCount(ctx context.Context, vendorID string) (int, error) {
	res, err := s.vendors.UpdateOne(ctx, bson.M{"_id": vendorID}, refreshCount)
	if err != nil {
		return 0, domain.WrapStore("refresh vendor product count", err)
	}
	if res.MatchedCount == 0 {
		return 0, domain.NotFound("vendor", vendorID)
	}

	v, err := s.Get(ctx, vendorID)
	if err != nil {
		return 0, err
	}
	return v.NumberOfProducts, nil
}
