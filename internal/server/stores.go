package server

import (
	"context"
	"fmt"

	"shop-catalog/internal/config"
	"shop-catalog/internal/database"
	"shop-catalog/internal/repository"
	"shop-catalog/internal/repository/mongostore"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
)

// Stores holds the repositories of the configured store driver
type Stores struct {
	Products repository.ProductRepository
	Vendors  repository.VendorRepository
	Outbox   repository.OutboxRepository

	// Pool is set for the postgres driver
	Pool *pgxpool.Pool
	// Mongo is set for the mongo driver
	Mongo *mongo.Client
}

// OpenStores connects to the store selected by cfg.Store.Driver. Postgres migrations and
// mongo indexes are applied when migrate is true.
func OpenStores(ctx context.Context, cfg *config.Config, migrate bool, logger *zap.Logger) (*Stores, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pool, err := database.NewPostgres(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := database.RunMigrations(pool, logger); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return &Stores{
			Products: repository.NewProductRepository(pool, cfg.Catalog.TxRetryAttempts),
			Vendors:  repository.NewVendorRepository(pool),
			Outbox:   repository.NewOutboxRepository(pool),
			Pool:     pool,
		}, nil

	case config.StoreDriverMongo:
		client, db, err := database.NewMongo(ctx, cfg.Mongo, logger)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := mongostore.EnsureIndexes(ctx, db); err != nil {
				_ = client.Disconnect(context.Background())
				return nil, fmt.Errorf("failed to ensure mongo indexes: %w", err)
			}
		}
		return &Stores{
			Products: mongostore.NewProductRepository(db, cfg.Catalog.TxRetryAttempts),
			Vendors:  mongostore.NewVendorRepository(db),
			Outbox:   mongostore.NewOutboxRepository(db),
			Mongo:    client,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Health reports store status for /health
func (s *Stores) Health(ctx context.Context) map[string]string {
	if s.Pool != nil {
		return database.Health(ctx, s.Pool)
	}
	return database.MongoHealth(ctx, s.Mongo)
}

// Close releases the store connections
func (s *Stores) Close(ctx context.Context) error {
	if s.Pool != nil {
		s.Pool.Close()
	}
	if s.Mongo != nil {
		if err := s.Mongo.Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to disconnect mongo: %w", err)
		}
	}
	return nil
}
