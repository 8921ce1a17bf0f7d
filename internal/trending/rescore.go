package trending

import (
	"context"
	"fmt"
	"time"

	"shop-catalog/internal/domain"

	"go.uber.org/zap"
)

// MaxBatchSize caps the number of products written in one rescore commit
const MaxBatchSize = 500

// Store is the slice of the product repository the rescore job needs
type Store interface {
	// Page returns up to limit products with id > afterID, ordered by id
	Page(ctx context.Context, afterID string, limit int) ([]*domain.Product, error)
	// ApplyScores writes every score still matching its version and sets lastTrendingUpdate = at in
	// one commit
	ApplyScores(ctx context.Context, updates []domain.ScoreUpdate, at time.Time) error
}

// RunStats summarizes one rescore run
type RunStats struct {
	Pages    int
	Products int
}

// Rescorer recomputes the trending score of every product
type Rescorer struct {
	store     Store
	clock     Clock
	batchSize int
	logger    *zap.Logger
}

// NewRescorer creates a Rescorer. batchSize is clamped to (0, MaxBatchSize].
func NewRescorer(store Store, clock Clock, batchSize int, logger *zap.Logger) *Rescorer {
	if batchSize <= 0 || batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Rescorer{store: store, clock: clock, batchSize: batchSize, logger: logger}
}

// Run pages through the catalog and commits one batch of scores per page. A failed page aborts
// the run; pages already committed stay committed.
func (r *Rescorer) Run(ctx context.Context) (RunStats, error) {
	var stats RunStats
	afterID := ""

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		products, err := r.store.Page(ctx, afterID, r.batchSize)
		if err != nil {
			return stats, fmt.Errorf("failed to load products after %q: %w", afterID, err)
		}
		if len(products) == 0 {
			break
		}

		now := r.clock()
		updates := make([]domain.ScoreUpdate, 0, len(products))
		for _, p := range products {
			updates = append(updates, domain.ScoreUpdate{ProductID: p.ID, Score: Score(p, now), Version: p.Version})
		}

		if err := r.store.ApplyScores(ctx, updates, now); err != nil {
			return stats, fmt.Errorf("failed to apply trending scores: %w", err)
		}

		stats.Pages++
		stats.Products += len(products)
		afterID = products[len(products)-1].ID

		r.logger.Debug("Rescored page",
			zap.Int("page", stats.Pages),
			zap.Int("size", len(products)),
			zap.String("last_id", afterID),
		)

		if len(products) < r.batchSize {
			break
		}
	}

	r.logger.Info("Trending scores updated",
		zap.Int("pages", stats.Pages),
		zap.Int("products", stats.Products),
	)
	return stats, nil
}
