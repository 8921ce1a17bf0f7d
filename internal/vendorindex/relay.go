package vendorindex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shop-catalog/internal/domain"
	"shop-catalog/internal/metrics"
	"shop-catalog/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRelayBatch = 100
	relayParallelism  = 8
)

// RelayStats summarizes one relay run
type RelayStats struct {
	Applied int
	Failed  int
}

// Relay drains pending outbox records through the Maintainer
type Relay struct {
	maintainer *Maintainer
	outbox     repository.OutboxRepository
	batchSize  int
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewRelay creates a Relay reading batchSize records per round
func NewRelay(maintainer *Maintainer, outbox repository.OutboxRepository, batchSize int, m *metrics.Metrics, logger *zap.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = defaultRelayBatch
	}
	return &Relay{maintainer: maintainer, outbox: outbox, batchSize: batchSize, metrics: m, logger: logger}
}

// Run applies pending changes oldest first until the outbox is empty or a round had failures.
// Changes of one vendor are applied in order; different vendors proceed in parallel. After a
// failure the remaining changes of that vendor wait for the next run.
func (r *Relay) Run(ctx context.Context) (stats RelayStats, err error) {
	started := time.Now()
	defer func() { r.metrics.JobRun("relay", started, err) }()

	for {
		pending, err := r.outbox.Pending(ctx, r.batchSize)
		if err != nil {
			return stats, fmt.Errorf("failed to load pending index changes: %w", err)
		}
		if len(pending) == 0 {
			return stats, nil
		}

		round := r.applyRound(ctx, pending)
		stats.Applied += round.Applied
		stats.Failed += round.Failed

		if round.Failed > 0 || len(pending) < r.batchSize {
			if stats.Applied+stats.Failed > 0 {
				r.logger.Info("Vendor index relay finished",
					zap.Int("applied", stats.Applied),
					zap.Int("failed", stats.Failed),
				)
			}
			return stats, ctx.Err()
		}
	}
}

func (r *Relay) applyRound(ctx context.Context, pending []domain.IndexChange) RelayStats {
	byVendor := make(map[string][]domain.IndexChange)
	var order []string
	for _, c := range pending {
		if _, ok := byVendor[c.VendorID]; !ok {
			order = append(order, c.VendorID)
		}
		byVendor[c.VendorID] = append(byVendor[c.VendorID], c)
	}

	var (
		mu    sync.Mutex
		stats RelayStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(relayParallelism)

	for _, vendorID := range order {
		changes := byVendor[vendorID]
		g.Go(func() error {
			applied := 0
			for _, c := range changes {
				if gctx.Err() != nil {
					break
				}
				if err := r.maintainer.Apply(gctx, c); err != nil {
					r.logger.Warn("Failed to apply index change, will retry",
						zap.String("change_id", c.ID),
						zap.String("vendor_id", c.VendorID),
						zap.Int("attempts", c.Attempts+1),
						zap.Error(err),
					)
					mu.Lock()
					stats.Failed++
					mu.Unlock()
					break
				}
				applied++
			}
			mu.Lock()
			stats.Applied += applied
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return stats
}
