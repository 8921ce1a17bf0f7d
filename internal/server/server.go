package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"shop-catalog/internal/blob"
	"shop-catalog/internal/config"
	"shop-catalog/internal/metrics"
	custommiddleware "shop-catalog/internal/middleware"
	"shop-catalog/internal/query"
	"shop-catalog/internal/service"
	"shop-catalog/internal/transport"
	"shop-catalog/internal/trending"
	"shop-catalog/internal/vendorindex"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const rateLimitKeyPrefix = "catalog:ratelimit"

type Server struct {
	*http.Server
	config  *config.Config
	logger  *zap.Logger
	stores  *Stores
	redis   *redis.Client
	catalog *service.CatalogService
	jobs    map[string]transport.Job
	closers []io.Closer
}

func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, stores *Stores) (*Server, error) {
	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if stores.Pool != nil {
		registry.MustRegister(metrics.NewPoolStatsCollector(stores.Pool))
	}
	m := metrics.New(registry)

	server := &Server{
		config: cfg,
		logger: logger,
		stores: stores,
	}

	// Image storage is optional; uploads fail with a store error when no bucket is configured
	var uploader service.ImageUploader
	backend, closer, err := newBlobBackend(ctx, cfg.Blob)
	if err != nil {
		return nil, err
	}
	if backend != nil {
		uploader = blob.NewUploader(backend, cfg.Blob.MaxBytes, logger)
		if closer != nil {
			server.closers = append(server.closers, closer)
		}
	} else {
		logger.Warn("No blob bucket configured, image uploads are disabled")
	}

	// Initialize vendor index maintenance
	maintainer := vendorindex.NewMaintainer(stores.Vendors, stores.Outbox, stores.Products, m, logger)
	relay := vendorindex.NewRelay(maintainer, stores.Outbox, cfg.Catalog.RelayBatchSize, m, logger)
	reconciler := vendorindex.NewReconciler(stores.Products, stores.Vendors, m, logger)
	rescorer := trending.NewRescorer(stores.Products, trending.SystemClock, cfg.Catalog.RescoreBatchSize, logger)

	// Initialize services
	router := query.NewRouter(stores.Products, stores.Vendors, cfg.Catalog.MaxInValues)
	server.catalog = service.NewCatalogService(stores.Products, router, maintainer, uploader, m, logger)

	server.jobs = map[string]transport.Job{
		"rescore": func(ctx context.Context) (any, error) {
			started := time.Now()
			stats, err := rescorer.Run(ctx)
			m.JobRun("rescore", started, err)
			return stats, err
		},
		"relay": func(ctx context.Context) (any, error) {
			return relay.Run(ctx)
		},
		"reconcile": func(ctx context.Context) (any, error) {
			return reconciler.Run(ctx)
		},
	}

	server.redis = redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	server.Server = &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      server.routes(registry),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server, nil
}

func (s *Server) routes(registry *prometheus.Registry) http.Handler {
	router := chi.NewRouter()

	for _, mw := range custommiddleware.DefaultMiddlewareStack(s.logger) {
		router.Use(mw)
	}
	router.Use(custommiddleware.CORSMiddleware(s.config.Server.AllowedOrigins, s.config.Server.IsDevelopment()))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		health := s.stores.Health(r.Context())
		status := http.StatusOK
		if health["status"] != "up" {
			status = http.StatusServiceUnavailable
		}
		custommiddleware.RespondWithJSON(w, status, health)
	})
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	authMiddleware := custommiddleware.AuthMiddleware(s.config.JWT.Secret, s.logger)
	rateLimit := custommiddleware.RateLimitMiddleware(s.redis, custommiddleware.RateLimitConfig{
		RequestsPerWindow: s.config.RateLimit.Requests,
		Window:            s.config.RateLimit.Window,
		KeyPrefix:         rateLimitKeyPrefix,
	}, s.logger)

	productHandler := transport.NewProductHandler(s.catalog, s.config.Blob.MaxBytes, s.logger)
	jobsHandler := transport.NewJobsHandler(s.jobs, s.logger)

	// Register routes
	productHandler.RegisterRoutes(router, authMiddleware, rateLimit)
	jobsHandler.RegisterRoutes(router, authMiddleware)

	return router
}

// newBlobBackend builds the configured bucket backend. It returns a nil backend when no bucket
// is set.
func newBlobBackend(ctx context.Context, cfg config.BlobConfig) (blob.Backend, io.Closer, error) {
	if cfg.Bucket == "" {
		return nil, nil, nil
	}

	switch cfg.Provider {
	case config.BlobProviderGCS:
		gcs, err := blob.NewGCS(ctx, cfg.Bucket, cfg.CredentialsFile, cfg.PublicBaseURL)
		if err != nil {
			return nil, nil, err
		}
		return gcs, gcs, nil
	case config.BlobProviderS3:
		s3, err := blob.NewS3(ctx, blob.S3Options{
			Bucket:          cfg.Bucket,
			Endpoint:        cfg.Endpoint,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			PublicBaseURL:   cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, nil, err
		}
		return s3, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown blob provider %q", cfg.Provider)
	}
}

// RunBackground runs the rescore, relay and reconcile jobs on their configured intervals until
// ctx is cancelled. A non-positive interval disables a job.
func (s *Server) RunBackground(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	schedule := map[string]time.Duration{
		"rescore":   s.config.Catalog.RescoreInterval,
		"relay":     s.config.Catalog.RelayInterval,
		"reconcile": s.config.Catalog.ReconcileInterval,
	}
	for name, interval := range schedule {
		if interval <= 0 {
			s.logger.Info("Background job disabled", zap.String("job", name))
			continue
		}
		job := s.jobs[name]
		g.Go(func() error {
			s.runEvery(ctx, name, interval, job)
			return nil
		})
	}

	return g.Wait()
}

func (s *Server) runEvery(ctx context.Context, name string, interval time.Duration, job transport.Job) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Background job scheduled", zap.String("job", name), zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := job(ctx)
			if err != nil {
				s.logger.Error("Background job failed", zap.String("job", name), zap.Error(err))
				continue
			}
			s.logger.Debug("Background job finished", zap.String("job", name), zap.Any("stats", stats))
		}
	}
}

func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	// Let deferred vendor index updates finish before the store goes away
	s.catalog.Close()

	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.logger.Error("Failed to close blob client", zap.Error(err))
		}
	}

	if err := s.redis.Close(); err != nil {
		s.logger.Error("Failed to close redis client", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.stores.Close(ctx); err != nil {
		s.logger.Error("Failed to close database connection", zap.Error(err))
	}

	s.logger.Sync()
	return nil
}
