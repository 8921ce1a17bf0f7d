package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"shop-catalog/internal/domain"
	"shop-catalog/internal/middleware"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func newJobsRouter(jobs map[string]Job) http.Handler {
	logger := zap.NewNop()
	r := chi.NewRouter()
	NewJobsHandler(jobs, logger).RegisterRoutes(r, middleware.AuthMiddleware(testSecret, logger))
	return r
}

func TestJobsHandler(t *testing.T) {
	runs := 0
	h := newJobsRouter(map[string]Job{
		"rescore": func(ctx context.Context) (any, error) {
			runs++
			return map[string]int{"products": 12}, nil
		},
		"relay": func(ctx context.Context) (any, error) {
			return nil, domain.WrapStore("load outbox", errors.New("timeout"))
		},
	})
	admin := bearer(t, domain.RoleAdmin, "")

	w := do(t, h, http.MethodPost, "/api/admin/jobs/rescore", admin, nil)
	if w.Code != http.StatusOK || runs != 1 {
		t.Fatalf("expected job to run once, got status %d and %d runs", w.Code, runs)
	}
	var resp JobResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Job != "rescore" {
		t.Errorf("unexpected response %s", w.Body.String())
	}

	if w := do(t, h, http.MethodPost, "/api/admin/jobs/relay", admin, nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for store failure, got %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/admin/jobs/unknown", admin, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown job, got %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/admin/jobs/rescore", bearer(t, domain.RoleVendor, "vendor-1"), nil); w.Code != http.StatusForbidden {
		t.Errorf("expected vendors to be refused, got %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/admin/jobs", bearer(t, domain.RoleShopManager, ""), nil)
	var list map[string][]string
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || len(list["jobs"]) != 2 || list["jobs"][0] != "relay" {
		t.Errorf("unexpected job list %s", w.Body.String())
	}
}
