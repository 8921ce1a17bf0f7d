package transport

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"shop-catalog/internal/blob"
	"shop-catalog/internal/domain"
	"shop-catalog/internal/middleware"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// multipartOverhead is allowed on top of the image size limit for form boundaries and fields
const multipartOverhead = 64 << 10

// Catalog is the service surface used by the HTTP handlers
type Catalog interface {
	AddProduct(ctx context.Context, fields domain.ProductFields, variants []domain.VariantFields) (string, error)
	UpdateProductWithVariants(ctx context.Context, id string, fields domain.ProductFields, variants []domain.VariantFields) (*domain.Product, error)
	UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetVariantsForProduct(ctx context.Context, id string) ([]domain.Variant, error)
	ListProducts(ctx context.Context, role domain.Role, vendorID string) ([]*domain.Product, error)
	TrendingProducts(ctx context.Context, limit int, vendorID string) ([]*domain.Product, error)
	IncrementViews(ctx context.Context, id string) (*domain.Product, error)
	IncrementCartAdds(ctx context.Context, id string) (*domain.Product, error)
	UpdateWishlistCount(ctx context.Context, id string, delta int) (*domain.Product, error)
	IncrementSoldCount(ctx context.Context, id string) (*domain.Product, error)
	UploadImage(ctx context.Context, img blob.Image, objectPath string) (string, error)
}

// ProductRequest is the body of product create and full update requests
type ProductRequest struct {
	Product  domain.ProductFields   `json:"product"`
	Variants []domain.VariantFields `json:"variants"`
}

// CreatedResponse carries the id of a new product
type CreatedResponse struct {
	ID string `json:"id"`
}

// ProductListResponse wraps a product listing
type ProductListResponse struct {
	Products []*domain.Product `json:"products"`
	Count    int               `json:"count"`
}

// VariantListResponse wraps the variants of one product
type VariantListResponse struct {
	Variants []domain.Variant `json:"variants"`
}

// EngagementResponse reports the counters after an engagement event
type EngagementResponse struct {
	ID            string `json:"id"`
	TrendingScore int    `json:"trendingScore"`
	domain.Counters
}

// ImageResponse carries the public URL of an uploaded image
type ImageResponse struct {
	URL string `json:"url"`
}

// TrendingQuery are the query parameters of the trending listing
type TrendingQuery struct {
	Limit    int    `json:"limit" validate:"omitempty,min=1,max=100"`
	VendorID string `json:"vendorId"`
}

// ProductHandler handles HTTP requests for catalog operations
type ProductHandler struct {
	catalog        Catalog
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewProductHandler creates a new ProductHandler
func NewProductHandler(catalog Catalog, maxUploadBytes int64, logger *zap.Logger) *ProductHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = blob.DefaultMaxBytes
	}
	return &ProductHandler{
		catalog:        catalog,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// RegisterRoutes registers the catalog routes. Every route requires authentication; catalog
// management needs a catalog role and engagement events pass through the rate limiter.
func (h *ProductHandler) RegisterRoutes(r chi.Router, authMiddleware, rateLimit func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Use(middleware.RequireRole(middleware.CatalogRoles, h.logger))

		r.Get("/api/products", h.ListProducts)
		r.Get("/api/products/trending", h.TrendingProducts)
		r.Get("/api/products/{id}", h.GetProduct)
		r.Get("/api/products/{id}/variants", h.GetVariants)
		r.Post("/api/products", h.CreateProduct)
		r.Put("/api/products/{id}", h.ReplaceProduct)
		r.Patch("/api/products/{id}", h.PatchProduct)
		r.Delete("/api/products/{id}", h.DeleteProduct)
		r.Post("/api/images", h.UploadImage)
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		if rateLimit != nil {
			r.Use(rateLimit)
		}

		r.Post("/api/products/{id}/views", h.engagement(h.catalog.IncrementViews))
		r.Post("/api/products/{id}/cart-adds", h.engagement(h.catalog.IncrementCartAdds))
		r.Post("/api/products/{id}/sales", h.engagement(h.catalog.IncrementSoldCount))
		r.Post("/api/products/{id}/wishlist", h.engagement(h.wishlist(1)))
		r.Delete("/api/products/{id}/wishlist", h.engagement(h.wishlist(-1)))
	})
}

// ListProducts lists the products visible to the caller's role
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	role, _ := middleware.GetUserRole(r.Context())
	vendorID, _ := middleware.GetVendorID(r.Context())

	products, err := h.catalog.ListProducts(r.Context(), role, vendorID)
	if err != nil {
		middleware.RespondWithDomainError(w, err, h.logger)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, ProductListResponse{Products: products, Count: len(products)})
}

// TrendingProducts lists the highest scored products. Vendors only see their own.
func (h *ProductHandler) TrendingProducts(w http.ResponseWriter, r *http.Request) {
	q := TrendingQuery{VendorID: r.URL.Query().Get("vendorId")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			middleware.RespondWithError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		q.Limit = limit
	}
	if err := middleware.ValidateRequest(q); err != nil {
		middleware.RespondWithValidationErrors(w, middleware.FormatValidationErrors(err))
		return
	}

	if role, _ := middleware.GetUserRole(r.Context()); role == domain.RoleVendor {
		q.VendorID, _ = middleware.GetVendorID(r.Context())
	}

	products, err := h.catalog.TrendingProducts(r.Context(), q.Limit, q.VendorID)
	if err != nil {
		middleware.RespondWithDomainError(w, err, h.logger)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, ProductListResponse{Products: products, Count: len(products)})
}

// GetProduct returns one product
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.GetProductByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.RespondWithDomainError(w, err, h.logger)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, product)
}

// GetVariants returns the variants of one product
func (h *ProductHandler) GetVariants(w http.ResponseWriter, r *http.Request) {
	variants, err := h.catalog.GetVariantsForProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.RespondWithDomainError(w, err, h.logger)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, VariantListResponse{Variants: variants})
}

// CreateProduct creates a product with its variants. Vendors always create for themselves.
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := middleware.DecodeJSON(w, r, &req); err != nil {
		h.logger.Debug("Invalid product body", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.claimVendor(w, r, &req.Product) {
		return
	}

	id, err := h.catalog.AddProduct(r.Context(), req.Product, req.Variants)
	if err != nil {
		middleware.RespondWithDomainError(w, err, h.logger)
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// ReplaceProduct replaces the fields and the variant set of a product
func (h *ProductHandler) ReplaceProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ProductRequest
	if err := middleware.DecodeJSON(w, r, &req); err != nil {
		h.logger.Debug("Invalid product body", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.authorizeOwner(w, r, id) || !h.claimVendor(w, r, &req.Product) {
		return
	}

	product, err := h.catalog.UpdateProductWithVariants(r.Context(), id, req.Product, req.Variants)
	if err != nil {
		middleware.RespondWithDomainError(w, err, h.logger)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, product)
}

// PatchProduct applies a partial update
func (h *ProductHandler) PatchProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var patch domain.ProductPatch
	if err := middleware.DecodeJSON(w, r, &patch); err != nil {
		h.logger.Debug("Invalid patch body", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.authorizeOwner(w, r, id) {
		return
	}

	product, err := h.catalog.UpdateProduct(r.Context(), id, patch)
	if err != nil {
		middleware.RespondWithDomainError(w, err, h.logger)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, product)
}

// DeleteProduct deletes a product and its variants
func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.authorizeOwner(w, r, id) {
		return
	}

	if err := h.catalog.DeleteProduct(r.Context(), id); err != nil {
		middleware.RespondWithDomainError(w, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UploadImage accepts a multipart "file" field and an optional "path" field
func (h *ProductHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.RespondWithError(w, http.StatusRequestEntityTooLarge, "file is too large")
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	url, err := h.catalog.UploadImage(r.Context(), blob.Image{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}, r.FormValue("path"))
	if err != nil {
		middleware.RespondWithDomainError(w, err, h.logger)
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, ImageResponse{URL: url})
}

type counterFunc func(ctx context.Context, id string) (*domain.Product, error)

func (h *ProductHandler) wishlist(delta int) counterFunc {
	return func(ctx context.Context, id string) (*domain.Product, error) {
		return h.catalog.UpdateWishlistCount(ctx, id, delta)
	}
}

func (h *ProductHandler) engagement(fn counterFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		product, err := fn(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			middleware.RespondWithDomainError(w, err, h.logger)
			return
		}

		middleware.RespondWithJSON(w, http.StatusOK, EngagementResponse{
			ID:            product.ID,
			TrendingScore: product.TrendingScore,
			Counters:      product.Counters,
		})
	}
}

// claimVendor pins vendor callers to their own vendor id
func (h *ProductHandler) claimVendor(w http.ResponseWriter, r *http.Request, fields *domain.ProductFields) bool {
	role, _ := middleware.GetUserRole(r.Context())
	if role != domain.RoleVendor {
		return true
	}

	vendorID, _ := middleware.GetVendorID(r.Context())
	if fields.VendorID == "" {
		fields.VendorID = vendorID
	}
	if fields.VendorID != vendorID {
		h.logger.Warn("Vendor attempted to write another vendor's product",
			zap.String("vendor_id", vendorID),
			zap.String("target_vendor_id", fields.VendorID),
		)
		middleware.RespondWithError(w, http.StatusForbidden, "vendors can only manage their own products")
		return false
	}
	return true
}

// authorizeOwner lets privileged callers through and checks product ownership for vendors
func (h *ProductHandler) authorizeOwner(w http.ResponseWriter, r *http.Request, id string) bool {
	role, _ := middleware.GetUserRole(r.Context())
	if role.IsPrivileged() {
		return true
	}

	product, err := h.catalog.GetProductByID(r.Context(), id)
	if err != nil {
		middleware.RespondWithDomainError(w, err, h.logger)
		return false
	}

	vendorID, _ := middleware.GetVendorID(r.Context())
	if product.VendorID != vendorID {
		middleware.RespondWithError(w, http.StatusForbidden, "vendors can only manage their own products")
		return false
	}
	return true
}
