package domain

import (
	"time"
)

// ProductType distinguishes single-SKU products from products backed by a variant set
type ProductType string

const (
	ProductTypeSimple  ProductType = "simple"
	ProductTypeVariant ProductType = "variant"
)

// LocalizedText is a pair of strings keyed by language
type LocalizedText struct {
	EN string `json:"en" bson:"en"`
	AR string `json:"ar" bson:"ar"`
}

// RatingSummary aggregates customer ratings for a product
type RatingSummary struct {
	Average float64 `json:"average" bson:"average"`
	Count   int     `json:"count" bson:"count"`
}

// Attribute is a single key/value pair describing a variant (e.g. color=red)
type Attribute struct {
	Key   string `json:"key" bson:"key" validate:"required"`
	Value string `json:"value" bson:"value" validate:"required"`
}

// Counters holds the engagement counters that feed the trending score
type Counters struct {
	Views         int `json:"views" bson:"views"`
	SoldCount     int `json:"soldCount" bson:"soldCount"`
	WishlistCount int `json:"wishlistCount" bson:"wishlistCount"`
	CartAdds      int `json:"cartAdds" bson:"cartAdds"`
}

// Product represents a product document in the catalog
type Product struct {
	ID                 string        `json:"id" bson:"_id"`
	ProductType        ProductType   `json:"productType" bson:"productType"`
	Title              LocalizedText `json:"title" bson:"title"`
	Description        LocalizedText `json:"description" bson:"description"`
	Price              float64       `json:"price" bson:"price"`
	DiscountPrice      *float64      `json:"discountPrice,omitempty" bson:"discountPrice,omitempty"`
	Quantity           int           `json:"quantity" bson:"quantity"`
	SKU                string        `json:"sku" bson:"sku"`
	BrandID            string        `json:"brandId" bson:"brandId"`
	CategoryID         string        `json:"categoryId" bson:"categoryId"`
	SubCategoryID      string        `json:"subCategoryId" bson:"subCategoryId"`
	MainImage          string        `json:"mainImage" bson:"mainImage"`
	Images             []string      `json:"images" bson:"images"`
	Tags               []string      `json:"tags" bson:"tags"`
	VendorID           string        `json:"vendorId" bson:"vendorId"`
	RatingSummary      RatingSummary `json:"ratingSummary" bson:"ratingSummary"`
	Counters           `bson:",inline"`
	TrendingScore      int        `json:"trendingScore" bson:"trendingScore"`
	LastTrendingUpdate *time.Time `json:"lastTrendingUpdate,omitempty" bson:"lastTrendingUpdate,omitempty"`
	CreatedAt          time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt" bson:"updatedAt"`
	Version            int64      `json:"-" bson:"version"`
}

// HasDiscount reports whether a positive discount price is set
func (p *Product) HasDiscount() bool {
	return p.DiscountPrice != nil && *p.DiscountPrice > 0
}

// Clone returns a deep copy so callers can compute a hypothetical update without touching the snapshot
func (p *Product) Clone() *Product {
	c := *p
	if p.DiscountPrice != nil {
		d := *p.DiscountPrice
		c.DiscountPrice = &d
	}
	if p.LastTrendingUpdate != nil {
		t := *p.LastTrendingUpdate
		c.LastTrendingUpdate = &t
	}
	c.Images = append([]string(nil), p.Images...)
	c.Tags = append([]string(nil), p.Tags...)
	return &c
}

// Variant is a child SKU of a variant-type product. Its identity is owned by the parent aggregate
// and is regenerated whenever the variant set is replaced.
type Variant struct {
	ID            string        `json:"id" bson:"_id"`
	ProductID     string        `json:"productId" bson:"productId"`
	Title         LocalizedText `json:"title" bson:"title"`
	Attributes    []Attribute   `json:"attributes" bson:"attributes"`
	Price         float64       `json:"price" bson:"price"`
	DiscountPrice *float64      `json:"discountPrice,omitempty" bson:"discountPrice,omitempty"`
	Quantity      int           `json:"quantity" bson:"quantity"`
	SKU           string        `json:"sku" bson:"sku"`
	MainImage     string        `json:"mainImage" bson:"mainImage"`
	Images        []string      `json:"images" bson:"images"`
	Position      int           `json:"-" bson:"position"`
}

// ProductFields are the client-editable attributes of a product. Counters, score, timestamps
// and identity are never taken from client input.
type ProductFields struct {
	ProductType   ProductType   `json:"productType" validate:"required,oneof=simple variant"`
	Title         LocalizedText `json:"title"`
	Description   LocalizedText `json:"description"`
	Price         float64       `json:"price" validate:"gte=0"`
	DiscountPrice *float64      `json:"discountPrice,omitempty" validate:"omitempty,gte=0"`
	Quantity      int           `json:"quantity" validate:"gte=0"`
	SKU           string        `json:"sku"`
	BrandID       string        `json:"brandId"`
	CategoryID    string        `json:"categoryId"`
	SubCategoryID string        `json:"subCategoryId"`
	MainImage     string        `json:"mainImage"`
	Images        []string      `json:"images"`
	Tags          []string      `json:"tags"`
	VendorID      string        `json:"vendorId" validate:"required"`
}

// Apply copies the editable fields onto p
func (f ProductFields) Apply(p *Product) {
	p.ProductType = f.ProductType
	p.Title = f.Title
	p.Description = f.Description
	p.Price = f.Price
	p.DiscountPrice = f.DiscountPrice
	p.Quantity = f.Quantity
	p.SKU = f.SKU
	p.BrandID = f.BrandID
	p.CategoryID = f.CategoryID
	p.SubCategoryID = f.SubCategoryID
	p.MainImage = f.MainImage
	p.Images = f.Images
	p.Tags = f.Tags
	p.VendorID = f.VendorID
}

// VariantFields are the client-supplied attributes of a variant
type VariantFields struct {
	Title         LocalizedText `json:"title"`
	Attributes    []Attribute   `json:"attributes" validate:"dive"`
	Price         float64       `json:"price" validate:"gte=0"`
	DiscountPrice *float64      `json:"discountPrice,omitempty" validate:"omitempty,gte=0"`
	Quantity      int           `json:"quantity" validate:"gte=0"`
	SKU           string        `json:"sku"`
	MainImage     string        `json:"mainImage"`
	Images        []string      `json:"images"`
}

// ToVariant builds a variant document for the given parent
func (f VariantFields) ToVariant(id, productID string, position int) Variant {
	return Variant{
		ID:            id,
		ProductID:     productID,
		Title:         f.Title,
		Attributes:    f.Attributes,
		Price:         f.Price,
		DiscountPrice: f.DiscountPrice,
		Quantity:      f.Quantity,
		SKU:           f.SKU,
		MainImage:     f.MainImage,
		Images:        f.Images,
		Position:      position,
	}
}

// ProductPatch is a partial update; nil fields are left unchanged. ClearDiscount removes the
// discount price and cannot be combined with DiscountPrice.
type ProductPatch struct {
	Title         *LocalizedText `json:"title,omitempty"`
	Description   *LocalizedText `json:"description,omitempty"`
	Price         *float64       `json:"price,omitempty" validate:"omitempty,gte=0"`
	DiscountPrice *float64       `json:"discountPrice,omitempty" validate:"omitempty,gte=0"`
	Quantity      *int           `json:"quantity,omitempty" validate:"omitempty,gte=0"`
	SKU           *string        `json:"sku,omitempty"`
	MainImage     *string        `json:"mainImage,omitempty"`
	Images        *[]string      `json:"images,omitempty"`
	Tags          *[]string      `json:"tags,omitempty"`
	RatingSummary *RatingSummary `json:"ratingSummary,omitempty"`
	ClearDiscount bool           `json:"clearDiscount,omitempty"`
}

// Apply copies the set fields onto p
func (pt ProductPatch) Apply(p *Product) {
	if pt.Title != nil {
		p.Title = *pt.Title
	}
	if pt.Description != nil {
		p.Description = *pt.Description
	}
	if pt.Price != nil {
		p.Price = *pt.Price
	}
	if pt.DiscountPrice != nil {
		d := *pt.DiscountPrice
		p.DiscountPrice = &d
	}
	if pt.ClearDiscount {
		p.DiscountPrice = nil
	}
	if pt.Quantity != nil {
		p.Quantity = *pt.Quantity
	}
	if pt.SKU != nil {
		p.SKU = *pt.SKU
	}
	if pt.MainImage != nil {
		p.MainImage = *pt.MainImage
	}
	if pt.Images != nil {
		p.Images = *pt.Images
	}
	if pt.Tags != nil {
		p.Tags = *pt.Tags
	}
	if pt.RatingSummary != nil {
		p.RatingSummary = *pt.RatingSummary
	}
}

// IsEmpty reports whether the patch changes nothing
func (pt ProductPatch) IsEmpty() bool {
	return pt.Title == nil && pt.Description == nil && pt.Price == nil && pt.DiscountPrice == nil &&
		pt.Quantity == nil && pt.SKU == nil && pt.MainImage == nil && pt.Images == nil &&
		pt.Tags == nil && pt.RatingSummary == nil && !pt.ClearDiscount
}

// ScoreUpdate is one row of a bulk trending rescore. Version is the product version the score was
// computed from; the write is skipped if the product changed since.
type ScoreUpdate struct {
	ProductID string
	Score     int
	Version   int64
}
