package domain

import (
	"slices"
	"time"
)

// Role is the caller role used to pick a listing strategy
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleShopManager Role = "shop manager"
	RoleVendor      Role = "vendor"
)

// IsPrivileged reports whether the role may see the whole catalog
func (r Role) IsPrivileged() bool {
	return r == RoleAdmin || r == RoleShopManager
}

// Vendor holds the denormalized back-references to the products a vendor owns and has sold
type Vendor struct {
	ID               string    `json:"id" bson:"_id"`
	ProductIDs       []string  `json:"productIds" bson:"productIds"`
	SalesProducts    []string  `json:"salesProducts" bson:"salesProducts"`
	NumberOfProducts int       `json:"numberOfProducts" bson:"numberOfProducts"`
	UpdatedAt        time.Time `json:"updatedAt" bson:"updatedAt"`
}

// AddProduct adds id to the owned set; it reports whether the set changed
func (v *Vendor) AddProduct(id string) bool {
	var changed bool
	v.ProductIDs, changed = AddToSet(v.ProductIDs, id)
	v.NumberOfProducts = len(v.ProductIDs)
	return changed
}

// RemoveProduct removes id from the owned set; it reports whether the set changed
func (v *Vendor) RemoveProduct(id string) bool {
	var changed bool
	v.ProductIDs, changed = RemoveFromSet(v.ProductIDs, id)
	v.NumberOfProducts = len(v.ProductIDs)
	return changed
}

// AddSale records that id has had at least one sale
func (v *Vendor) AddSale(id string) bool {
	var changed bool
	v.SalesProducts, changed = AddToSet(v.SalesProducts, id)
	return changed
}

// AddToSet appends id unless already present. The input slice is not modified.
func AddToSet(ids []string, id string) ([]string, bool) {
	if slices.Contains(ids, id) {
		return ids, false
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids...)
	return append(out, id), true
}

// RemoveFromSet drops every occurrence of id. The input slice is not modified.
func RemoveFromSet(ids []string, id string) ([]string, bool) {
	if !slices.Contains(ids, id) {
		return ids, false
	}
	out := make([]string, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out, true
}

// IndexOp is the kind of vendor index change carried by an outbox record
type IndexOp string

const (
	IndexOpAdd    IndexOp = "add"
	IndexOpRemove IndexOp = "remove"
	IndexOpSale   IndexOp = "sale"
)

// IndexChange is an outbox record describing a pending vendor index update. It is written in the
// same commit as the product mutation that caused it and applied afterwards.
type IndexChange struct {
	ID        string     `json:"id" bson:"_id"`
	VendorID  string     `json:"vendorId" bson:"vendorId"`
	ProductID string     `json:"productId" bson:"productId"`
	Op        IndexOp    `json:"op" bson:"op"`
	CreatedAt time.Time  `json:"createdAt" bson:"createdAt"`
	AppliedAt *time.Time `json:"appliedAt,omitempty" bson:"appliedAt,omitempty"`
	Attempts  int        `json:"attempts" bson:"attempts"`
	LastError string     `json:"lastError,omitempty" bson:"lastError,omitempty"`
}
