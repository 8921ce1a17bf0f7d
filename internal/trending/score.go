// Package trending computes the time-decayed popularity score of catalog products.
package trending

import (
	"math"
	"time"

	"shop-catalog/internal/domain"
)

const day = 24 * time.Hour

// Engagement weights
const (
	ViewWeight     = 1
	WishlistWeight = 2
	CartAddWeight  = 2
	SaleWeight     = 3
)

const (
	outOfStockFactor = 0.5
	discountBoost    = 1.2
)

// Clock returns the current time. Injected so scoring stays deterministic under test.
type Clock func() time.Time

// SystemClock is the wall clock in UTC
func SystemClock() time.Time {
	return time.Now().UTC()
}

// Engagement is the weighted sum of the engagement counters
func Engagement(c domain.Counters) int {
	return c.Views*ViewWeight + c.WishlistCount*WishlistWeight + c.CartAdds*CartAddWeight + c.SoldCount*SaleWeight
}

// DaysSince returns whole days elapsed between t and now, clamped to at least 1 so the
// logarithmic decay below never divides by ln(1) = 0.
func DaysSince(t, now time.Time) int {
	days := int(math.Floor(float64(now.Sub(t)) / float64(day)))
	if days < 1 {
		return 1
	}
	return days
}

// Decay is 1/ln(days+1)
func Decay(days int) float64 {
	return 1 / math.Log(float64(days)+1)
}

// Score maps a product's counters and timestamps to its trending score at now
func Score(p *domain.Product, now time.Time) int {
	return int(math.Round(Raw(p, now)))
}

// Raw is the unrounded score
func Raw(p *domain.Product, now time.Time) float64 {
	engagement := float64(Engagement(p.Counters))

	recency := Decay(DaysSince(p.UpdatedAt, now))
	age := Decay(DaysSince(p.CreatedAt, now))

	stock := 1.0
	if p.Quantity <= 0 {
		stock = outOfStockFactor
	}

	discount := 1.0
	if p.HasDiscount() {
		discount = discountBoost
	}

	rating := 1.0
	if p.RatingSummary.Count > 0 {
		rating = 1 + p.RatingSummary.Average/5
	}

	return engagement * recency * age * stock * discount * rating
}
