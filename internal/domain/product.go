package domain

import "time"

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Snapshot is the normalized result of one catalog fetch.
// Price is nil when the source reports the item as out of stock or withdrawn,
// which is distinct from a failed fetch.
type Snapshot struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Brand string `json:"brand"`
	Price *int64 `json:"price"`
}

// Available reports whether the snapshot carries a price.
func (s Snapshot) Available() bool {
	return s.Price != nil
}

// Product is a tracked catalog item joined with its most recent price point.
// LatestPrice and LatestDate are nil until the first price point is recorded.
type Product struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Brand       string     `json:"brand"`
	Available   bool       `json:"available"`
	LatestPrice *int64     `json:"latest_price"`
	LatestDate  *time.Time `json:"latest_date,omitempty"`
}

// PricePoint is one recorded price for a product on a calendar day.
// At most one point exists per (product, day); a same-day fetch overwrites it.
type PricePoint struct {
	ProductID int64     `json:"product_id"`
	Date      time.Time `json:"date"`
	Price     int64     `json:"price"`
}
