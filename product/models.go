package product

import "time"

// Product is a vendor-owned listing that resale authorizations and offers
// reference.
type Product struct {
	ID        string
	VendorID  string
	Title     string
	CreatedAt time.Time
}
