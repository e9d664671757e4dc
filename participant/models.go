package participant

import "time"

// Profile captures the subset of participant data the lifecycle managers need
// for pairing and authorization checks.
type Profile struct {
	ID        string
	FullName  string
	Role      string
	CreatedAt time.Time
}

// Marketplace roles a participant can hold.
const (
	RoleVendor      = "vendor"
	RoleReseller    = "reseller"
	RoleDistributor = "distributor"
	RoleBuyer       = "buyer"
)
