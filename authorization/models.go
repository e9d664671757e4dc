package authorization

import "time"

// Status represents the lifecycle of a resale authorization.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusPending    Status = "pending"
	StatusActive     Status = "active"
	StatusRestricted Status = "restricted"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
	StatusRejected   Status = "rejected"
)

// IsTerminal reports whether the authorization can no longer transition.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCancelled, StatusExpired, StatusRejected:
		return true
	default:
		return false
	}
}

// Authorization grants one reseller the right to sell one vendor product.
type Authorization struct {
	ID                    string
	ProductID             string
	GrantorID             string
	ResellerID            string
	Status                Status
	AvailabilityEndDate   *time.Time
	RemoteAuthorizationID *string
	RemoteSyncStatus      string
	RemoteRevision        int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// EffectiveStatus presents an overdue non-terminal authorization as expired
// even when the background sweep has not rewritten the stored status yet.
func (a Authorization) EffectiveStatus(now time.Time) Status {
	if a.Status.IsTerminal() {
		return a.Status
	}
	if a.AvailabilityEndDate != nil && a.AvailabilityEndDate.Before(now) {
		return StatusExpired
	}
	return a.Status
}
