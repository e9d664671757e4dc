package agreement

import "time"

// Status represents the lifecycle of an agreement.
type Status string

const (
	StatusActive Status = "active"
	// StatusRenewed marks a parent superseded by a renewal agreement.
	StatusRenewed Status = "renewed"
	// StatusReplaced marks a parent superseded by an amendment agreement.
	StatusReplaced   Status = "replaced"
	StatusCancelled  Status = "cancelled"
	StatusTerminated Status = "terminated"
	StatusExpired    Status = "expired"
	// StatusArchived is post-terminal bookkeeping only.
	StatusArchived Status = "archived"
)

// IsTerminal reports whether the agreement has reached a final state.
// Archived is reachable from terminal states but is itself final too.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRenewed, StatusReplaced, StatusCancelled, StatusTerminated, StatusExpired, StatusArchived:
		return true
	default:
		return false
	}
}

// Agreement is the binding record created when an offer is accepted. Terms
// are snapshotted at acceptance time; renewal agreements chain through
// ParentAgreementID, one child per parent.
type Agreement struct {
	ID                string
	OfferID           string
	ProposerID        string
	AcceptorID        string
	ProductID         string
	PriceCents        int64
	Currency          string
	DurationDays      int
	Terms             string
	Status            Status
	ParentAgreementID *string
	RemoteAgreementID *string
	RemoteSyncStatus  string
	RemoteRevision    int64
	Notes             string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Involves reports whether the given participant is a party to the agreement.
func (a Agreement) Involves(userID string) bool {
	return a.ProposerID == userID || a.AcceptorID == userID
}
