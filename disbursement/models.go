package disbursement

import "time"

// Status mirrors the marketplace's payout states. The marketplace owns
// disbursements outright; local rows are read models refreshed by
// reconciliation.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusHeld    Status = "held"
	StatusFailed  Status = "failed"
	// StatusUnknown is the fallback for remote states with no local mapping.
	StatusUnknown Status = "unknown"
)

// Disbursement is one payout line attached to an agreement.
type Disbursement struct {
	ID                   string
	AgreementID          string
	RemoteDisbursementID string
	AmountCents          int64
	Currency             string
	PeriodStart          *time.Time
	PeriodEnd            *time.Time
	Status               Status
	RemoteRevision       int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
