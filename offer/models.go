package offer

import "time"

// Status represents the lifecycle of an offer.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusReleased  Status = "released"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Acceptable reports whether a recipient may still accept the offer.
func (s Status) Acceptable() bool {
	return s == StatusActive || s == StatusReleased
}

// Visibility controls who may see and accept an offer.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Response is a recipient's answer recorded on their join record.
type Response string

const (
	ResponseNone     Response = "none"
	ResponseAccepted Response = "accepted"
	ResponseDeclined Response = "declined"
)

// Offer is a proposed sale of a product addressed to one or more recipients.
// AuthorizationID links the resale authorization when a reseller is the
// proposer.
type Offer struct {
	ID               string
	ProductID        string
	CreatorID        string
	AuthorizationID  *string
	Visibility       Visibility
	Status           Status
	PriceCents       int64
	Currency         string
	DurationDays     int
	Terms            string
	ValidFrom        *time.Time
	ValidUntil       *time.Time
	RemoteOfferID    *string
	RemoteSyncStatus string
	RemoteRevision   int64
	Notes            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Recipient tracks one recipient's notification/view/response state,
// independent of the offer's own global status.
type Recipient struct {
	ID          string
	OfferID     string
	RecipientID string
	NotifiedAt  *time.Time
	ViewedAt    *time.Time
	RespondedAt *time.Time
	Response    Response
}
