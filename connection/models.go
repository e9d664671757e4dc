package connection

import "time"

// Status represents the lifecycle of a connection between two participants.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	// StatusAuthorized is an elevation of accepted granted by the remote
	// marketplace; only reconciliation sets it.
	StatusAuthorized Status = "authorized"
	StatusRejected   Status = "rejected"
	StatusRevoked    Status = "revoked"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further local transition is allowed. A
// terminal connection no longer blocks a fresh request for the same pair.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusRevoked, StatusCancelled:
		return true
	default:
		return false
	}
}

// Connection relates exactly two participants. The pair is unordered: at most
// one live record exists regardless of which party initiated it.
type Connection struct {
	ID                 string
	PartyAID           string
	PartyBID           string
	RequesterID        string
	Status             Status
	RemoteConnectionID *string
	RemoteSyncStatus   string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Target returns the party that did not initiate the request.
func (c Connection) Target() string {
	if c.RequesterID == c.PartyAID {
		return c.PartyBID
	}
	return c.PartyAID
}

// Involves reports whether the given participant is one of the two parties.
func (c Connection) Involves(userID string) bool {
	return c.PartyAID == userID || c.PartyBID == userID
}

// StatusResult is the read-model returned by CheckStatus so callers can
// determine which party holds the acting role for accept/reject.
type StatusResult struct {
	Connected    bool
	Status       Status
	ConnectionID string
	PartyAID     string
	PartyBID     string
	RequesterID  string
}
