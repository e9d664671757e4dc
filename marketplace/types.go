package marketplace

import "time"

// RemoteAgreement is the marketplace's view of an agreement. ExternalRef
// carries the local agreement id the record was registered under.
type RemoteAgreement struct {
	ID          string     `json:"id"`
	ExternalRef string     `json:"external_ref"`
	Status      string     `json:"status"`
	PriceCents  int64      `json:"price_cents"`
	Currency    string     `json:"currency"`
	Revision    int64      `json:"revision"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// RemoteOffer is the marketplace's view of an offer.
type RemoteOffer struct {
	ID          string `json:"id"`
	ExternalRef string `json:"external_ref"`
	Status      string `json:"status"`
	Revision    int64  `json:"revision"`
}

// RemoteAuthorization is the marketplace's view of a resale authorization.
// Grantor and reseller ids let reconciliation mirror authorization state
// back onto the local connection for the pair.
type RemoteAuthorization struct {
	ID          string     `json:"id"`
	ExternalRef string     `json:"external_ref"`
	GrantorID   string     `json:"grantor_id"`
	ResellerID  string     `json:"reseller_id"`
	Status      string     `json:"status"`
	Revision    int64      `json:"revision"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// RemoteDisbursement is the marketplace's view of a payout. Disbursements
// have no local origin, so AgreementRef points at the remote agreement the
// payout belongs to.
type RemoteDisbursement struct {
	ID           string     `json:"id"`
	AgreementRef string     `json:"agreement_ref"`
	AmountCents  int64      `json:"amount_cents"`
	Currency     string     `json:"currency"`
	PeriodStart  *time.Time `json:"period_start,omitempty"`
	PeriodEnd    *time.Time `json:"period_end,omitempty"`
	Status       string     `json:"status"`
	Revision     int64      `json:"revision"`
}

// RegisterAuthorizationParams is the payload for registering a locally
// created authorization with the marketplace.
type RegisterAuthorizationParams struct {
	ExternalRef string     `json:"external_ref"`
	GrantorID   string     `json:"grantor_id"`
	ResellerID  string     `json:"reseller_id"`
	ProductRef  string     `json:"product_ref"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// RegisterOfferParams is the payload for registering a published offer.
type RegisterOfferParams struct {
	ExternalRef string `json:"external_ref"`
	ProductRef  string `json:"product_ref"`
	PriceCents  int64  `json:"price_cents"`
	Currency    string `json:"currency"`
	Visibility  string `json:"visibility"`
}
