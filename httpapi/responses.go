package httpapi

import (
	"time"

	"channelflow/agreement"
	"channelflow/authorization"
	"channelflow/connection"
	"channelflow/disbursement"
	"channelflow/offer"
)

// Domain models carry no serialization concerns, so every payload goes
// through one of these response types.

type connectionResponse struct {
	ID          string `json:"id"`
	PartyAID    string `json:"party_a_id"`
	PartyBID    string `json:"party_b_id"`
	RequesterID string `json:"requester_id"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

func toConnectionResponse(c connection.Connection) connectionResponse {
	return connectionResponse{
		ID:          c.ID,
		PartyAID:    c.PartyAID,
		PartyBID:    c.PartyBID,
		RequesterID: c.RequesterID,
		Status:      string(c.Status),
		CreatedAt:   c.CreatedAt.Format(time.RFC3339),
	}
}

type connectionStatusResponse struct {
	Connected    bool   `json:"connected"`
	Status       string `json:"status,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
	PartyAID     string `json:"party_a_id,omitempty"`
	PartyBID     string `json:"party_b_id,omitempty"`
	RequesterID  string `json:"requester_id,omitempty"`
}

func toConnectionStatusResponse(r connection.StatusResult) connectionStatusResponse {
	return connectionStatusResponse{
		Connected:    r.Connected,
		Status:       string(r.Status),
		ConnectionID: r.ConnectionID,
		PartyAID:     r.PartyAID,
		PartyBID:     r.PartyBID,
		RequesterID:  r.RequesterID,
	}
}

type authorizationResponse struct {
	ID                  string     `json:"id"`
	ProductID           string     `json:"product_id"`
	GrantorID           string     `json:"grantor_id"`
	ResellerID          string     `json:"reseller_id"`
	Status              string     `json:"status"`
	AvailabilityEndDate *time.Time `json:"availability_end_date,omitempty"`
	CreatedAt           string     `json:"created_at"`
}

func toAuthorizationResponse(a authorization.Authorization) authorizationResponse {
	return authorizationResponse{
		ID:                  a.ID,
		ProductID:           a.ProductID,
		GrantorID:           a.GrantorID,
		ResellerID:          a.ResellerID,
		Status:              string(a.Status),
		AvailabilityEndDate: a.AvailabilityEndDate,
		CreatedAt:           a.CreatedAt.Format(time.RFC3339),
	}
}

func toAuthorizationResponses(items []authorization.Authorization) []authorizationResponse {
	out := make([]authorizationResponse, 0, len(items))
	for _, a := range items {
		out = append(out, toAuthorizationResponse(a))
	}
	return out
}

type offerResponse struct {
	ID              string     `json:"id"`
	ProductID       string     `json:"product_id"`
	CreatorID       string     `json:"creator_id"`
	AuthorizationID *string    `json:"authorization_id,omitempty"`
	Visibility      string     `json:"visibility"`
	Status          string     `json:"status"`
	PriceCents      int64      `json:"price_cents"`
	Currency        string     `json:"currency"`
	DurationDays    int        `json:"duration_days"`
	Terms           string     `json:"terms,omitempty"`
	ValidFrom       *time.Time `json:"valid_from,omitempty"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`
	CreatedAt       string     `json:"created_at"`
}

func toOfferResponse(o offer.Offer) offerResponse {
	return offerResponse{
		ID:              o.ID,
		ProductID:       o.ProductID,
		CreatorID:       o.CreatorID,
		AuthorizationID: o.AuthorizationID,
		Visibility:      string(o.Visibility),
		Status:          string(o.Status),
		PriceCents:      o.PriceCents,
		Currency:        o.Currency,
		DurationDays:    o.DurationDays,
		Terms:           o.Terms,
		ValidFrom:       o.ValidFrom,
		ValidUntil:      o.ValidUntil,
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
	}
}

func toOfferResponses(items []offer.Offer) []offerResponse {
	out := make([]offerResponse, 0, len(items))
	for _, o := range items {
		out = append(out, toOfferResponse(o))
	}
	return out
}

type agreementResponse struct {
	ID                string  `json:"id"`
	OfferID           string  `json:"offer_id"`
	ProposerID        string  `json:"proposer_id"`
	AcceptorID        string  `json:"acceptor_id"`
	ProductID         string  `json:"product_id"`
	PriceCents        int64   `json:"price_cents"`
	Currency          string  `json:"currency"`
	DurationDays      int     `json:"duration_days"`
	Terms             string  `json:"terms,omitempty"`
	Status            string  `json:"status"`
	ParentAgreementID *string `json:"parent_agreement_id,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

func toAgreementResponse(a agreement.Agreement) agreementResponse {
	return agreementResponse{
		ID:                a.ID,
		OfferID:           a.OfferID,
		ProposerID:        a.ProposerID,
		AcceptorID:        a.AcceptorID,
		ProductID:         a.ProductID,
		PriceCents:        a.PriceCents,
		Currency:          a.Currency,
		DurationDays:      a.DurationDays,
		Terms:             a.Terms,
		Status:            string(a.Status),
		ParentAgreementID: a.ParentAgreementID,
		CreatedAt:         a.CreatedAt.Format(time.RFC3339),
	}
}

func toAgreementResponses(items []agreement.Agreement) []agreementResponse {
	out := make([]agreementResponse, 0, len(items))
	for _, a := range items {
		out = append(out, toAgreementResponse(a))
	}
	return out
}

type disbursementResponse struct {
	ID                   string     `json:"id"`
	AgreementID          string     `json:"agreement_id"`
	RemoteDisbursementID string     `json:"remote_disbursement_id"`
	AmountCents          int64      `json:"amount_cents"`
	Currency             string     `json:"currency"`
	PeriodStart          *time.Time `json:"period_start,omitempty"`
	PeriodEnd            *time.Time `json:"period_end,omitempty"`
	Status               string     `json:"status"`
}

func toDisbursementResponses(items []disbursement.Disbursement) []disbursementResponse {
	out := make([]disbursementResponse, 0, len(items))
	for _, d := range items {
		out = append(out, disbursementResponse{
			ID:                   d.ID,
			AgreementID:          d.AgreementID,
			RemoteDisbursementID: d.RemoteDisbursementID,
			AmountCents:          d.AmountCents,
			Currency:             d.Currency,
			PeriodStart:          d.PeriodStart,
			PeriodEnd:            d.PeriodEnd,
			Status:               string(d.Status),
		})
	}
	return out
}
