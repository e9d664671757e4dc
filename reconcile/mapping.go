package reconcile

import (
	"channelflow/agreement"
	"channelflow/authorization"
	"channelflow/disbursement"
	"channelflow/offer"
)

// The marketplace reports status strings from its own vocabulary. Each
// mapping below is total over the remote values we have seen; anything
// outside the table falls into a conservative bucket instead of erroring,
// so one unrecognised value never poisons a sync batch.

var agreementStatusMap = map[string]agreement.Status{
	"ACTIVE":     agreement.StatusActive,
	"RENEWED":    agreement.StatusRenewed,
	"REPLACED":   agreement.StatusReplaced,
	"CANCELLED":  agreement.StatusCancelled,
	"TERMINATED": agreement.StatusTerminated,
	"EXPIRED":    agreement.StatusExpired,
	"ARCHIVED":   agreement.StatusArchived,
}

// mapAgreementStatus reports ok=false for unrecognised values; the caller
// leaves the local status untouched rather than guessing.
func mapAgreementStatus(remote string) (agreement.Status, bool) {
	s, ok := agreementStatusMap[remote]
	return s, ok
}

var offerStatusMap = map[string]offer.Status{
	"DRAFT":     offer.StatusDraft,
	"PENDING":   offer.StatusPending,
	"ACTIVE":    offer.StatusActive,
	"RELEASED":  offer.StatusReleased,
	"ACCEPTED":  offer.StatusAccepted,
	"DECLINED":  offer.StatusDeclined,
	"EXPIRED":   offer.StatusExpired,
	"CANCELLED": offer.StatusCancelled,
}

func mapOfferStatus(remote string) offer.Status {
	if s, ok := offerStatusMap[remote]; ok {
		return s
	}
	return offer.StatusPending
}

var authorizationStatusMap = map[string]authorization.Status{
	"DRAFT":      authorization.StatusDraft,
	"PENDING":    authorization.StatusPending,
	"ACTIVE":     authorization.StatusActive,
	"RESTRICTED": authorization.StatusRestricted,
	"CANCELLED":  authorization.StatusCancelled,
	"EXPIRED":    authorization.StatusExpired,
	"REJECTED":   authorization.StatusRejected,
}

func mapAuthorizationStatus(remote string) authorization.Status {
	if s, ok := authorizationStatusMap[remote]; ok {
		return s
	}
	return authorization.StatusPending
}

var disbursementStatusMap = map[string]disbursement.Status{
	"PENDING": disbursement.StatusPending,
	"PAID":    disbursement.StatusPaid,
	"HELD":    disbursement.StatusHeld,
	"FAILED":  disbursement.StatusFailed,
}

func mapDisbursementStatus(remote string) disbursement.Status {
	if s, ok := disbursementStatusMap[remote]; ok {
		return s
	}
	return disbursement.StatusUnknown
}
