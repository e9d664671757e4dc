package reconcile

import (
	"testing"

	"channelflow/agreement"
	"channelflow/authorization"
	"channelflow/disbursement"
	"channelflow/offer"
)

func TestStatusMappingsFallBackConservatively(t *testing.T) {
	if got := mapOfferStatus("SOMETHING_NEW"); got != offer.StatusPending {
		t.Fatalf("unmapped offer status must fall back to pending, got %s", got)
	}
	if got := mapAuthorizationStatus("SOMETHING_NEW"); got != authorization.StatusPending {
		t.Fatalf("unmapped authorization status must fall back to pending, got %s", got)
	}
	if got := mapDisbursementStatus("SOMETHING_NEW"); got != disbursement.StatusUnknown {
		t.Fatalf("unmapped disbursement status must fall back to unknown, got %s", got)
	}
	if _, ok := mapAgreementStatus("SOMETHING_NEW"); ok {
		t.Fatal("unmapped agreement status must report no mapping")
	}
}

func TestStatusMappingsCoverKnownVocabulary(t *testing.T) {
	if got, ok := mapAgreementStatus("TERMINATED"); !ok || got != agreement.StatusTerminated {
		t.Fatalf("expected terminated got %s ok=%v", got, ok)
	}
	if got := mapOfferStatus("RELEASED"); got != offer.StatusReleased {
		t.Fatalf("expected released got %s", got)
	}
	if got := mapAuthorizationStatus("ACTIVE"); got != authorization.StatusActive {
		t.Fatalf("expected active got %s", got)
	}
	if got := mapDisbursementStatus("PAID"); got != disbursement.StatusPaid {
		t.Fatalf("expected paid got %s", got)
	}
}
