package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(baseURL string, attempts uint64) *HTTPClient {
	c := NewHTTPClient(baseURL, "test-key")
	c.attempts = attempts
	return c
}

func TestGetAgreement_RetriesServerErrors(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(RemoteAgreement{ID: "mkt-agr-1", ExternalRef: "agr-1", Status: "ACTIVE", Revision: 3})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 2)
	got, err := client.GetAgreement(context.Background(), "mkt-agr-1")
	if err != nil {
		t.Fatalf("get agreement: %v", err)
	}
	if hits != 2 {
		t.Fatalf("expected retry after 500, got %d requests", hits)
	}
	if got.Revision != 3 || got.Status != "ACTIVE" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestGetOffer_NotFoundIsTerminal(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 3)
	_, err := client.GetOffer(context.Background(), "missing")
	if !errors.Is(err, ErrRemoteNotFound) {
		t.Fatalf("expected ErrRemoteNotFound got %v", err)
	}
	if hits != 1 {
		t.Fatalf("404 must not be retried, got %d requests", hits)
	}
}

func TestGetAgreement_UnavailableAfterRetries(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 1)
	_, err := client.GetAgreement(context.Background(), "mkt-agr-1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable got %v", err)
	}
	if hits != 2 {
		t.Fatalf("expected initial attempt plus one retry, got %d requests", hits)
	}
}

func TestRegisterAuthorization_PostsPayload(t *testing.T) {
	var received RegisterAuthorizationParams
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/resale-authorizations" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "mkt-ra-1"})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 1)
	remoteID, err := client.RegisterAuthorization(context.Background(), RegisterAuthorizationParams{
		ExternalRef: "ra-1",
		GrantorID:   "vendor-1",
		ResellerID:  "reseller-1",
		ProductRef:  "prod-1",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if remoteID != "mkt-ra-1" {
		t.Fatalf("expected remote id mkt-ra-1 got %q", remoteID)
	}
	if received.ExternalRef != "ra-1" || received.ProductRef != "prod-1" {
		t.Fatalf("unexpected payload: %+v", received)
	}
}

func TestDo_ClientErrorsAreTerminal(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "bad ref", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 3)
	_, err := client.ListDisbursements(context.Background())
	if err == nil || errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected terminal client error, got %v", err)
	}
	if hits != 1 {
		t.Fatalf("4xx must not be retried, got %d requests", hits)
	}
}
