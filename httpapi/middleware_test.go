package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"channelflow/auth"
)

type fakeVerifier struct {
	userID string
	err    error
}

func (f *fakeVerifier) VerifyToken(token string) (string, auth.Role, error) {
	if f.err != nil {
		return "", "", f.err
	}
	return f.userID, auth.RoleVendor, nil
}

func TestRequireAuth(t *testing.T) {
	var seenUserID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUserID = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	handler := RequireAuth(&fakeVerifier{userID: "user-1"})(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
	if seenUserID != "user-1" {
		t.Fatalf("expected user id on context got %q", seenUserID)
	}
}

func TestRequireAuth_RejectsMissingAndInvalidTokens(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	handler := RequireAuth(&fakeVerifier{userID: "user-1"})(next)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token got %d", rec.Code)
	}

	handler = RequireAuth(&fakeVerifier{err: errors.New("expired")})(next)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid token") {
		t.Fatalf("expected error envelope got %s", rec.Body.String())
	}
}

func TestReadJSON_RejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"target_id":"u1","bogus":true}`))
	var body struct {
		TargetID string `json:"target_id"`
	}
	if err := ReadJSON(req, &body); err == nil {
		t.Fatal("expected unknown field rejection")
	}
}
