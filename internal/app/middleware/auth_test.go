package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthenticate_ValidBearerTokenPassesThrough(t *testing.T) {
	table := KeyTable{"secret-key": func() string { return "upstream-cred" }}
	called := false
	handler := Authenticate(table, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected downstream handler to be called for a valid key")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestAuthenticate_MissingHeaderReturns401Envelope(t *testing.T) {
	table := KeyTable{"secret-key": func() string { return "upstream-cred" }}
	handler := Authenticate(table, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("downstream handler must not be called without a valid key")
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}
}

func TestAuthenticate_UnknownKeyRejected(t *testing.T) {
	table := KeyTable{"secret-key": func() string { return "upstream-cred" }}
	handler := Authenticate(table, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("downstream handler must not be called for an unknown key")
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticate_EmptyTableAllowsAllRequests(t *testing.T) {
	handler := Authenticate(KeyTable{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected empty table to allow the request, got %d", rec.Code)
	}
}
