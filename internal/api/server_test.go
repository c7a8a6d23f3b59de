package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"stakehouse/internal/ledger"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"  Bearer   spaced  ", "spaced"},
	}
	for _, tc := range tests {
		if got := bearerToken(tc.header); got != tc.want {
			t.Fatalf("bearerToken(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestIdempotencyKeyHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/accounts/deposit", nil)
	r.Header.Set("Idempotency-Key", "op-1")
	if got := idempotencyKey(r); got != "op-1" {
		t.Fatalf("idempotencyKey = %q", got)
	}
}

func TestIdempotencyKeyFallback(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/accounts/deposit", nil)
	if got := idempotencyKey(r); got == "" {
		t.Fatal("expected generated key when header is absent")
	}
}

func TestWriteDomainErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{ledger.ErrInsufficientFunds, http.StatusBadRequest},
		{ledger.ErrArithmetic, http.StatusBadRequest},
		{ledger.ErrUnauthorized, http.StatusForbidden},
		{ledger.ErrAlreadyExists, http.StatusConflict},
		{ledger.ErrDuplicateIdempotency, http.StatusConflict},
		{ledger.ErrTxConflict, http.StatusConflict},
		{ledger.ErrAccountNotFound, http.StatusNotFound},
		{ledger.ErrNotInitialized, http.StatusNotFound},
		{ledger.ErrTransferFailed, http.StatusBadGateway},
		{fmt.Errorf("wrapped: %w", ledger.ErrInsufficientFunds), http.StatusBadRequest},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		writeDomainError(rec, tc.err)
		if rec.Code != tc.status {
			t.Fatalf("writeDomainError(%v) status = %d, want %d", tc.err, rec.Code, tc.status)
		}
		var body map[string]any
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["error"] == "" {
			t.Fatal("expected error message in body")
		}
	}
}

func TestDecodeJSONUnknownField(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Body = http.NoBody
	var out struct{}
	if err := decodeJSON(r, &out); err == nil {
		t.Fatal("expected error for empty body")
	}
}
