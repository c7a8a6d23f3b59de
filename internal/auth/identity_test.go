package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVerifyAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			t.Fatalf("authorization = %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("apikey") != "anon" {
			t.Fatalf("apikey = %q", r.Header.Get("apikey"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"user-1","email":"u@example.com"}`))
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL, "anon").VerifyAccessToken(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.ID != "user-1" || id.Email != "u@example.com" {
		t.Fatalf("identity = %+v", id)
	}
}

func TestVerifyAccessTokenRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "anon").VerifyAccessToken(context.Background(), "bad"); err == nil {
		t.Fatal("expected error for rejected token")
	}
}

func TestLoginDecodesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","user":{"id":"user-1","email":"u@example.com"}}`))
	}))
	defer srv.Close()

	session, err := NewClient(srv.URL, "anon").Login(context.Background(), "u@example.com", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.AccessToken != "at" || session.Identity.ID != "user-1" {
		t.Fatalf("session = %+v", session)
	}
}
