package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGateRejectsMissingToken(t *testing.T) {
	g := NewGate("s3cret")
	called := false
	h := g.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/manifest.json", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if called {
		t.Fatal("downstream handler must not run on auth failure")
	}
}

func TestGateAcceptsValidTokenAndStripsIt(t *testing.T) {
	g := NewGate("s3cret")
	var gotPath string
	h := g.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))

	req := httptest.NewRequest(http.MethodGet, "/s3cret/manifest.json", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotPath != "/manifest.json" {
		t.Fatalf("expected stripped path /manifest.json, got %s", gotPath)
	}
}

func TestGateExemptsHealth(t *testing.T) {
	g := NewGate("s3cret")
	called := false
	h := g.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !called {
		t.Fatalf("expected /health to bypass the gate, got code=%d called=%v", rec.Code, called)
	}
}

func TestGateRejectsWrongToken(t *testing.T) {
	g := NewGate("s3cret")
	h := g.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/wrong/manifest.json", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSignedURL(t *testing.T) {
	g := NewGate("s3cret")
	got := g.SignedURL("https://host", "/manifest.json")
	want := "https://host/s3cret/manifest.json"
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}
