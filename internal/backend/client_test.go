package backend

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(srv *httptest.Server, token string) *Client {
	return NewClient(ClientConfig{
		BaseURL: srv.URL,
		Token:   func() string { return token },
		Logger:  log.New(io.Discard, "", 0),
	})
}

func TestJobOfferSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer tok-123")
		}
		if want := "/api/job-offers/7"; r.URL.Path != want {
			t.Errorf("path = %q, want %q", r.URL.Path, want)
		}
		_ = json.NewEncoder(w).Encode(JobOffer{
			ID:           "7",
			Title:        "Backend Engineer",
			CompanyName:  "Acme",
			Requirements: []string{"Go"},
			Questions:    []string{"Why Acme?"},
		})
	}))
	defer srv.Close()

	offer, err := newTestClient(srv, "tok-123").JobOffer(context.Background(), "7")
	if err != nil {
		t.Fatalf("JobOffer: %v", err)
	}
	if offer.Title != "Backend Engineer" || offer.CompanyName != "Acme" {
		t.Errorf("offer = %+v", offer)
	}
}

func TestUnauthenticatedRequestOmitsAuthorizationHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["Authorization"]; ok {
			t.Error("Authorization header should be absent without a token")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	if err := newTestClient(srv, "").CompleteGuestInterview(context.Background(), "42"); err != nil {
		t.Fatalf("CompleteGuestInterview: %v", err)
	}
}

func TestCompleteGuestInterviewShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %q, want PATCH", r.Method)
		}
		if want := "/api/guest-interviews/42/complete"; r.URL.Path != want {
			t.Errorf("path = %q, want %q", r.URL.Path, want)
		}
		raw, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(raw), `"completed"`) {
			t.Errorf("body = %s, want completed status", raw)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := newTestClient(srv, "tok").CompleteGuestInterview(context.Background(), "42"); err != nil {
		t.Fatalf("CompleteGuestInterview: %v", err)
	}
}

func TestErrorsCarryDetailMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail": "job offer not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv, "tok").JobOffer(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error on 404")
	}
	if !strings.Contains(err.Error(), "job offer not found") {
		t.Errorf("err = %v, want it to carry the detail message", err)
	}
}

func TestErrorsFallBackToStatusWithoutDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestClient(srv, "tok").CreateReport(context.Background(), "7")
	if err == nil {
		t.Fatal("expected error on 502")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("err = %v, want it to mention the status", err)
	}
}
