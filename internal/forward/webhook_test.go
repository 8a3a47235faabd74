package forward

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"jobsync/internal/models"
)

func TestForwardWithoutURLIsNotApplicable(t *testing.T) {
	w := NewWebhook("", time.Second, nil)
	if got := w.Forward(context.Background(), models.JobPosting{JobURL: "https://x/1"}); got != NotApplicable {
		t.Fatalf("Forward() = %s, want %s", got, NotApplicable)
	}
	if NotApplicable.Forwarded() != nil {
		t.Fatalf("not applicable should map to nil")
	}
}

func TestForwardDelivers(t *testing.T) {
	var received models.JobPosting
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, time.Second, nil)
	got := w.Forward(context.Background(), models.JobPosting{JobURL: "https://x/1", Title: "Engineer"})
	if got != Delivered {
		t.Fatalf("Forward() = %s, want %s", got, Delivered)
	}
	if received.JobURL != "https://x/1" || received.Title != "Engineer" {
		t.Fatalf("unexpected payload %+v", received)
	}
	if f := got.Forwarded(); f == nil || !*f {
		t.Fatalf("delivered should map to true")
	}
}

func TestForwardNonSuccessStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, time.Second, nil)
	got := w.Forward(context.Background(), models.JobPosting{JobURL: "https://x/1"})
	if got != Failed {
		t.Fatalf("Forward() = %s, want %s", got, Failed)
	}
	if f := got.Forwarded(); f == nil || *f {
		t.Fatalf("failed should map to false")
	}
}

func TestForwardTimeoutFails(t *testing.T) {
	var calls atomic.Int32
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	w := NewWebhook(srv.URL, 50*time.Millisecond, nil)
	if got := w.Forward(context.Background(), models.JobPosting{JobURL: "https://x/1"}); got != Failed {
		t.Fatalf("Forward() = %s, want %s", got, Failed)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one attempt, got %d", calls.Load())
	}
}

func TestForwardUnreachableFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	w := NewWebhook(url, time.Second, nil)
	if got := w.Forward(context.Background(), models.JobPosting{JobURL: "https://x/1"}); got != Failed {
		t.Fatalf("Forward() = %s, want %s", got, Failed)
	}
}
