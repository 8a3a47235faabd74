package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"jobsync/internal/api"
	"jobsync/internal/config"
	"jobsync/internal/forward"
	"jobsync/internal/ingest"
	"jobsync/internal/store"
	"jobsync/internal/syncer"
)

func newAPI(t *testing.T) *httptest.Server {
	t.Helper()
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(hook.Close)

	mem := store.NewMemory()
	cfg := config.Config{APIKey: "k", BatchMaxSize: 10}
	notifier := forward.NewWebhook(hook.URL, time.Second, nil)
	proc := ingest.NewBatchProcessor(ingest.NewEngine(mem), notifier, cfg.BatchMaxSize, nil)
	mgr := syncer.NewManager(mem, notifier, "")
	srv := httptest.NewServer(api.New(cfg, mem, proc, mgr, nil, nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func record(url string) map[string]any {
	return map[string]any{"company": "Initech", "title": "SRE", "source": "linkedin", "job_url": url}
}

func TestClientRoundTrip(t *testing.T) {
	srv := newAPI(t)
	c := New(srv.URL+"/", "k", time.Second)
	ctx := context.Background()

	if status, err := c.Health(ctx); err != nil || status != "healthy" {
		t.Fatalf("health = %q err=%v", status, err)
	}

	res, err := c.Submit(ctx, record("https://jobs.example/1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Created || res.Forwarded == nil || !*res.Forwarded {
		t.Fatalf("submit result = %+v", res)
	}

	sum, err := c.SubmitBatch(ctx, []map[string]any{record("https://jobs.example/1"), record("https://jobs.example/2")})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if sum.Created != 1 || sum.Updated != 1 {
		t.Fatalf("batch summary = %+v", sum)
	}

	page, err := c.List(ctx, ListQuery{Source: "linkedin", Limit: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 2 || len(page.Postings) != 1 || page.Limit != 1 {
		t.Fatalf("page = %+v", page)
	}

	stats, err := c.Stats(ctx)
	if err != nil || stats.Total != 2 {
		t.Fatalf("stats = %+v err=%v", stats, err)
	}

	st, err := c.Status(ctx, "")
	if err != nil || st.PendingJobs != 2 {
		t.Fatalf("status = %+v err=%v", st, err)
	}

	synced, err := c.Sync(ctx, "", nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if synced.NoOp || synced.Synced != 2 {
		t.Fatalf("sync = %+v", synced)
	}
	again, err := c.Sync(ctx, "", nil)
	if err != nil || !again.NoOp {
		t.Fatalf("second sync = %+v err=%v", again, err)
	}

	if err := c.Delete(ctx, page.Postings[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var apiErr *APIError
	if err := c.Delete(ctx, page.Postings[0].ID); !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("second delete = %v", err)
	}
}

func TestClientValidationError(t *testing.T) {
	srv := newAPI(t)
	c := New(srv.URL, "k", time.Second)

	_, err := c.Submit(context.Background(), map[string]any{"company": "Initech"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest || len(apiErr.Details) == 0 {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestClientWrongKey(t *testing.T) {
	srv := newAPI(t)
	c := New(srv.URL, "nope", time.Second)

	_, err := c.Stats(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}
