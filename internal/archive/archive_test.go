package archive

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"jobsync/internal/config"
)

func sampleReport() Report {
	return Report{
		Key:        "n8n_sync",
		Source:     "stackoverflow",
		StartedAt:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2024, 3, 1, 12, 0, 2, 0, time.UTC),
		Synced:     1,
		Failed:     1,
		Total:      2,
		Delivered:  []string{"https://x/1"},
		Dropped:    []string{"https://x/2"},
	}
}

func TestObjectKey(t *testing.T) {
	got := sampleReport().ObjectKey()
	want := "n8n_sync/20240301T120000.000Z-stackoverflow.json"
	if got != want {
		t.Fatalf("ObjectKey() = %q, want %q", got, want)
	}
}

func TestLocalArchiverWritesReport(t *testing.T) {
	dir := t.TempDir()
	a := NewLocal(dir)

	loc, err := a.Save(context.Background(), sampleReport())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(loc, dir) {
		t.Fatalf("report written outside %s: %s", dir, loc)
	}
	data, err := os.ReadFile(filepath.Join(dir, "n8n_sync", "20240301T120000.000Z-stackoverflow.json"))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var got Report
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if got.Synced != 1 || got.Failed != 1 || len(got.Dropped) != 1 || got.Dropped[0] != "https://x/2" {
		t.Fatalf("unexpected report %+v", got)
	}
}

func TestNewWithoutTargetReturnsNil(t *testing.T) {
	a, err := New(context.Background(), config.Config{})
	if err != nil || a != nil {
		t.Fatalf("expected nil archiver, got %v err=%v", a, err)
	}
}

func TestS3ArchiverPutsObject(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "none"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "none"))

	var (
		mu     sync.Mutex
		method string
		path   string
		body   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		method, path = r.Method, r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Config{
		ReportS3Bucket:    "reports",
		ReportS3Region:    "us-east-1",
		ReportS3Endpoint:  srv.URL,
		ReportS3PathStyle: true,
	}
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	loc, err := a.Save(context.Background(), sampleReport())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if loc != "s3://reports/n8n_sync/20240301T120000.000Z-stackoverflow.json" {
		t.Fatalf("location = %q", loc)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut || path != "/reports/n8n_sync/20240301T120000.000Z-stackoverflow.json" {
		t.Fatalf("unexpected request %s %s", method, path)
	}
	if !strings.Contains(string(body), `"https://x/2"`) {
		t.Fatalf("report body missing dropped url: %s", body)
	}
}
