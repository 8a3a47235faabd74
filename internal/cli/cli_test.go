package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"jobsync/internal/api"
	"jobsync/internal/client"
	"jobsync/internal/config"
	"jobsync/internal/forward"
	"jobsync/internal/ingest"
	"jobsync/internal/store"
	"jobsync/internal/syncer"
	"jobsync/internal/ui"
)

func newContext(t *testing.T, in string) (*Context, *bytes.Buffer) {
	t.Helper()
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(hook.Close)

	mem := store.NewMemory()
	cfg := config.Config{APIKey: "k", BatchMaxSize: 100}
	notifier := forward.NewWebhook(hook.URL, time.Second, nil)
	proc := ingest.NewBatchProcessor(ingest.NewEngine(mem), notifier, cfg.BatchMaxSize, nil)
	mgr := syncer.NewManager(mem, notifier, "")
	srv := httptest.NewServer(api.New(cfg, mem, proc, mgr, nil, nil).Router())
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	return &Context{
		In:         strings.NewReader(in),
		Out:        &out,
		Err:        &out,
		UI:         ui.New(&out, &out, ui.ColorNever, true),
		Config:     Config{DefaultSource: "wellfound"},
		Logger:     zerolog.Nop(),
		JSONOutput: true,
		Client:     client.New(srv.URL, "k", time.Second),
	}, &out
}

func TestSubmitChunksAndReindexesErrors(t *testing.T) {
	input := `[
		{"company":"Initech","title":"SRE","job_url":"https://jobs.example/1"},
		{"company":"Initech","title":"SRE","job_url":"https://jobs.example/2","source":"linkedin"},
		{"company":"Initech","title":"SRE","job_url":"https://jobs.example/3","source":"craigslist"}
	]`
	ctx, out := newContext(t, input)

	cmd := &SubmitCmd{BatchSize: 2}
	if err := cmd.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var report SubmitReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v (%s)", err, out.String())
	}
	if report.Submitted != 3 || report.Created != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}
	if len(report.Errors) != 1 || report.Errors[0].Index != 2 {
		t.Fatalf("errors = %+v, want one at index 2", report.Errors)
	}
}

func TestSyncThenStatus(t *testing.T) {
	ctx, out := newContext(t, `{"jobs":[{"company":"Initech","title":"SRE","job_url":"https://jobs.example/1"}]}`)
	if err := (&SubmitCmd{}).Run(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}

	out.Reset()
	if err := (&SyncCmd{}).Run(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	var res syncer.PassResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode sync: %v", err)
	}
	if res.Synced != 1 || res.Total != 1 {
		t.Fatalf("pass = %+v", res)
	}

	out.Reset()
	if err := (&StatusCmd{}).Run(ctx); err != nil {
		t.Fatalf("status: %v", err)
	}
	var st syncer.Status
	if err := json.Unmarshal(out.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.TotalSynced != 1 || st.PendingJobs != 0 || st.LastSyncAt == nil {
		t.Fatalf("status = %+v", st)
	}
}

func TestHumanOutput(t *testing.T) {
	ctx, out := newContext(t, `{"company":"Initech","title":"SRE","job_url":"https://jobs.example/1"}`)
	ctx.JSONOutput = false
	if err := (&SubmitCmd{}).Run(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := (&ListCmd{Limit: 10}).Run(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := (&SyncCmd{}).Run(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := (&SyncCmd{}).Run(ctx); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	text := out.String()
	for _, want := range []string{"1 created", "wellfound", "Synced 1 of 1", "Nothing new to sync."} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestDecodeRecords(t *testing.T) {
	if _, err := decodeRecords([]byte("  ")); err == nil {
		t.Fatalf("expected error for empty input")
	}
	if _, err := decodeRecords([]byte("[]")); err == nil {
		t.Fatalf("expected error for empty array")
	}
	if _, err := decodeRecords([]byte(`{"jobs":[1]}`)); err == nil {
		t.Fatalf("expected error for non-object job")
	}
	if _, err := decodeRecords([]byte(`[{"title":"a"}, null]`)); err == nil || !strings.Contains(err.Error(), "postings[1]") {
		t.Fatalf("null element err = %v, want postings[1]", err)
	}
	items, err := decodeRecords([]byte(`{"title":"x"}`))
	if err != nil || len(items) != 1 {
		t.Fatalf("single object = %v, %v", items, err)
	}
}

func TestParseSince(t *testing.T) {
	got, err := parseSince("2024-03-01")
	if err != nil || got == nil || !got.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("parseSince(date) = %v, %v", got, err)
	}
	if got, err := parseSince(""); err != nil || got != nil {
		t.Fatalf("parseSince(\"\") = %v, %v", got, err)
	}
	if _, err := parseSince("yesterday"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadConfigJSON5AndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	t.Setenv("JOBSYNC_API_KEY", "from-env")

	path := filepath.Join(dir, DirName, ConfigFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	data := `{
		// local api
		"api_url": "http://api.internal:8080",
		"api_key": "from-file",
		"timeout_seconds": 5,
	}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.APIURL != "http://api.internal:8080" || cfg.TimeoutSeconds != 5 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.APIKey != "from-env" {
		t.Fatalf("APIKey = %q, want env override", cfg.APIKey)
	}
}

func TestInitConfigOnce(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path, err := InitConfig()
	if err != nil || path == "" {
		t.Fatalf("InitConfig() = %q, %v", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v", info.Mode().Perm())
	}
	again, err := InitConfig()
	if err != nil || again != "" {
		t.Fatalf("second InitConfig() = %q, %v", again, err)
	}
}

func TestSubmitNullElementWithDefaultSource(t *testing.T) {
	ctx, _ := newContext(t, `[{"company":"Initech","title":"SRE","job_url":"https://jobs.example/1"}, null]`)
	if ctx.Config.DefaultSource == "" {
		t.Fatalf("default source must be set")
	}
	err := (&SubmitCmd{}).Run(ctx)
	if err == nil || !strings.Contains(err.Error(), "postings[1]") {
		t.Fatalf("Run() error = %v, want postings[1] rejected", err)
	}
}

func TestSubmitStopsWhenCancelled(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	ctx, _ := newContext(t, `[{"title":"a"},{"title":"b"},{"title":"c"}]`)
	ctx.Client = client.New(srv.URL, "k", time.Second)
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	ctx.Ctx = cancelled

	err := (&SubmitCmd{BatchSize: 1}).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if n := hits.Load(); n != 0 {
		t.Fatalf("server hit %d times after cancellation", n)
	}
}
