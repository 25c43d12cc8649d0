package sqlpilotctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRunAskCommand(t *testing.T) {
	var gotMethod, gotPath, gotAPIKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sql":["SELECT 1"],"isValid":true}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-api-key", "k1",
		"ask", "-connection", "shop", "-execute", "-top-k", "4",
		"total", "revenue",
	}, Options{Stdout: &stdout, Stderr: &stderr, Timeout: 2 * time.Second})

	if code != 0 {
		t.Fatalf("exit code = %d stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/ask" || gotAPIKey != "k1" {
		t.Fatalf("request = %s %s key=%q", gotMethod, gotPath, gotAPIKey)
	}
	if gotBody["question"] != "total revenue" || gotBody["connection_id"] != "shop" || gotBody["execute"] != true || gotBody["top_k"] != float64(4) {
		t.Fatalf("body = %v", gotBody)
	}
	if !strings.Contains(stdout.String(), "\"isValid\": true") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunAskStreamPrintsRawEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ask/stream" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: done\ndata: {\"elapsedMs\":3}\n\n"))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "ask", "-connection", "shop", "-stream", "hi"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if stdout.String() != "event: done\ndata: {\"elapsedMs\":3}\n\n" {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunBuildCommands(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
		}
		_, _ = w.Write([]byte(`{"connectionId":"shop","status":"InProgress"}`))
	}))
	defer srv.Close()

	for _, command := range []string{"build", "build-status"} {
		if code := Run(context.Background(), []string{"-base-url", srv.URL, command, "shop"}, Options{}); code != 0 {
			t.Fatalf("%s exit code = %d", command, code)
		}
	}
	if len(calls) != 2 || calls[0] != "POST /v1/connections/shop/build" || calls[1] != "GET /v1/connections/shop/build" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error_code":"CONNECTION_NOT_FOUND"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "build", "nope"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "http 404") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunRejectsBadUsage(t *testing.T) {
	tests := [][]string{
		{},
		{"unknown"},
		{"ask", "hello"},
		{"ask", "-connection", "shop"},
		{"build"},
		{"build-status", "a", "b"},
	}
	for _, args := range tests {
		if code := Run(context.Background(), args, Options{}); code != 2 {
			t.Fatalf("Run(%v) exit code = %d, want 2", args, code)
		}
	}
}
