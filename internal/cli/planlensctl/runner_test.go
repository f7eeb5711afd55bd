package planlensctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type capturedRequest struct {
	method string
	path   string
	query  string
	body   string
	apiKey string
	owner  string
}

func captureServer(t *testing.T, status int, response string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	got := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*got = capturedRequest{
			method: r.Method,
			path:   r.URL.EscapedPath(),
			query:  r.URL.RawQuery,
			body:   string(body),
			apiKey: r.Header.Get("X-API-Key"),
			owner:  r.Header.Get("X-Owner-ID"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestRunDatasetsCommand(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK, `{"datasets":[]}`)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-api-key", "k1",
		"-owner-id", "alice",
		"datasets",
	}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if got.method != http.MethodGet || got.path != "/v1/datasets" {
		t.Fatalf("request = %s %s", got.method, got.path)
	}
	if got.apiKey != "k1" || got.owner != "alice" {
		t.Fatalf("headers api_key=%q owner=%q", got.apiKey, got.owner)
	}
	if stdout.Len() == 0 {
		t.Fatal("expected command output")
	}
}

func TestRunUploadCommand(t *testing.T) {
	srv, got := captureServer(t, http.StatusCreated, `{"dataset_id":"ds-1"}`)
	file := filepath.Join(t.TempDir(), "orders.csv")
	if err := os.WriteFile(file, []byte("city,sales\nParis,1\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	code := Run(context.Background(), []string{"-base-url", srv.URL, "upload", file}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.method != http.MethodPost || got.path != "/v1/datasets" || got.query != "filename=orders.csv" {
		t.Fatalf("request = %s %s?%s", got.method, got.path, got.query)
	}
	if got.body != "city,sales\nParis,1\n" {
		t.Fatalf("body = %q", got.body)
	}
}

func TestRunExecuteReadsPlanFromStdin(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK, `{"kind":"metadata"}`)

	code := Run(context.Background(), []string{"-base-url", srv.URL, "execute", "ds 1", "-"}, Options{
		Stdin: strings.NewReader(`{"query_type":"metadata"}`),
	})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.method != http.MethodPost || got.path != "/v1/datasets/ds%201/execute" {
		t.Fatalf("request = %s %s", got.method, got.path)
	}
	if got.body != `{"query_type":"metadata"}` {
		t.Fatalf("body = %q", got.body)
	}
}

func TestRunAskJoinsQuestion(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK, `{"intent":"aggregation"}`)

	code := Run(context.Background(), []string{"-base-url", srv.URL, "ask", "ds-1", "total", "sales", "by", "city"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(got.body), &payload); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if got.path != "/v1/datasets/ds-1/ask" || payload["prompt"] != "total sales by city" {
		t.Fatalf("request = %s %v", got.path, payload)
	}
}

func TestRunCleanCommands(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK, `{"source":"rules","suggestions":[]}`)

	if code := Run(context.Background(), []string{"-base-url", srv.URL, "clean-suggest", "ds-1"}, Options{}); code != 0 {
		t.Fatalf("clean-suggest exit code = %d", code)
	}
	if got.method != http.MethodPost || got.path != "/v1/datasets/ds-1/clean/suggest" || got.body != "" {
		t.Fatalf("request = %s %s %q", got.method, got.path, got.body)
	}

	suggestions := `{"suggestions":[{"action":"DROP_DUPLICATES","reason":"dupes"}]}`
	code := Run(context.Background(), []string{"-base-url", srv.URL, "clean-apply", "ds-1", "-"}, Options{
		Stdin: strings.NewReader(suggestions),
	})
	if code != 0 {
		t.Fatalf("clean-apply exit code = %d", code)
	}
	if got.path != "/v1/datasets/ds-1/clean/apply" || got.body != suggestions {
		t.Fatalf("request = %s %q", got.path, got.body)
	}
}

func TestRunDescribeWithPreviewRows(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK, `{}`)

	code := Run(context.Background(), []string{"-base-url", srv.URL, "-preview-rows", "3", "describe", "ds-1"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.path != "/v1/datasets/ds-1" || got.query != "preview_rows=3" {
		t.Fatalf("request = %s?%s", got.path, got.query)
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv, _ := captureServer(t, http.StatusForbidden, `{"error_code":"FORBIDDEN"}`)

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "data-health", "ds-1"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	for _, args := range [][]string{{"unknown"}, {"describe"}, {"execute", "ds-1"}, {}} {
		var stderr bytes.Buffer
		code := Run(context.Background(), args, Options{Stderr: &stderr})
		if code != 2 {
			t.Fatalf("args %v: exit code = %d", args, code)
		}
		if stderr.Len() == 0 {
			t.Fatalf("args %v: expected usage output", args)
		}
	}
}
