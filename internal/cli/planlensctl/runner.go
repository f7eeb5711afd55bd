package planlensctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	OwnerID    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

type request struct {
	method string
	path   string
	query  url.Values
	body   io.Reader
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	stdin := defaults.Stdin
	if stdin == nil {
		stdin = strings.NewReader("")
	}

	fs := flag.NewFlagSet("planlensctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "PlanLens API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	ownerID := fs.String("owner-id", defaults.OwnerID, "Owner ID header (used when auth is disabled)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")
	previewRows := fs.Int("preview-rows", 0, "Preview rows for describe (1-100)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	req, err := buildRequest(fs.Args(), stdin, *previewRows)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}
	if closer, ok := req.body.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}
	code, responseBody, err := doRequest(ctx, client, req.method, endpoint, req.body, *apiKey, *ownerID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildRequest(args []string, stdin io.Reader, previewRows int) (request, error) {
	command := strings.TrimSpace(args[0])
	operands := args[1:]
	need := func(n int, usage string) error {
		if len(operands) < n {
			return fmt.Errorf("usage: planlensctl %s %s", command, usage)
		}
		return nil
	}
	datasetPath := func(suffix string) string {
		return "/v1/datasets/" + url.PathEscape(operands[0]) + suffix
	}

	switch command {
	case "health":
		return request{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return request{method: http.MethodGet, path: "/v1/ready"}, nil
	case "datasets":
		return request{method: http.MethodGet, path: "/v1/datasets"}, nil
	case "upload":
		if err := need(1, "<file>"); err != nil {
			return request{}, err
		}
		file, err := os.Open(operands[0])
		if err != nil {
			return request{}, fmt.Errorf("open dataset: %w", err)
		}
		return request{
			method: http.MethodPost,
			path:   "/v1/datasets",
			query:  url.Values{"filename": {filepath.Base(operands[0])}},
			body:   file,
		}, nil
	case "describe":
		if err := need(1, "<dataset-id>"); err != nil {
			return request{}, err
		}
		req := request{method: http.MethodGet, path: datasetPath("")}
		if previewRows > 0 {
			req.query = url.Values{"preview_rows": {fmt.Sprint(previewRows)}}
		}
		return req, nil
	case "data-health":
		if err := need(1, "<dataset-id>"); err != nil {
			return request{}, err
		}
		return request{method: http.MethodGet, path: datasetPath("/health")}, nil
	case "delete":
		if err := need(1, "<dataset-id>"); err != nil {
			return request{}, err
		}
		return request{method: http.MethodDelete, path: datasetPath("")}, nil
	case "executions":
		if err := need(1, "<dataset-id>"); err != nil {
			return request{}, err
		}
		return request{method: http.MethodGet, path: datasetPath("/executions")}, nil
	case "execute":
		if err := need(2, "<dataset-id> <plan.json|->"); err != nil {
			return request{}, err
		}
		body, err := openInput(operands[1], stdin)
		if err != nil {
			return request{}, err
		}
		return request{method: http.MethodPost, path: datasetPath("/execute"), body: body}, nil
	case "ask":
		if err := need(2, "<dataset-id> <question>"); err != nil {
			return request{}, err
		}
		payload, err := json.Marshal(map[string]string{"prompt": strings.Join(operands[1:], " ")})
		if err != nil {
			return request{}, err
		}
		return request{method: http.MethodPost, path: datasetPath("/ask"), body: bytes.NewReader(payload)}, nil
	case "dashboard":
		if err := need(1, "<dataset-id> [layout.json|-]"); err != nil {
			return request{}, err
		}
		req := request{method: http.MethodPost, path: datasetPath("/dashboard")}
		if len(operands) > 1 {
			body, err := openInput(operands[1], stdin)
			if err != nil {
				return request{}, err
			}
			req.body = body
		}
		return req, nil
	case "clean-suggest":
		if err := need(1, "<dataset-id>"); err != nil {
			return request{}, err
		}
		return request{method: http.MethodPost, path: datasetPath("/clean/suggest")}, nil
	case "clean-apply":
		if err := need(2, "<dataset-id> <suggestions.json|->"); err != nil {
			return request{}, err
		}
		body, err := openInput(operands[1], stdin)
		if err != nil {
			return request{}, err
		}
		return request{method: http.MethodPost, path: datasetPath("/clean/apply"), body: body}, nil
	default:
		return request{}, fmt.Errorf("unknown command %q", command)
	}
}

func openInput(name string, stdin io.Reader) (io.Reader, error) {
	if name == "-" {
		return stdin, nil
	}
	file, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return file, nil
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint string, body io.Reader, apiKey, ownerID string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	if strings.TrimSpace(ownerID) != "" {
		req.Header.Set("X-Owner-ID", strings.TrimSpace(ownerID))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: planlensctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                         GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                          GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  datasets                       GET /v1/datasets")
	_, _ = fmt.Fprintln(w, "  upload <file>                  POST /v1/datasets")
	_, _ = fmt.Fprintln(w, "  describe <id>                  GET /v1/datasets/{id}")
	_, _ = fmt.Fprintln(w, "  data-health <id>               GET /v1/datasets/{id}/health")
	_, _ = fmt.Fprintln(w, "  delete <id>                    DELETE /v1/datasets/{id}")
	_, _ = fmt.Fprintln(w, "  execute <id> <plan.json|->     POST /v1/datasets/{id}/execute")
	_, _ = fmt.Fprintln(w, "  executions <id>                GET /v1/datasets/{id}/executions")
	_, _ = fmt.Fprintln(w, "  ask <id> <question>            POST /v1/datasets/{id}/ask")
	_, _ = fmt.Fprintln(w, "  dashboard <id> [layout.json|-] POST /v1/datasets/{id}/dashboard")
	_, _ = fmt.Fprintln(w, "  clean-suggest <id>             POST /v1/datasets/{id}/clean/suggest")
	_, _ = fmt.Fprintln(w, "  clean-apply <id> <file|->      POST /v1/datasets/{id}/clean/apply")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
