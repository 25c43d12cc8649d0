package sqlpilotctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type request struct {
	method string
	path   string
	body   []byte
	stream bool
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

	fs := flag.NewFlagSet("sqlpilotctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "sqlpilot API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 60s)")

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

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	var (
		req request
		err error
	)
	switch command {
	case "health":
		req = request{method: http.MethodGet, path: "/v1/health"}
	case "ready":
		req = request{method: http.MethodGet, path: "/v1/ready"}
	case "ask":
		req, err = parseAsk(rest, stderr)
	case "build":
		req, err = connectionRequest(http.MethodPost, rest)
	case "build-status":
		req, err = connectionRequest(http.MethodGet, rest)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", command, err)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	code, responseBody, err := doRequest(ctx, client, req, endpoint, *apiKey)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if req.stream {
		_, _ = stdout.Write(responseBody)
		return 0
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

func parseAsk(args []string, stderr io.Writer) (request, error) {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	fs.SetOutput(stderr)
	connection := fs.String("connection", "", "connection id to ask against")
	dialect := fs.String("dialect", "", "override the connection dialect")
	execute := fs.Bool("execute", false, "run the generated SQL in the sandbox")
	allowWrite := fs.Bool("allow-write", false, "allow data-modifying statements")
	topK := fs.Int("top-k", 0, "number of tables to retrieve as context")
	explain := fs.Bool("explain", false, "ask for an explanation of the SQL")
	streamed := fs.Bool("stream", false, "stream server-sent events instead of waiting for the result")
	if err := fs.Parse(args); err != nil {
		return request{}, err
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return request{}, fmt.Errorf("a question is required")
	}
	if strings.TrimSpace(*connection) == "" {
		return request{}, fmt.Errorf("-connection is required")
	}

	body, err := json.Marshal(map[string]any{
		"question":      question,
		"connection_id": strings.TrimSpace(*connection),
		"dialect":       strings.TrimSpace(*dialect),
		"execute":       *execute,
		"allow_write":   *allowWrite,
		"top_k":         *topK,
		"explain":       *explain,
	})
	if err != nil {
		return request{}, err
	}
	path := "/v1/ask"
	if *streamed {
		path = "/v1/ask/stream"
	}
	return request{method: http.MethodPost, path: path, body: body, stream: *streamed}, nil
}

func connectionRequest(method string, args []string) (request, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return request{}, fmt.Errorf("expected exactly one connection id")
	}
	return request{method: method, path: "/v1/connections/" + url.PathEscape(strings.TrimSpace(args[0])) + "/build"}, nil
}

func doRequest(ctx context.Context, client *http.Client, r request, endpoint, apiKey string) (int, []byte, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	if r.stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, payload, nil
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
	_, _ = fmt.Fprintln(w, "usage: sqlpilotctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                                GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                                 GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  ask -connection <id> [flags] <text>   POST /v1/ask (or /v1/ask/stream with -stream)")
	_, _ = fmt.Fprintln(w, "  build <id>                            POST /v1/connections/<id>/build")
	_, _ = fmt.Fprintln(w, "  build-status <id>                     GET /v1/connections/<id>/build")
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
