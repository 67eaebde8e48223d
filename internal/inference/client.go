package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/ignite/catalog-enricher/internal/config"
	"github.com/ignite/catalog-enricher/internal/pkg/httpretry"
	"github.com/ignite/catalog-enricher/internal/pkg/logger"
)

// New builds the Predictor for the configured mode. doer may be nil.
func New(cfg config.InferenceConfig, doer httpretry.HTTPDoer) (Predictor, error) {
	base := newClient(cfg, doer)
	switch cfg.Mode {
	case config.ModePull, "":
		return &PullClient{
			client:       base,
			pollInterval: cfg.PollInterval(),
			waitBudget:   cfg.WaitBudget(),
		}, nil
	case config.ModeInline:
		return &InlineClient{client: base, maxInlineBytes: cfg.MaxInlineBytes}, nil
	default:
		return nil, fmt.Errorf("inference: unknown mode %q", cfg.Mode)
	}
}

// client is the shared HTTP plumbing of both shapes.
type client struct {
	baseURL string
	apiKey  string
	http    *httpretry.Client
	log     *logger.Logger
}

func newClient(cfg config.InferenceConfig, doer httpretry.HTTPDoer) client {
	return client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: httpretry.NewClient(doer, httpretry.Policy{
			MaxAttempts:    cfg.MaxAttempts,
			BaseDelay:      cfg.BaseDelay(),
			MaxDelay:       cfg.MaxDelay(),
			MaxJitter:      httpretry.DefaultPolicy().MaxJitter,
			AttemptTimeout: cfg.Timeout(),
		}),
		log: logger.With("component", "inference"),
	}
}

// doJSON sends in as JSON to path and decodes a 2xx body into out.
func (c *client) doJSON(ctx context.Context, method, p string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+p, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	data, _, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decoding %s %s: %v", ErrInvalidResponse, method, p, err)
	}
	return nil
}

// do runs req through the retry client and returns the body of a 2xx
// response. Other statuses come back as *httpretry.StatusError.
func (c *client) do(req *http.Request) ([]byte, http.Header, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path,
			&httpretry.StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), 512)})
	}
	return data, resp.Header, nil
}

// Fetch downloads a URL output or passes inline bytes through.
func (c *client) Fetch(ctx context.Context, out *Output) (*Result, error) {
	if out == nil {
		return nil, fmt.Errorf("%w: no output", ErrInvalidResponse)
	}
	if len(out.Data) > 0 {
		name := out.Filename
		if name == "" {
			name = defaultResultName
		}
		return &Result{Data: out.Data, Filename: name, MIMEType: MIMEType(name, ""), RowCount: out.RowCount}, nil
	}
	if out.URL == "" {
		return nil, fmt.Errorf("%w: output has neither url nor data", ErrInvalidResponse)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, out.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.apiKey != "" && sameHost(out.URL, c.baseURL) {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	data, header, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching result: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty result payload", ErrInvalidResponse)
	}

	name := out.Filename
	if name == "" {
		name = nameFromURL(out.URL)
	}
	return &Result{
		Data:     data,
		Filename: name,
		MIMEType: MIMEType(name, header.Get("Content-Type")),
		RowCount: out.RowCount,
	}, nil
}

func sameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(ua.Host, ub.Host)
}

func nameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return defaultResultName
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || path.Ext(base) == "" {
		return defaultResultName
	}
	return base
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
