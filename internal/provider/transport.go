// Package provider talks to the Sherpa OAuth provider: the token endpoint
// (Basic auth with the client credentials) and the v3 resource API (Bearer
// auth). Non-2xx responses are returned, not raised; callers own retries.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	TokenPath = "/o/token/"
	APIPrefix = "/api/v3/"

	DefaultTimeout = 15 * time.Second

	tracerName = "github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/provider"
)

// Request is a single outbound provider call.
type Request struct {
	// Op names the calling operation in logs, spans and errors.
	Op     string
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a provider reply of any status.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a status in [200,299].
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status <= 299
}

// RequestOptions customise a resource request. Header values override the
// defaults set by the transport, Authorization included.
type RequestOptions struct {
	Method string
	Header http.Header
	Body   []byte
}

// Transport performs outbound HTTP calls to the provider.
type Transport struct {
	domain     string
	creds      ClientCredentials
	httpClient *http.Client
	logger     *zap.SugaredLogger
	tracer     trace.Tracer
}

type Option func(*Transport)

// WithHTTPClient replaces the default client. The caller's client keeps its
// own timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.httpClient = c }
}

func WithTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.httpClient.Timeout = d
		}
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(t *Transport) { t.logger = l }
}

// NewTransport builds a transport for the provider rooted at domain,
// e.g. "https://api.dnt.no".
func NewTransport(domain string, creds ClientCredentials, opts ...Option) *Transport {
	t := &Transport{
		domain:     strings.TrimSuffix(domain, "/"),
		creds:      creds,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     zap.NewNop().Sugar(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Domain returns the provider root URL without trailing slash.
func (t *Transport) Domain() string { return t.domain }

// ResolveURL returns path unchanged when it is already absolute and resolves
// it against the v3 API base otherwise.
func (t *Transport) ResolveURL(path string) string {
	if strings.HasPrefix(path, "http") {
		return path
	}
	return t.domain + APIPrefix + strings.TrimPrefix(path, "/")
}

// TokenRequest POSTs a form to the token endpoint with Basic client auth.
func (t *Transport) TokenRequest(ctx context.Context, op string, form url.Values) (*Response, error) {
	h := http.Header{}
	h.Set("Authorization", "Basic "+t.creds.BasicAuth())
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	return t.Do(ctx, Request{
		Op:     op,
		Method: http.MethodPost,
		URL:    t.domain + TokenPath,
		Header: h,
		Body:   []byte(form.Encode()),
	})
}

// ResourceRequest calls the resource API with a Bearer token.
func (t *Transport) ResourceRequest(ctx context.Context, op, bearer, path string, opts RequestOptions) (*Response, error) {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+bearer)
	for k, vs := range opts.Header {
		h[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	return t.Do(ctx, Request{
		Op:     op,
		Method: method,
		URL:    t.ResolveURL(path),
		Header: h,
		Body:   opts.Body,
	})
}

// Do executes req. Only network and read failures are errors.
func (t *Transport) Do(ctx context.Context, req Request) (*Response, error) {
	path := pathOf(req.URL)
	ctx, span := t.tracer.Start(ctx, "provider."+req.Op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", path),
		))
	defer span.End()

	fail := func(err error) (*Response, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.logger.Warnw("provider request failed", "op", req.Op, "path", path, "err", err)
		return nil, &TransportError{Op: req.Op, Path: path, Err: err}
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return fail(err)
	}
	for k, vs := range req.Header {
		hr.Header[k] = vs
	}
	if hr.Header.Get("Accept") == "" {
		hr.Header.Set("Accept", "application/json")
	}

	start := time.Now()
	resp, err := t.httpClient.Do(hr)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(fmt.Errorf("read body: %w", err))
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	t.logger.Debugw("provider request",
		"op", req.Op,
		"method", req.Method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
	)
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: b}, nil
}

// DecodeJSON unmarshals the response body, reporting failures as a
// TransportError tagged with op and path.
func (r *Response) DecodeJSON(op, path string, v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &TransportError{Op: op, Path: path, Err: fmt.Errorf("invalid json: %w", err)}
	}
	return nil
}

func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return raw
	}
	return u.Path
}
