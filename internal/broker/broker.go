// Package broker issues resource API calls with the right token attached and
// a single retry on a stale-credential response.
//
// Client-scoped calls use the shared client token and recover from a 401 by
// re-acquiring it. User-scoped calls never refresh: a 403 is surfaced as
// ErrAuthorizationExpired so the owner of the refresh token can decide.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/provider"
)

var (
	// ErrAuthorizationExpired marks a 403 on a first user-scoped attempt.
	ErrAuthorizationExpired = errors.New("authorization expired")
	// ErrProvider is the generic provider failure.
	ErrProvider = errors.New("sherpa error")

	errInvalidJSON = errors.New("invalid json")
)

// ClientTokens is the client token cache as seen by the broker.
type ClientTokens interface {
	Get(ctx context.Context) (provider.TokenPair, error)
	Refresh(ctx context.Context) (provider.TokenPair, error)
}

// PasswordGranter performs the password grant.
type PasswordGranter interface {
	PasswordGrant(ctx context.Context, email, password, userID string, smsRequired bool) (provider.TokenPair, error)
}

type Broker struct {
	transport *provider.Transport
	tokens    ClientTokens
	grants    PasswordGranter
	logger    *zap.SugaredLogger
}

func New(t *provider.Transport, tokens ClientTokens, grants PasswordGranter, logger *zap.SugaredLogger) *Broker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Broker{transport: t, tokens: tokens, grants: grants, logger: logger}
}

// Result is the outcome of a client-scoped call. A provider business error
// is a Result with Error set, not a Go error.
type Result struct {
	Status int
	Body   json.RawMessage
	Error  bool
}

// MarshalJSON emits the provider body on success and
// {"error":true,"payload":...,"status":N} otherwise.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Error {
		return json.Marshal(struct {
			Error   bool            `json:"error"`
			Payload json.RawMessage `json:"payload"`
			Status  int             `json:"status"`
		}{true, r.Body, r.Status})
	}
	if len(r.Body) == 0 {
		return []byte("null"), nil
	}
	return r.Body, nil
}

// Decode unmarshals the body into v.
func (r Result) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// ClientRequest calls path with the cached client token.
func (b *Broker) ClientRequest(ctx context.Context, path string, opts provider.RequestOptions) (Result, error) {
	token, err := b.tokens.Get(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("clientRequest - %s: %w", path, err)
	}
	return b.clientRequest(ctx, token, path, opts, false)
}

func (b *Broker) clientRequest(ctx context.Context, token provider.TokenPair, path string, opts provider.RequestOptions, retrying bool) (Result, error) {
	resp, err := b.transport.ResourceRequest(ctx, "clientRequest", token.AccessToken, path, opts)
	if err != nil {
		return Result{}, err
	}

	switch {
	case resp.Status == http.StatusUnauthorized && !retrying:
		b.logger.Infow("client token rejected, re-acquiring", "path", path)
		fresh, err := b.tokens.Refresh(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("clientRequest.retry - %s: %w", path, err)
		}
		return b.clientRequest(ctx, fresh, path, opts, true)
	case resp.OK():
		if !json.Valid(resp.Body) {
			return Result{}, &provider.TransportError{Op: "clientRequest.invalid_json", Path: path, Err: errInvalidJSON}
		}
		return Result{Status: resp.Status, Body: resp.Body}, nil
	default:
		if !json.Valid(resp.Body) {
			return Result{}, &provider.StatusError{Status: resp.Status, Err: ErrProvider}
		}
		b.logger.Debugw("client request failed", "path", path, "status", resp.Status)
		return Result{Status: resp.Status, Body: resp.Body, Error: true}, nil
	}
}

// ClientPost sends body as JSON.
func (b *Broker) ClientPost(ctx context.Context, path string, body any) (Result, error) {
	opts, err := jsonOptions(body)
	if err != nil {
		return Result{}, err
	}
	return b.ClientRequest(ctx, path, opts)
}

// UserRequest calls path on behalf of the user owning tokens. retrying is set
// by callers on their one retry after a refresh; a 403 then becomes a plain
// provider error instead of ErrAuthorizationExpired.
func (b *Broker) UserRequest(ctx context.Context, tokens provider.TokenPair, path string, opts provider.RequestOptions, retrying bool) (json.RawMessage, error) {
	resp, err := b.transport.ResourceRequest(ctx, "userRequest", tokens.AccessToken, path, opts)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.Status == http.StatusForbidden && !retrying:
		return nil, &provider.StatusError{Status: resp.Status, Err: ErrAuthorizationExpired}
	case resp.OK():
		if !json.Valid(resp.Body) {
			return nil, &provider.TransportError{Op: "userRequest.invalid_json", Path: path, Err: errInvalidJSON}
		}
		return resp.Body, nil
	default:
		return nil, &provider.StatusError{Status: resp.Status, Err: ErrProvider}
	}
}

// ResolveURL exposes the transport's path resolution.
func (b *Broker) ResolveURL(path string) string {
	return b.transport.ResolveURL(path)
}

// Tokens returns the client token cache the broker reads from.
func (b *Broker) Tokens() ClientTokens { return b.tokens }

// ClientTokenSource adapts the client token cache to oauth2.TokenSource.
func (b *Broker) ClientTokenSource(ctx context.Context) oauth2.TokenSource {
	return &clientTokenSource{ctx: ctx, tokens: b.tokens}
}

type clientTokenSource struct {
	ctx    context.Context
	tokens ClientTokens
}

func (s *clientTokenSource) Token() (*oauth2.Token, error) {
	pair, err := s.tokens.Get(s.ctx)
	if err != nil {
		return nil, err
	}
	return pair.OAuth2(), nil
}

func jsonOptions(body any) (provider.RequestOptions, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return provider.RequestOptions{}, fmt.Errorf("encode body: %w", err)
	}
	return provider.RequestOptions{
		Method: http.MethodPost,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   b,
	}, nil
}
