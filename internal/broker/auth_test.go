package broker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/provider"
)

type fakeGranter struct {
	pair   provider.TokenPair
	err    error
	calls  int
	userID string
}

func (f *fakeGranter) PasswordGrant(_ context.Context, _, _, userID string, _ bool) (provider.TokenPair, error) {
	f.calls++
	f.userID = userID
	return f.pair, f.err
}

func unauthorized() error {
	return &provider.StatusError{Status: http.StatusUnauthorized, Err: provider.ErrTokenRejected}
}

// authCheckServer answers users/auth-check/ with body and records the request.
func authCheckServer(t *testing.T, status int, body string, hits *int, got *map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		assert.Equal(t, "/api/v3/users/auth-check/", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		if got != nil {
			_ = json.Unmarshal(b, got)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func newAuthBroker(url string, g PasswordGranter) *Broker {
	tr := provider.NewTransport(url, provider.ClientCredentials{ClientID: "id", ClientSecret: "secret"})
	return New(tr, &fakeTokens{}, g, nil)
}

func TestAuthenticateSuccess(t *testing.T) {
	hits := 0
	server := authCheckServer(t, 200, `[]`, &hits, nil)
	g := &fakeGranter{pair: provider.TokenPair{AccessToken: "A1", RefreshToken: "R1"}}

	res, err := newAuthBroker(server.URL, g).Authenticate(context.Background(), "a@example.com", "pw", "", false)
	require.NoError(t, err)
	assert.Equal(t, "A1", res.Tokens.AccessToken)
	assert.Nil(t, res.Users)
	assert.Zero(t, hits)
}

func TestAuthenticateDuplicateAccounts(t *testing.T) {
	hits := 0
	var got map[string]string
	server := authCheckServer(t, 200, `[{"id":1},{"id":2}]`, &hits, &got)
	g := &fakeGranter{err: unauthorized()}

	res, err := newAuthBroker(server.URL, g).Authenticate(context.Background(), "a@example.com", "pw", "", false)
	require.NoError(t, err)
	assert.Len(t, res.Users, 2)
	assert.Equal(t, 1, hits)
	assert.Equal(t, map[string]string{"email": "a@example.com", "password": "pw"}, got)
}

func TestAuthenticateAuthCheckEmpty(t *testing.T) {
	hits := 0
	server := authCheckServer(t, 200, `[]`, &hits, nil)
	g := &fakeGranter{err: unauthorized()}

	_, err := newAuthBroker(server.URL, g).Authenticate(context.Background(), "a@example.com", "pw", "", false)
	assert.ErrorIs(t, err, ErrAuthCheck)
}

func TestAuthenticateAuthCheckBusinessError(t *testing.T) {
	hits := 0
	server := authCheckServer(t, 400, `{"detail":"bad"}`, &hits, nil)
	g := &fakeGranter{err: unauthorized()}

	_, err := newAuthBroker(server.URL, g).Authenticate(context.Background(), "a@example.com", "pw", "", false)
	assert.ErrorIs(t, err, ErrAuthCheck)
}

func TestAuthenticateWithUserIDSkipsAuthCheck(t *testing.T) {
	hits := 0
	server := authCheckServer(t, 200, `[{"id":1}]`, &hits, nil)
	g := &fakeGranter{err: unauthorized()}

	_, err := newAuthBroker(server.URL, g).Authenticate(context.Background(), "a@example.com", "pw", "7", false)
	assert.ErrorIs(t, err, ErrProvider)
	assert.Zero(t, hits)
	assert.Equal(t, "7", g.userID)
}

func TestAuthenticateOtherStatusSkipsAuthCheck(t *testing.T) {
	hits := 0
	server := authCheckServer(t, 200, `[{"id":1}]`, &hits, nil)
	g := &fakeGranter{err: &provider.StatusError{Status: 400, Err: provider.ErrTokenRejected}}

	_, err := newAuthBroker(server.URL, g).Authenticate(context.Background(), "a@example.com", "pw", "", false)
	assert.ErrorIs(t, err, ErrProvider)
	assert.Zero(t, hits)
}

func TestAuthenticateByAdminToken(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/users/auth/ratatoskr-admin-code/", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		_, _ = w.Write([]byte(`{"access_token":"A9","refresh_token":"R9"}`))
	}))
	defer server.Close()

	res, err := newAuthBroker(server.URL, &fakeGranter{}).AuthenticateByAdminToken(context.Background(), "12", "code")
	require.NoError(t, err)
	assert.False(t, res.Error)
	assert.Equal(t, map[string]string{"user_id": "12", "token": "code"}, got)
}
