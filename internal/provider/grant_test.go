package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu    sync.Mutex
	pairs []TokenPair
}

func (w *recordingWriter) Put(_ context.Context, pair TokenPair) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pairs = append(w.pairs, pair)
}

// tokenServer answers the token endpoint with status/body and records the
// last form it received.
func tokenServer(t *testing.T, status int, body string, form *url.Values) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if form != nil {
			*form = r.PostForm
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClientCredentialsWritesThrough(t *testing.T) {
	var form url.Values
	server := tokenServer(t, http.StatusOK, `{"access_token":"C1","refresh_token":"CR1"}`, &form)
	w := &recordingWriter{}
	g := NewGrants(NewTransport(server.URL, testCreds), w, nil)

	pair, err := g.ClientCredentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "C1", pair.AccessToken)
	assert.Equal(t, "client_credentials", form.Get("grant_type"))
	require.Len(t, w.pairs, 1)
	assert.Equal(t, "C1", w.pairs[0].AccessToken)
}

func TestClientCredentialsRejectedDoesNotWrite(t *testing.T) {
	server := tokenServer(t, http.StatusUnauthorized, `{"error":"invalid_client"}`, nil)
	w := &recordingWriter{}
	g := NewGrants(NewTransport(server.URL, testCreds), w, nil)

	_, err := g.ClientCredentials(context.Background())
	require.Error(t, err)
	status, ok := StatusOf(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.True(t, errors.Is(err, ErrTokenRejected))
	assert.Empty(t, w.pairs)
}

func TestPasswordGrantForm(t *testing.T) {
	var form url.Values
	server := tokenServer(t, http.StatusOK, `{"access_token":"A1","refresh_token":"R1"}`, &form)
	g := NewGrants(NewTransport(server.URL, testCreds), nil, nil)

	pair, err := g.PasswordGrant(context.Background(), "ola+test@example.com", "p&ss=word", "42", true)
	require.NoError(t, err)
	assert.Equal(t, "A1", pair.AccessToken)
	assert.Equal(t, "password", form.Get("grant_type"))
	assert.Equal(t, "ola+test@example.com", form.Get("username"))
	assert.Equal(t, "p&ss=word", form.Get("password"))
	assert.Equal(t, "42", form.Get("userid"))
	assert.Equal(t, "1", form.Get("sms_auth"))
}

func TestPasswordGrantWithoutSMS(t *testing.T) {
	var form url.Values
	server := tokenServer(t, http.StatusOK, `{"access_token":"A1","refresh_token":"R1"}`, &form)
	g := NewGrants(NewTransport(server.URL, testCreds), nil, nil)

	_, err := g.PasswordGrant(context.Background(), "a@example.com", "pw", "", false)
	require.NoError(t, err)
	_, present := form["sms_auth"]
	assert.False(t, present)
}

func TestPasswordGrantOmitsEmptyUserID(t *testing.T) {
	var form url.Values
	server := tokenServer(t, http.StatusOK, `{"access_token":"A1","refresh_token":"R1"}`, &form)
	g := NewGrants(NewTransport(server.URL, testCreds), nil, nil)

	_, err := g.PasswordGrant(context.Background(), "a@example.com", "pw", "", false)
	require.NoError(t, err)
	assert.False(t, form.Has("userid"))
	assert.Equal(t, "a@example.com", form.Get("username"))
}

func TestPasswordGrantFailureCarriesStatus(t *testing.T) {
	server := tokenServer(t, http.StatusUnauthorized, `{}`, nil)
	g := NewGrants(NewTransport(server.URL, testCreds), nil, nil)

	_, err := g.PasswordGrant(context.Background(), "a@example.com", "pw", "", false)
	status, ok := StatusOf(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRefreshGrant(t *testing.T) {
	var form url.Values
	server := tokenServer(t, http.StatusOK, `{"access_token":"A2","refresh_token":"R2"}`, &form)
	g := NewGrants(NewTransport(server.URL, testCreds), nil, nil)

	pair, err := g.RefreshGrant(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "R1", form.Get("refresh_token"))
	assert.Equal(t, TokenPair{AccessToken: "A2", RefreshToken: "R2"}, pair)
}

func TestRefreshGrantInvalidJSON(t *testing.T) {
	server := tokenServer(t, http.StatusOK, `<html>`, nil)
	g := NewGrants(NewTransport(server.URL, testCreds), nil, nil)

	_, err := g.RefreshGrant(context.Background(), "R1")
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "refreshGrant", te.Op)
	_, isStatus := StatusOf(err)
	assert.False(t, isStatus)
}
