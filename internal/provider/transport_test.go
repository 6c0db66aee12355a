package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = ClientCredentials{ClientID: "client", ClientSecret: "secret"}

func TestResolveURL(t *testing.T) {
	tr := NewTransport("https://sherpa.example.com/", testCreds)
	assert.Equal(t, "https://sherpa.example.com/api/v3/users/me/", tr.ResolveURL("users/me/"))
	assert.Equal(t, "https://sherpa.example.com/api/v3/users/me/", tr.ResolveURL("/users/me/"))
	assert.Equal(t, "https://other.example.com/x", tr.ResolveURL("https://other.example.com/x"))
	assert.Equal(t, "http://plain.example.com/x", tr.ResolveURL("http://plain.example.com/x"))
}

func TestTokenRequestUsesBasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, TokenPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		id, secret, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", id)
		assert.Equal(t, "secret", secret)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"detail":"nope"}`))
	}))
	defer server.Close()

	tr := NewTransport(server.URL, testCreds)
	resp, err := tr.TokenRequest(context.Background(), "test", url.Values{"grant_type": {"client_credentials"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.Status)
	assert.False(t, resp.OK())
	assert.JSONEq(t, `{"detail":"nope"}`, string(resp.Body))
}

func TestResourceRequestHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/users/", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer A1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"a":1}`, string(b))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	tr := NewTransport(server.URL, testCreds)
	resp, err := tr.ResourceRequest(context.Background(), "test", "A1", "users/", RequestOptions{
		Method: http.MethodPost,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(`{"a":1}`),
	})
	require.NoError(t, err)
	assert.True(t, resp.OK())
}

func TestResourceRequestCallerHeaderOverridesAuthorization(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token custom", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	tr := NewTransport(server.URL, testCreds)
	_, err := tr.ResourceRequest(context.Background(), "test", "A1", "x/", RequestOptions{
		Header: http.Header{"authorization": {"Token custom"}},
	})
	require.NoError(t, err)
}

func TestDoNetworkFailureIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	tr := NewTransport(server.URL, testCreds)
	_, err := tr.ResourceRequest(context.Background(), "userGet", "A1", "users/me/", RequestOptions{})
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "userGet", te.Op)
	assert.Equal(t, "/api/v3/users/me/", te.Path)
	assert.Contains(t, err.Error(), "userGet - /api/v3/users/me/")
}

func TestDoTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	tr := NewTransport(server.URL, testCreds, WithTimeout(50*time.Millisecond))
	_, err := tr.ResourceRequest(context.Background(), "slow", "A1", "x/", RequestOptions{})
	var te *TransportError
	assert.True(t, errors.As(err, &te))
}

func TestDecodeJSON(t *testing.T) {
	resp := &Response{Status: 200, Body: []byte(`not json`)}
	var v map[string]any
	err := resp.DecodeJSON("op", "/p", &v)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "/p", te.Path)

	resp.Body = []byte(`{"id":"u1"}`)
	require.NoError(t, resp.DecodeJSON("op", "/p", &v))
	assert.Equal(t, "u1", v["id"])
}

func TestTokenPairJSONKeepsProviderFields(t *testing.T) {
	in := `{"access_token":"A1","refresh_token":"R1","expires_in":3600,"scope":"read write","token_type":"Bearer"}`
	var pair TokenPair
	require.NoError(t, json.Unmarshal([]byte(in), &pair))
	assert.Equal(t, "A1", pair.AccessToken)
	assert.Equal(t, "R1", pair.RefreshToken)
	assert.True(t, pair.Complete())
	assert.Len(t, pair.Extra, 3)

	out, err := json.Marshal(pair)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))

	tok := pair.OAuth2()
	assert.Equal(t, "A1", tok.AccessToken)
	assert.Equal(t, "R1", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)
	assert.Equal(t, json.RawMessage(`"read write"`), tok.Extra("scope"))
}

func TestTokenPairIncomplete(t *testing.T) {
	var pair TokenPair
	require.NoError(t, json.Unmarshal([]byte(`{"access_token":"A1"}`), &pair))
	assert.False(t, pair.Complete())
	assert.Error(t, json.Unmarshal([]byte(`{"access_token":5}`), &pair))
}

func TestClientCredentialsBasicAuth(t *testing.T) {
	// base64("client:secret")
	assert.Equal(t, "Y2xpZW50OnNlY3JldA==", testCreds.BasicAuth())
}
