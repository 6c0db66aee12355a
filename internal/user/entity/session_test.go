package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/provider"
)

var pairA = provider.TokenPair{AccessToken: "A1", RefreshToken: "R1"}

func TestNewSessionIsActiveWithoutTokens(t *testing.T) {
	s := NewSession()
	assert.Equal(t, StatusActive, s.Status())
	_, ok := s.Tokens()
	assert.False(t, ok)
	assert.Empty(t, s.ID())
}

func TestAttachTokens(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.AttachTokens(pairA))
	got, ok := s.Tokens()
	require.True(t, ok)
	assert.Equal(t, pairA, got)

	pairB := provider.TokenPair{AccessToken: "A2", RefreshToken: "R2"}
	require.NoError(t, s.AttachTokens(pairB))
	got, _ = s.Tokens()
	assert.Equal(t, pairB, got)
}

func TestAttachIncompleteTokensRejected(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.AttachTokens(pairA))
	assert.ErrorIs(t, s.AttachTokens(provider.TokenPair{AccessToken: "A2"}), ErrIncompleteTokens)
	got, _ := s.Tokens()
	assert.Equal(t, pairA, got, "previous pair kept")
}

func TestBindProfile(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.BindProfile(Profile{ID: "u1", Email: "a@example.com"}))
	assert.Equal(t, "u1", s.ID())
	assert.Equal(t, "a@example.com", s.Profile().Email)

	require.NoError(t, s.BindProfile(Profile{ID: "u1", Email: "b@example.com"}))
	assert.Equal(t, "b@example.com", s.Profile().Email)
}

func TestBindProfileMismatchDoesNotMutate(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.AttachTokens(pairA))
	require.NoError(t, s.BindProfile(Profile{ID: "A", Name: "Ola"}))

	err := s.BindProfile(Profile{ID: "B", Name: "Kari"})
	assert.ErrorIs(t, err, ErrIdentityMismatch)
	assert.Equal(t, Profile{ID: "A", Name: "Ola"}, s.Profile())
	got, _ := s.Tokens()
	assert.Equal(t, pairA, got)
}

func TestDestroy(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.AttachTokens(pairA))
	require.NoError(t, s.BindProfile(Profile{ID: "u1", Name: "Ola"}))

	s.Destroy()
	assert.True(t, s.Destroyed())
	assert.Equal(t, "destroyed", s.Status().String())
	_, ok := s.Tokens()
	assert.False(t, ok)
	assert.Equal(t, Profile{}, s.Profile())
	assert.Equal(t, PublicView{}, s.PublicView())
	assert.ErrorIs(t, s.BindProfile(Profile{ID: "u1"}), ErrSessionDestroyed)

	s.Destroy()
	assert.True(t, s.Destroyed())
}

func TestAttachTokensReactivates(t *testing.T) {
	s := NewSession()
	s.Destroy()
	require.NoError(t, s.AttachTokens(pairA))
	assert.Equal(t, StatusActive, s.Status())
	assert.Empty(t, s.ID())
}

func TestPublicViewNeverLeaksTokensOrProfile(t *testing.T) {
	sessions := map[string]*Session{
		"new": NewSession(),
	}
	withTokens := NewSession()
	require.NoError(t, withTokens.AttachTokens(pairA))
	sessions["tokens"] = withTokens

	bound := NewSession()
	require.NoError(t, bound.AttachTokens(pairA))
	require.NoError(t, bound.BindProfile(Profile{ID: "u1", Name: "Ola", FirstName: "Ola", LastName: "N", Email: "ola@example.com", BirthDate: "1990-01-01"}))
	sessions["bound"] = bound

	gone := NewSession()
	require.NoError(t, gone.AttachTokens(pairA))
	gone.Destroy()
	sessions["destroyed"] = gone

	for name, s := range sessions {
		t.Run(name, func(t *testing.T) {
			out, err := json.Marshal(s.PublicView())
			require.NoError(t, err)
			var fields map[string]any
			require.NoError(t, json.Unmarshal(out, &fields))
			for k := range fields {
				assert.Equal(t, "id", k)
			}
			for _, secret := range []string{"A1", "R1", "Ola", "ola@example.com", "1990-01-01"} {
				assert.NotContains(t, string(out), secret)
			}
		})
	}
}
