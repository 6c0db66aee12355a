// Package entity models the end user of one inbound request as known through
// their OAuth tokens.
package entity

import (
	"errors"

	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/provider"
)

var (
	ErrIdentityMismatch = errors.New("bad user data")
	ErrIncompleteTokens = errors.New("token pair requires access_token and refresh_token")
	ErrSessionDestroyed = errors.New("session destroyed")
)

type Status int

const (
	StatusActive Status = iota
	StatusDestroyed
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Profile is the provider's view of the user. ID is empty until a profile
// fetch confirms it.
type Profile struct {
	ID        string
	Name      string
	FirstName string
	LastName  string
	Email     string
	BirthDate string
}

// PublicView is the only projection handed to the HTTP layer.
type PublicView struct {
	ID string `json:"id,omitempty"`
}

// state is either active or destroyed.
type state interface {
	status() Status
}

type active struct {
	profile Profile
	// nil until tokens are attached; never partially set
	tokens *provider.TokenPair
}

type destroyed struct{}

func (active) status() Status    { return StatusActive }
func (destroyed) status() Status { return StatusDestroyed }

// Session is owned by the goroutine serving one request and is not safe for
// concurrent use.
type Session struct {
	st state
}

func NewSession() *Session {
	return &Session{st: active{}}
}

func (s *Session) Status() Status { return s.st.status() }

func (s *Session) Destroyed() bool { return s.st.status() == StatusDestroyed }

// AttachTokens replaces the token pair. Attaching to a destroyed session
// starts a fresh active one.
func (s *Session) AttachTokens(pair provider.TokenPair) error {
	if !pair.Complete() {
		return ErrIncompleteTokens
	}
	switch st := s.st.(type) {
	case active:
		st.tokens = &pair
		s.st = st
	case destroyed:
		s.st = active{tokens: &pair}
	}
	return nil
}

// Tokens returns the attached pair, if any.
func (s *Session) Tokens() (provider.TokenPair, bool) {
	switch st := s.st.(type) {
	case active:
		if st.tokens != nil {
			return *st.tokens, true
		}
	case destroyed:
	}
	return provider.TokenPair{}, false
}

func (s *Session) Profile() Profile {
	switch st := s.st.(type) {
	case active:
		return st.profile
	default:
		return Profile{}
	}
}

func (s *Session) ID() string { return s.Profile().ID }

// BindProfile accepts provider profile data. A profile whose id differs from
// an already bound id is rejected and the session is left as it was.
func (s *Session) BindProfile(p Profile) error {
	switch st := s.st.(type) {
	case active:
		if st.profile.ID != "" && p.ID != st.profile.ID {
			return ErrIdentityMismatch
		}
		st.profile = p
		s.st = st
		return nil
	case destroyed:
		return ErrSessionDestroyed
	}
	return ErrSessionDestroyed
}

// Destroy drops tokens and profile. It is idempotent.
func (s *Session) Destroy() {
	s.st = destroyed{}
}

// PublicView never carries tokens or profile fields other than the id.
func (s *Session) PublicView() PublicView {
	return PublicView{ID: s.ID()}
}
