package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/provider"
)

// ErrAuthCheck means the credentials were rejected and no account matched
// them either.
var ErrAuthCheck = errors.New("auth-check-error")

const (
	authCheckPath  = "users/auth-check/"
	adminTokenPath = "users/auth/ratatoskr-admin-code/"
)

// AuthResult holds either a token pair or, when several accounts share the
// email, the candidate accounts to choose a userID from.
type AuthResult struct {
	Tokens provider.TokenPair
	Users  []json.RawMessage
}

// Authenticate performs the password grant. A 401 without a userID triggers
// the duplicate-account check; any other failure is ErrProvider.
func (b *Broker) Authenticate(ctx context.Context, email, password, userID string, smsAuth bool) (AuthResult, error) {
	pair, err := b.grants.PasswordGrant(ctx, email, password, userID, smsAuth)
	if err == nil {
		return AuthResult{Tokens: pair}, nil
	}

	status, _ := provider.StatusOf(err)
	if status != http.StatusUnauthorized || userID != "" {
		return AuthResult{}, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	res, err := b.ClientPost(ctx, authCheckPath, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return AuthResult{}, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	var users []json.RawMessage
	if res.Error || res.Decode(&users) != nil || len(users) == 0 {
		return AuthResult{}, ErrAuthCheck
	}
	return AuthResult{Users: users}, nil
}

// AuthenticateByAdminToken exchanges a one-time admin code for the user.
func (b *Broker) AuthenticateByAdminToken(ctx context.Context, userID, token string) (Result, error) {
	return b.ClientPost(ctx, adminTokenPath, map[string]string{
		"user_id": userID,
		"token":   token,
	})
}
