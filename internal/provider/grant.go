package provider

import (
	"context"
	"net/url"

	"go.uber.org/zap"
)

// ClientTokenWriter receives every freshly acquired client-credentials token.
// Put must not fail the acquisition; implementations log their own errors.
type ClientTokenWriter interface {
	Put(ctx context.Context, pair TokenPair)
}

// Grants implements the credential grants the broker uses against the token
// endpoint. Each grant is one POST; none retries.
type Grants struct {
	transport *Transport
	writer    ClientTokenWriter
	logger    *zap.SugaredLogger
}

// NewGrants returns Grants over t. writer may be nil, in which case client
// tokens are not written through anywhere.
func NewGrants(t *Transport, writer ClientTokenWriter, logger *zap.SugaredLogger) *Grants {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Grants{transport: t, writer: writer, logger: logger}
}

// ClientCredentials acquires a client token and writes it through to the
// client token cache before returning it.
func (g *Grants) ClientCredentials(ctx context.Context) (TokenPair, error) {
	pair, err := g.request(ctx, "clientCredentials", url.Values{"grant_type": {"client_credentials"}})
	if err != nil {
		return TokenPair{}, err
	}
	if g.writer != nil {
		g.writer.Put(ctx, pair)
	}
	return pair, nil
}

// PasswordGrant exchanges user credentials for a token pair. userID selects
// one of several accounts sharing an email; smsRequired asks the provider
// for SMS verification.
func (g *Grants) PasswordGrant(ctx context.Context, email, password, userID string, smsRequired bool) (TokenPair, error) {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {email},
		"password":   {password},
	}
	if userID != "" {
		form.Set("userid", userID)
	}
	if smsRequired {
		form.Set("sms_auth", "1")
	}
	return g.request(ctx, "passwordGrant", form)
}

// RefreshGrant exchanges a refresh token for a new pair.
func (g *Grants) RefreshGrant(ctx context.Context, refreshToken string) (TokenPair, error) {
	return g.request(ctx, "refreshGrant", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
}

func (g *Grants) request(ctx context.Context, op string, form url.Values) (TokenPair, error) {
	resp, err := g.transport.TokenRequest(ctx, op, form)
	if err != nil {
		return TokenPair{}, err
	}
	if !resp.OK() {
		g.logger.Warnw("token request rejected", "op", op, "status", resp.Status)
		return TokenPair{}, &StatusError{Status: resp.Status, Err: ErrTokenRejected}
	}
	var pair TokenPair
	if err := resp.DecodeJSON(op, TokenPath, &pair); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}
