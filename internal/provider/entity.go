package provider

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// ClientCredentials identify this application to the provider.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// BasicAuth returns the value for a Basic Authorization header.
func (c ClientCredentials) BasicAuth() string {
	return base64.StdEncoding.EncodeToString([]byte(c.ClientID + ":" + c.ClientSecret))
}

// TokenPair is a token endpoint response. Only the access and refresh tokens
// are interpreted; every other field is kept verbatim in Extra so the pair
// round-trips through the cache unchanged.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	Extra        map[string]json.RawMessage
}

// Complete reports whether both required tokens are present.
func (p TokenPair) Complete() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

func (p TokenPair) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(p.Extra)+2)
	for k, v := range p.Extra {
		out[k] = v
	}
	at, err := json.Marshal(p.AccessToken)
	if err != nil {
		return nil, err
	}
	out["access_token"] = at
	if p.RefreshToken != "" {
		rt, err := json.Marshal(p.RefreshToken)
		if err != nil {
			return nil, err
		}
		out["refresh_token"] = rt
	}
	return json.Marshal(out)
}

func (p *TokenPair) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = TokenPair{}
	if v, ok := raw["access_token"]; ok {
		if err := json.Unmarshal(v, &p.AccessToken); err != nil {
			return fmt.Errorf("access_token: %w", err)
		}
		delete(raw, "access_token")
	}
	if v, ok := raw["refresh_token"]; ok {
		if err := json.Unmarshal(v, &p.RefreshToken); err != nil {
			return fmt.Errorf("refresh_token: %w", err)
		}
		delete(raw, "refresh_token")
	}
	if len(raw) > 0 {
		p.Extra = raw
	}
	return nil
}

// OAuth2 converts the pair into an *oauth2.Token. Expiry is derived from
// expires_in relative to now when the provider sent one.
func (p TokenPair) OAuth2() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
	}
	var tokenType string
	if v, ok := p.Extra["token_type"]; ok && json.Unmarshal(v, &tokenType) == nil && tokenType != "" {
		tok.TokenType = tokenType
	}
	var expiresIn int64
	if v, ok := p.Extra["expires_in"]; ok && json.Unmarshal(v, &expiresIn) == nil && expiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	if len(p.Extra) > 0 {
		extra := make(map[string]any, len(p.Extra))
		for k, v := range p.Extra {
			extra[k] = v
		}
		tok = tok.WithExtra(extra)
	}
	return tok
}
