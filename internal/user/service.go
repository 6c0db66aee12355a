package user

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/broker"
	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/provider"
	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/user/entity"
)

// ProfilePath is the provider endpoint describing the token's owner.
const ProfilePath = "users/me/"

// ErrNoCredentials is returned when a provider call is attempted on a session
// without tokens. It signals a caller bug and is never retried.
var ErrNoCredentials = errors.New("unable to load Sherpa data because OAuth token is not set")

// ResourceCaller issues user-scoped resource requests.
type ResourceCaller interface {
	UserRequest(ctx context.Context, tokens provider.TokenPair, path string, opts provider.RequestOptions, retrying bool) (json.RawMessage, error)
	ResolveURL(path string) string
}

// Refresher performs the refresh_token grant.
type Refresher interface {
	RefreshGrant(ctx context.Context, refreshToken string) (provider.TokenPair, error)
}

// SessionService drives provider calls on behalf of a Session, refreshing its
// token pair once when the provider reports it expired.
type SessionService struct {
	resources ResourceCaller
	refresher Refresher
	logger    *zap.SugaredLogger
}

func NewSessionService(resources ResourceCaller, refresher Refresher, logger *zap.SugaredLogger) *SessionService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SessionService{resources: resources, refresher: refresher, logger: logger}
}

// get performs a user-scoped GET with tokens, refreshing once when the
// provider reports them expired. It returns the pair that produced data so
// the caller decides whether to keep it. A nil body with a nil error means
// the refresh produced no usable tokens.
func (s *SessionService) get(ctx context.Context, tokens provider.TokenPair, path string, retrying bool) (json.RawMessage, provider.TokenPair, error) {
	data, err := s.resources.UserRequest(ctx, tokens, path, provider.RequestOptions{}, retrying)
	if err == nil {
		return data, tokens, nil
	}
	if retrying || !errors.Is(err, broker.ErrAuthorizationExpired) {
		return nil, tokens, err
	}

	s.logger.Debugw("user token expired, refreshing", "path", path)
	fresh, err := s.refresher.RefreshGrant(ctx, tokens.RefreshToken)
	if err != nil {
		return nil, tokens, fmt.Errorf("refresh user tokens: %w", err)
	}
	if !fresh.Complete() {
		s.logger.Infow("refresh returned no usable tokens", "path", path)
		return nil, tokens, nil
	}
	return s.get(ctx, fresh, path, true)
}

// FetchProfile loads the token owner's profile into sess. When the provider
// reports the session invalid (401, or 403 after a refresh) sess is destroyed
// and FetchProfile returns nil: the soft logout outcome.
func (s *SessionService) FetchProfile(ctx context.Context, sess *entity.Session) error {
	tokens, ok := sess.Tokens()
	if !ok {
		return ErrNoCredentials
	}

	data, used, err := s.get(ctx, tokens, s.resources.ResolveURL(ProfilePath), false)
	if err != nil {
		if invalidSession(err) {
			s.logger.Infow("provider rejected session, logging out", "err", err)
			sess.Destroy()
			return nil
		}
		return err
	}
	if isEmpty(data) {
		sess.Destroy()
		return nil
	}

	profile, err := decodeProfile(data)
	if err != nil {
		return err
	}
	// The refreshed pair is only kept once it is known to belong to this session.
	if err := sess.BindProfile(profile); err != nil {
		return err
	}
	if used.AccessToken != tokens.AccessToken || used.RefreshToken != tokens.RefreshToken {
		return sess.AttachTokens(used)
	}
	return nil
}

// invalidSession reports a resource-flow rejection of the user's credentials.
// Token endpoint rejections during refresh are not included.
func invalidSession(err error) bool {
	if !errors.Is(err, broker.ErrProvider) {
		return false
	}
	status, _ := provider.StatusOf(err)
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func isEmpty(data json.RawMessage) bool {
	d := bytes.TrimSpace(data)
	return len(d) == 0 || bytes.Equal(d, []byte("null"))
}

type profileDTO struct {
	ID        json.RawMessage `json:"id"`
	Name      string          `json:"name"`
	FirstName string          `json:"first_name"`
	LastName  string          `json:"last_name"`
	Email     string          `json:"email"`
	BirthDate string          `json:"birth_date"`
}

func decodeProfile(data json.RawMessage) (entity.Profile, error) {
	var dto profileDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return entity.Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	id, err := normalizeID(dto.ID)
	if err != nil {
		return entity.Profile{}, err
	}
	return entity.Profile{
		ID:        id,
		Name:      dto.Name,
		FirstName: dto.FirstName,
		LastName:  dto.LastName,
		Email:     dto.Email,
		BirthDate: dto.BirthDate,
	}, nil
}

// normalizeID accepts the id as a JSON string or number.
func normalizeID(raw json.RawMessage) (string, error) {
	if isEmpty(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("decode profile id %s: %w", strings.TrimSpace(string(raw)), err)
	}
	return n.String(), nil
}
