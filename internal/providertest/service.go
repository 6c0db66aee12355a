// Package providertest is a runnable stand-in for the Sherpa OAuth provider.
// It issues HS256 access tokens, stores users and refresh tokens in SQLite,
// and serves the endpoints the broker talks to.
package providertest

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/providertest/repo"
	"github.com/ovaphlow/pitchfork/service-sherpa-broker/pkg/database"
	"github.com/ovaphlow/pitchfork/service-sherpa-broker/pkg/utilities"
)

const (
	kindClient = "client"
	kindUser   = "user"
)

var (
	ErrInvalidClient = errors.New("invalid_client")
	ErrInvalidGrant  = errors.New("invalid_grant")
	ErrInvalidToken  = errors.New("invalid_token")
	// ErrAmbiguousUser means several accounts share the email and no user id
	// was given to pick one.
	ErrAmbiguousUser = errors.New("ambiguous user")
)

type Config struct {
	ClientID     string
	ClientSecret string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	// BcryptCost defaults to bcrypt.MinCost; the stub never guards real passwords.
	BcryptCost int
}

// Tokens is the token endpoint response body.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type accessClaims struct {
	Kind       string `json:"kind"`
	Generation int64  `json:"gen"`
	jwt.RegisteredClaims
}

// Provider holds the stub's state. Expire* methods let tests force the
// stale-credential paths.
type Provider struct {
	cfg      Config
	key      []byte
	db       *sqlx.DB
	users    *repo.UserRepo
	sessions *repo.RefreshRepo
	logger   *zap.SugaredLogger
	now      func() time.Time

	mu      sync.Mutex
	gen     map[string]int64
	revoked map[string]bool
	counts  map[string]int
}

// New opens an in-memory SQLite database and returns a ready Provider.
func New(cfg Config, logger *zap.SugaredLogger) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("providertest: client id and secret are required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.MinCost
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}

	sqlDB, err := database.Connect(database.SQLiteConfig(":memory:"))
	if err != nil {
		return nil, err
	}
	db := sqlx.NewDb(sqlDB, database.DriverSQLite)
	p := &Provider{
		cfg:      cfg,
		key:      key,
		db:       db,
		users:    repo.NewUserRepo(db),
		sessions: repo.NewRefreshRepo(db),
		logger:   logger,
		now:      time.Now,
		gen:      map[string]int64{kindClient: 1, kindUser: 1},
		revoked:  map[string]bool{},
		counts:   map[string]int{},
	}

	ctx := context.Background()
	if err := p.users.EnsureTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("providertest: users table: %w", err)
	}
	if err := p.sessions.EnsureTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("providertest: refresh table: %w", err)
	}
	return p, nil
}

func (p *Provider) Close() error {
	return p.db.Close()
}

// AddUser registers an account and returns it with its generated id.
func (p *Provider) AddUser(ctx context.Context, email, password, firstName, lastName string) (repo.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cfg.BcryptCost)
	if err != nil {
		return repo.User{}, err
	}
	u := repo.User{
		ID:           utilities.NewSnowflakeID(),
		Email:        strings.TrimSpace(email),
		PasswordHash: string(hash),
		FirstName:    firstName,
		LastName:     lastName,
	}
	if err := p.users.Create(ctx, u); err != nil {
		return repo.User{}, err
	}
	return u, nil
}

// SetAdminCode arms a one-time code accepted by the admin-code login.
func (p *Provider) SetAdminCode(ctx context.Context, userID, code string) error {
	return p.users.SetAdminCode(ctx, userID, code)
}

// ExpireClientTokens invalidates every client access token issued so far.
func (p *Provider) ExpireClientTokens() { p.bump(kindClient) }

// ExpireUserTokens invalidates every user access token issued so far.
func (p *Provider) ExpireUserTokens() { p.bump(kindUser) }

// ExpireRefreshTokens makes every stored refresh token unusable.
func (p *Provider) ExpireRefreshTokens(ctx context.Context) error {
	return p.sessions.ExpireAll(ctx)
}

// RevokeAccessToken invalidates one access token.
func (p *Provider) RevokeAccessToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked[token] = true
}

// Count returns how often the named event happened, e.g. "grant:password"
// or "GET /api/v3/users/me/".
func (p *Provider) Count(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[event]
}

func (p *Provider) record(event string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[event]++
}

func (p *Provider) bump(kind string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen[kind]++
}

func (p *Provider) generation(kind string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen[kind]
}

func (p *Provider) checkClient(id, secret string) error {
	if id != p.cfg.ClientID || secret != p.cfg.ClientSecret {
		return ErrInvalidClient
	}
	return nil
}

// ClientToken issues a client-credentials access token.
func (p *Provider) ClientToken() (Tokens, error) {
	access, err := p.signAccess(kindClient, p.cfg.ClientID)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{AccessToken: access, TokenType: "Bearer", ExpiresIn: int64(p.cfg.AccessTTL.Seconds())}, nil
}

// PasswordLogin checks credentials. userID picks one of several accounts
// sharing email.
func (p *Provider) PasswordLogin(ctx context.Context, email, password, userID string) (Tokens, error) {
	matches, err := p.matchingUsers(ctx, email, password)
	if err != nil {
		return Tokens{}, err
	}
	switch {
	case userID != "":
		for _, u := range matches {
			if u.ID == userID {
				return p.UserTokens(ctx, u.ID)
			}
		}
		return Tokens{}, ErrInvalidGrant
	case len(matches) == 1:
		return p.UserTokens(ctx, matches[0].ID)
	case len(matches) > 1:
		return Tokens{}, ErrAmbiguousUser
	default:
		return Tokens{}, ErrInvalidGrant
	}
}

// AuthCheck lists the accounts whose email and password match.
func (p *Provider) AuthCheck(ctx context.Context, email, password string) ([]repo.User, error) {
	return p.matchingUsers(ctx, email, password)
}

func (p *Provider) matchingUsers(ctx context.Context, email, password string) ([]repo.User, error) {
	users, err := p.users.ListByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}
	out := make([]repo.User, 0, len(users))
	for _, u := range users {
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil {
			out = append(out, u)
		}
	}
	return out, nil
}

// AdminCodeLogin consumes a code armed with SetAdminCode.
func (p *Provider) AdminCodeLogin(ctx context.Context, userID, code string) (Tokens, error) {
	u, err := p.users.GetByID(ctx, userID)
	if err != nil {
		return Tokens{}, ErrInvalidGrant
	}
	if u.AdminCode == "" || u.AdminCode != code {
		return Tokens{}, ErrInvalidGrant
	}
	if err := p.users.SetAdminCode(ctx, userID, ""); err != nil {
		return Tokens{}, err
	}
	return p.UserTokens(ctx, userID)
}

// UserTokens issues an access token and a persisted refresh token.
func (p *Provider) UserTokens(ctx context.Context, userID string) (Tokens, error) {
	access, err := p.signAccess(kindUser, userID)
	if err != nil {
		return Tokens{}, err
	}
	refresh := ksuid.New().String()
	err = p.sessions.Save(ctx, repo.RefreshSession{
		Token:     refresh,
		UserID:    userID,
		ExpiresAt: p.now().Add(p.cfg.RefreshTTL).Unix(),
	})
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(p.cfg.AccessTTL.Seconds()),
	}, nil
}

// Refresh rotates a refresh token: the old one is revoked and a new pair
// issued.
func (p *Provider) Refresh(ctx context.Context, token string) (Tokens, error) {
	s, err := p.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Tokens{}, ErrInvalidGrant
		}
		return Tokens{}, err
	}
	if s.Expired(p.now()) {
		return Tokens{}, ErrInvalidGrant
	}
	if err := p.sessions.Delete(ctx, token); err != nil {
		return Tokens{}, err
	}
	return p.UserTokens(ctx, s.UserID)
}

func (p *Provider) signAccess(kind, subject string) (string, error) {
	now := p.now()
	claims := accessClaims{
		Kind:       kind,
		Generation: p.generation(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        ksuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.cfg.AccessTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.key)
}

// verify returns the claims of a live access token of the given kind.
func (p *Provider) verify(token, kind string) (*accessClaims, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return p.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: %s token used as %s", ErrInvalidToken, claims.Kind, kind)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.revoked[token] || claims.Generation < p.gen[kind] {
		return nil, fmt.Errorf("%w: expired", ErrInvalidToken)
	}
	return claims, nil
}
