package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/broker"
	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/provider"
	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/user/entity"
)

// Token headers exchanged with the frontend.
const (
	HeaderAccessToken  = "ADMIN-AT"
	HeaderRefreshToken = "ADMIN-RT"
)

// Authenticator performs the login flows.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password, userID string, smsAuth bool) (broker.AuthResult, error)
	AuthenticateByAdminToken(ctx context.Context, userID, token string) (broker.Result, error)
}

// Handler exposes HTTP endpoints for the current user (me / login).
type Handler struct {
	svc     *SessionService
	auth    Authenticator
	metrics metrics.Sink
	logger  *zap.SugaredLogger
}

func NewHandler(svc *SessionService, auth Authenticator, sink metrics.Sink, logger *zap.SugaredLogger) *Handler {
	if sink == nil {
		sink = metrics.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, auth: auth, metrics: sink, logger: logger}
}

// UserResponse wraps the public projection of the session.
type UserResponse struct {
	User entity.PublicView `json:"user"`
}

// UsersResponse lists candidate accounts when several share an email.
type UsersResponse struct {
	Users []json.RawMessage `json:"users"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Me loads the user owning the tokens in the ADMIN-AT / ADMIN-RT headers.
// Missing tokens yield an empty user (logged out).
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	route := r.Pattern
	accessToken := r.Header.Get(HeaderAccessToken)
	refreshToken := r.Header.Get(HeaderRefreshToken)

	if accessToken == "" || refreshToken == "" {
		h.metrics.Increment(route, "missing-tokens")
		h.writeJSON(w, http.StatusOK, UserResponse{})
		return
	}

	sess := entity.NewSession()
	if err := sess.AttachTokens(tokenPair(accessToken, refreshToken)); err != nil {
		h.fail(w, route, err)
		return
	}
	h.respondWithSession(w, r, route, sess)
}

// LoginRequest login payload. UserID picks one account when several share
// the email.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	UserID   string `json:"user_id"`
	SMSAuth  bool   `json:"sms_auth"`
}

// Login runs the password grant and, on success, answers like Me with the
// new tokens in response headers.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	route := r.Pattern
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid payload"})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid payload"})
		return
	}

	res, err := h.auth.Authenticate(r.Context(), req.Email, req.Password, req.UserID, req.SMSAuth)
	if err != nil {
		h.fail(w, route, err)
		return
	}
	if len(res.Users) > 0 {
		h.metrics.Increment(route, "multiple-users")
		h.writeJSON(w, http.StatusOK, UsersResponse{Users: res.Users})
		return
	}

	sess := entity.NewSession()
	if err := sess.AttachTokens(res.Tokens); err != nil {
		h.fail(w, route, err)
		return
	}
	h.respondWithSession(w, r, route, sess)
}

// AdminCodeRequest carries a one-time code issued to an administrator
// acting as UserID.
type AdminCodeRequest struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// AdminCodeLogin exchanges a one-time admin code for the user's tokens and
// answers like Me.
func (h *Handler) AdminCodeLogin(w http.ResponseWriter, r *http.Request) {
	route := r.Pattern
	var req AdminCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Token == "" {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid payload"})
		return
	}

	res, err := h.auth.AuthenticateByAdminToken(r.Context(), req.UserID, req.Token)
	if err != nil {
		h.fail(w, route, err)
		return
	}
	if res.Error {
		h.fail(w, route, &provider.StatusError{Status: res.Status, Err: broker.ErrProvider})
		return
	}
	var tokens provider.TokenPair
	if err := res.Decode(&tokens); err != nil {
		h.fail(w, route, fmt.Errorf("%w: decode admin tokens: %w", broker.ErrProvider, err))
		return
	}

	sess := entity.NewSession()
	if err := sess.AttachTokens(tokens); err != nil {
		h.fail(w, route, fmt.Errorf("%w: %w", broker.ErrProvider, err))
		return
	}
	h.respondWithSession(w, r, route, sess)
}

func (h *Handler) respondWithSession(w http.ResponseWriter, r *http.Request, route string, sess *entity.Session) {
	if err := h.svc.FetchProfile(r.Context(), sess); err != nil {
		h.fail(w, route, err)
		return
	}

	setTokenHeaders(w, sess)
	if sess.ID() == "" {
		h.metrics.Increment(route, "invalid-tokens")
		h.writeJSON(w, http.StatusOK, UserResponse{})
		return
	}
	h.metrics.Increment(route, "ok")
	h.writeJSON(w, http.StatusOK, UserResponse{User: sess.PublicView()})
}

func (h *Handler) fail(w http.ResponseWriter, route string, err error) {
	h.logger.Warnw("user request failed", "route", route, "err", err)
	h.metrics.Increment(route, "error")
	h.writeJSON(w, http.StatusOK, ErrorResponse{Error: errorCode(err)})
}

// errorCode collapses internal errors to the short codes the frontend knows.
// Provider payloads are never forwarded.
func errorCode(err error) string {
	switch {
	case errors.Is(err, entity.ErrIdentityMismatch):
		return entity.ErrIdentityMismatch.Error()
	case errors.Is(err, broker.ErrAuthCheck):
		return broker.ErrAuthCheck.Error()
	case errors.Is(err, broker.ErrProvider), errors.Is(err, provider.ErrTokenRejected):
		return broker.ErrProvider.Error()
	default:
		return "error"
	}
}

// setTokenHeaders hands the possibly refreshed pair back to the caller.
func setTokenHeaders(w http.ResponseWriter, sess *entity.Session) {
	tokens, ok := sess.Tokens()
	if !ok {
		return
	}
	w.Header().Set(HeaderAccessToken, tokens.AccessToken)
	w.Header().Set(HeaderRefreshToken, tokens.RefreshToken)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func tokenPair(accessToken, refreshToken string) provider.TokenPair {
	return provider.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}
}
