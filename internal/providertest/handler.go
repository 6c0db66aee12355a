package providertest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// Handler mounts the provider endpoints:
//
//	POST /o/token/                                  client_credentials, password, refresh_token
//	GET  /api/v3/users/me/                          user token; 403 once expired
//	POST /api/v3/users/auth-check/                  client token
//	POST /api/v3/users/auth/ratatoskr-admin-code/   client token
func (p *Provider) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /o/token/", p.handleToken)
	mux.HandleFunc("GET /api/v3/users/me/", p.handleMe)
	mux.HandleFunc("POST /api/v3/users/auth-check/", p.handleAuthCheck)
	mux.HandleFunc("POST /api/v3/users/auth/ratatoskr-admin-code/", p.handleAdminCode)
	return p.counting(mux)
}

// counting records the matched pattern before dispatch, so a count is
// visible as soon as the caller has its response.
func (p *Provider) counting(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, pattern := next.Handler(r); pattern != "" {
			p.record(pattern)
		}
		next.ServeHTTP(w, r)
	})
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	id, secret, ok := r.BasicAuth()
	if !ok || p.checkClient(id, secret) != nil {
		writeError(w, http.StatusUnauthorized, ErrInvalidClient)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid_request"))
		return
	}

	grant := r.PostForm.Get("grant_type")
	p.record("grant:" + grant)

	var (
		tokens Tokens
		err    error
	)
	switch grant {
	case "client_credentials":
		tokens, err = p.ClientToken()
	case "password":
		tokens, err = p.PasswordLogin(r.Context(), r.PostForm.Get("username"), r.PostForm.Get("password"), r.PostForm.Get("userid"))
	case "refresh_token":
		tokens, err = p.Refresh(r.Context(), r.PostForm.Get("refresh_token"))
	default:
		writeError(w, http.StatusBadRequest, errors.New("unsupported_grant_type"))
		return
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, tokens)
	case errors.Is(err, ErrAmbiguousUser), errors.Is(err, ErrInvalidGrant) && grant == "password":
		writeError(w, http.StatusUnauthorized, ErrInvalidGrant)
	case errors.Is(err, ErrInvalidGrant):
		writeError(w, http.StatusBadRequest, ErrInvalidGrant)
	default:
		p.logger.Warnw("token grant failed", "grant", grant, "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("server_error"))
	}
}

func (p *Provider) handleMe(w http.ResponseWriter, r *http.Request) {
	token, ok := bearer(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, ErrInvalidToken)
		return
	}
	claims, err := p.verify(token, kindUser)
	if err != nil {
		writeError(w, http.StatusForbidden, ErrInvalidToken)
		return
	}
	u, err := p.users.GetByID(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusUnauthorized, ErrInvalidToken)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (p *Provider) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	if !p.clientAuthorized(w, r) {
		return
	}
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid_request"))
		return
	}
	users, err := p.AuthCheck(r.Context(), in.Email, in.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.New("server_error"))
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (p *Provider) handleAdminCode(w http.ResponseWriter, r *http.Request) {
	if !p.clientAuthorized(w, r) {
		return
	}
	var in struct {
		UserID string `json:"user_id"`
		Token  string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid_request"))
		return
	}
	tokens, err := p.AdminCodeLogin(r.Context(), in.UserID, in.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidGrant)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// clientAuthorized answers 401 unless the request carries a live client token.
func (p *Provider) clientAuthorized(w http.ResponseWriter, r *http.Request) bool {
	token, ok := bearer(r)
	if ok {
		if _, err := p.verify(token, kindClient); err == nil {
			return true
		}
	}
	writeError(w, http.StatusUnauthorized, ErrInvalidToken)
	return false
}

func bearer(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if len(auth) < len("bearer ") || !strings.EqualFold(auth[:len("bearer ")], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(auth[len("bearer "):])
	return token, token != ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
