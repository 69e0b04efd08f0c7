package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/lobbyd/lobbyd/internal/identity"
	"github.com/lobbyd/lobbyd/internal/storage/postgres"
)

const sessionCookieName = "lobbyd_session"

// AuthHandler serves the account routes and resolves session cookies for
// the websocket upgrade.
type AuthHandler struct {
	service  *identity.Service
	sessions *identity.SessionStore
	logger   *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
//
// Precondition: service, sessions, and logger must be non-nil.
func NewAuthHandler(service *identity.Service, sessions *identity.SessionStore, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{service: service, sessions: sessions, logger: logger}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Username string `json:"username,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleRegister creates an account from a JSON credentials body.
func (a *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAuthError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	creds, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	ident, err := a.service.Register(r.Context(), creds.Username, creds.Password)
	if err != nil {
		if errors.Is(err, postgres.ErrAccountExists) {
			writeAuthError(w, http.StatusConflict, "username already taken")
			return
		}
		a.logger.Error("registering account",
			zap.String("username", creds.Username),
			zap.Error(err),
		)
		writeAuthError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	writeAuthJSON(w, http.StatusCreated, authResponse{Username: ident.Username})
}

// handleLogin authenticates credentials and sets the session cookie.
func (a *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAuthError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	creds, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	ident, err := a.service.Authenticate(r.Context(), creds.Username, creds.Password)
	if err != nil {
		if errors.Is(err, postgres.ErrAccountNotFound) || errors.Is(err, postgres.ErrInvalidCredentials) {
			writeAuthError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		a.logger.Error("authenticating account",
			zap.String("username", creds.Username),
			zap.Error(err),
		)
		writeAuthError(w, http.StatusInternalServerError, "authentication failed")
		return
	}

	sid, err := a.sessions.Create(ident)
	if err != nil {
		a.logger.Error("creating session", zap.Error(err))
		writeAuthError(w, http.StatusInternalServerError, "authentication failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeAuthJSON(w, http.StatusOK, authResponse{Username: ident.Username})
}

// handleLogout deletes the caller's session, if any.
func (a *AuthHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAuthError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		a.sessions.Delete(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// identityFromRequest resolves the session cookie to an identity.
//
// Postcondition: Returns (identity, true) when the request carries a valid
// session cookie, or (Identity{}, false) otherwise.
func (a *AuthHandler) identityFromRequest(r *http.Request) (identity.Identity, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return identity.Identity{}, false
	}
	return a.sessions.Get(cookie.Value)
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var creds credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeAuthError(w, http.StatusBadRequest, "malformed request body")
		return credentialsRequest{}, false
	}
	if len(creds.Username) < 3 || len(creds.Username) > 32 {
		writeAuthError(w, http.StatusBadRequest, "username must be 3-32 characters")
		return credentialsRequest{}, false
	}
	if len(creds.Password) < 6 {
		writeAuthError(w, http.StatusBadRequest, "password must be at least 6 characters")
		return credentialsRequest{}, false
	}
	return creds, true
}

func writeAuthJSON(w http.ResponseWriter, status int, resp authResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	writeAuthJSON(w, status, authResponse{Error: msg})
}
