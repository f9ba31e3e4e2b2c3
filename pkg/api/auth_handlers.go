package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/kerna-app/kerna/pkg/auth"
	"github.com/kerna-app/kerna/pkg/httputil"
	"github.com/kerna-app/kerna/pkg/middleware"
)

// oauthStateCookie carries the CSRF state across the OAuth redirect
const oauthStateCookie = "kerna_oauth_state"

func (s *Server) registerAuthRoutes(router *mux.Router) {
	router.HandleFunc("/auth/signup", s.handleSignUp).Methods("POST")
	router.HandleFunc("/auth/signin", s.handleSignIn).Methods("POST")
	router.HandleFunc("/auth/signout", s.handleSignOut).Methods("POST")
	router.HandleFunc("/auth/session", s.handleSession).Methods("GET")

	if s.deps.OIDC != nil {
		router.HandleFunc("/auth/oauth/login", s.handleOAuthLogin).Methods("GET")
		router.HandleFunc("/auth/oauth/callback", s.handleOAuthCallback).Methods("GET")
	}
}

func sessionContext(r *http.Request) auth.SessionContext {
	return auth.SessionContext{
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, token, err := s.deps.Auth.SignUp(r.Context(), req.Name, req.Email, req.Password, sessionContext(r))
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		httputil.WriteErrorMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrWeakPassword):
		httputil.WriteBadRequest(w, err.Error())
	case err != nil:
		httputil.WriteBadRequest(w, err.Error())
	default:
		httputil.WriteCreated(w, sessionResponse{User: user, Token: token})
	}
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, token, err := s.deps.Auth.SignIn(r.Context(), req.Email, req.Password, sessionContext(r))
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		httputil.WriteUnauthorized(w, err.Error())
	case err != nil:
		httputil.WriteInternalError(w, err)
	default:
		httputil.WriteSuccess(w, sessionResponse{User: user, Token: token})
	}
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if token == "" {
		httputil.WriteUnauthorized(w, "missing bearer token")
		return
	}
	if err := s.deps.Auth.SignOut(r.Context(), token); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// handleSession reports whether the presented token is still valid
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if token == "" {
		httputil.WriteUnauthorized(w, "missing bearer token")
		return
	}

	userID, err := s.deps.Auth.ValidateSession(r.Context(), token)
	if errors.Is(err, auth.ErrUnauthenticated) {
		httputil.WriteUnauthorized(w, "session expired or invalid")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"user_id": userID})
}

func (s *Server) handleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/auth/oauth",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.deps.OIDC.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		httputil.WriteBadRequest(w, "oauth state mismatch")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		httputil.WriteBadRequest(w, "missing authorization code")
		return
	}

	identity, err := s.deps.OIDC.Exchange(r.Context(), code)
	if err != nil {
		s.logger.WithError(err).Warn("OAuth code exchange failed")
		httputil.WriteUnauthorized(w, "oauth exchange failed")
		return
	}

	user, token, err := s.deps.Auth.FindOrCreateOAuthUser(r.Context(), identity, sessionContext(r))
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, sessionResponse{User: user, Token: token})
}
