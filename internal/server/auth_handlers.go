package server

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/tanmaypatil/gmail-chat/internal/auth"
	"github.com/tanmaypatil/gmail-chat/internal/logging"
)

// LoginResponse is returned by /auth/login.
type LoginResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// UserResponse is returned by /auth/user.
type UserResponse struct {
	Authenticated bool   `json:"authenticated"`
	Email         string `json:"email,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	authURL, state, err := s.store.BeginLogin(r.Context(), s.cfg.RedirectURI())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to start login", logging.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{AuthURL: authURL, State: state})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !s.store.VerifyAndConsumeState(ctx, r.URL.Query().Get("state")) {
		s.logger.WarnContext(ctx, "callback with invalid state")
		s.redirectLoginError(w, r, auth.ReasonInvalidState)
		return
	}

	sess, err := s.store.CompleteLogin(ctx, s.cfg.BaseURL+r.URL.RequestURI(), s.cfg.RedirectURI())
	if err != nil {
		reason := auth.ReasonAuthFailed
		var loginErr *auth.LoginError
		if errors.As(err, &loginErr) && loginErr.Reason != "" {
			reason = loginErr.Reason
		}
		s.redirectLoginError(w, r, reason)
		return
	}

	s.setSessionCookie(w, sess.ID)
	http.Redirect(w, r, s.cfg.frontend()+"/index.html", http.StatusFound)
}

func (s *Server) redirectLoginError(w http.ResponseWriter, r *http.Request, reason string) {
	target := s.cfg.frontend() + "/login.html?" + url.Values{"error": {reason}}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(r)
	if !ok {
		writeJSON(w, http.StatusOK, UserResponse{})
		return
	}

	sess, err := s.store.Lookup(r.Context(), id)
	if err != nil {
		s.clearSessionCookie(w)
		writeJSON(w, http.StatusOK, UserResponse{})
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{Authenticated: true, Email: sess.Email})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id, ok := sessionID(r); ok {
		s.store.Invalidate(r.Context(), id)
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// requireSession rejects requests without a live session. A stale cookie
// is cleared.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionID(r)
		if !ok {
			writeAuthError(w, CodeAuthRequired, "Authentication required")
			return
		}

		sess, err := s.store.Lookup(r.Context(), id)
		if err != nil {
			s.logger.InfoContext(r.Context(), "rejected stale session", logging.Session(id), logging.Err(err))
			s.clearSessionCookie(w)
			writeAuthError(w, CodeSessionExpired, "Session expired, please log in again")
			return
		}

		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), sess)))
	})
}
