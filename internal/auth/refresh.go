package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/tanmaypatil/gmail-chat/internal/instrumentation"
	"github.com/tanmaypatil/gmail-chat/internal/logging"
)

const (
	// refreshThreshold refreshes tokens slightly before they expire.
	refreshThreshold = 30 * time.Second

	refreshTimeout = 30 * time.Second
)

// isTokenExpired reports whether token is expired or will be within threshold.
func isTokenExpired(token *oauth2.Token, now time.Time, threshold time.Duration) bool {
	if token == nil || token.AccessToken == "" {
		return true
	}
	if token.Expiry.IsZero() {
		return false
	}
	return now.Add(threshold).After(token.Expiry)
}

// token returns a usable access token for the session, refreshing it when
// needed. Concurrent callers for the same session share one refresh.
func (s *Store) token(ctx context.Context, id string) (*oauth2.Token, error) {
	rec, ok := s.get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !isTokenExpired(s.currentToken(rec), s.now(), refreshThreshold) {
		return s.currentToken(rec), nil
	}

	v, err, _ := s.refreshes.Do(id, func() (any, error) {
		return s.refresh(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

func (s *Store) currentToken(rec *session) *oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rec.token
}

func (s *Store) refresh(ctx context.Context, id string) (*oauth2.Token, error) {
	rec, ok := s.get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}

	// A caller that lost the race may arrive after the winner stored a
	// fresh token.
	current := s.currentToken(rec)
	if !isTokenExpired(current, s.now(), refreshThreshold) {
		return current, nil
	}

	if current.RefreshToken == "" {
		s.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultExpired)
		s.remove(ctx, id)
		s.logger.InfoContext(ctx, "session expired without refresh token", logging.Session(id))
		return nil, ErrSessionExpired
	}

	// The refresh is shared by every waiter, so it must not be cut short
	// by the first caller's cancellation.
	refreshCtx, cancel := context.WithTimeout(s.oauthContext(context.WithoutCancel(ctx)), refreshTimeout)
	defer cancel()

	// Passing only the refresh token forces the source to hit the token
	// endpoint regardless of the wall clock.
	fresh, err := rec.oauthConfig.TokenSource(refreshCtx, &oauth2.Token{RefreshToken: current.RefreshToken}).Token()
	if err != nil {
		s.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		s.remove(ctx, id)
		s.logger.WarnContext(ctx, "token refresh failed", logging.Session(id), logging.Err(err))
		return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = current.RefreshToken
	}

	s.mu.Lock()
	rec.token = fresh
	s.mu.Unlock()

	s.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultSuccess)
	s.logger.DebugContext(ctx, "token refreshed",
		logging.Session(id),
		slog.String("access_token", logging.SanitizeToken(fresh.AccessToken)),
		slog.Time("expiry", fresh.Expiry))
	return fresh, nil
}

// sessionTokenSource adapts the store to oauth2.TokenSource for one session.
type sessionTokenSource struct {
	ctx   context.Context
	store *Store
	id    string
}

func (ts *sessionTokenSource) Token() (*oauth2.Token, error) {
	return ts.store.token(ts.ctx, ts.id)
}
