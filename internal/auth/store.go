package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/tanmaypatil/gmail-chat/internal/google"
	"github.com/tanmaypatil/gmail-chat/internal/instrumentation"
	"github.com/tanmaypatil/gmail-chat/internal/logging"
)

// DefaultSessionMaxAge matches the lifetime of the session cookie.
const DefaultSessionMaxAge = 7 * 24 * time.Hour

// Config holds the dependencies of a Store.
type Config struct {
	// LoadConfig resolves the OAuth client for a redirect URI. Required.
	LoadConfig google.ConfigLoader

	// FetchEmail resolves the signed-in account. Defaults to the Google
	// userinfo API.
	FetchEmail google.UserInfoFetcher

	// States holds pending login states. Defaults to a MemoryStateStore.
	States StateStore

	// StateTTL defaults to DefaultStateTTL.
	StateTTL time.Duration

	// SessionMaxAge drops sessions older than this on lookup. Zero uses
	// DefaultSessionMaxAge; a negative value disables the limit.
	SessionMaxAge time.Duration

	// HTTPClient is used for token exchange and refresh when set.
	HTTPClient *http.Client

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Session is the caller-visible view of a signed-in user.
type Session struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

type session struct {
	id          string
	email       string
	token       *oauth2.Token
	oauthConfig *oauth2.Config
	createdAt   time.Time
}

// Store maps session IDs to OAuth credentials. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session

	refreshes singleflight.Group

	loadConfig google.ConfigLoader
	fetchEmail google.UserInfoFetcher
	states     StateStore
	stateTTL   time.Duration
	maxAge     time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *instrumentation.Metrics
	now        func() time.Time
}

// NewStore creates a credential store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.LoadConfig == nil {
		return nil, errors.New("auth: LoadConfig is required")
	}

	s := &Store{
		sessions:   make(map[string]*session),
		loadConfig: cfg.LoadConfig,
		fetchEmail: cfg.FetchEmail,
		states:     cfg.States,
		stateTTL:   cfg.StateTTL,
		maxAge:     cfg.SessionMaxAge,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		now:        time.Now,
	}
	if s.fetchEmail == nil {
		s.fetchEmail = google.NewUserInfoFetcher()
	}
	if s.states == nil {
		s.states = NewMemoryStateStore(DefaultMaxPendingStates)
	}
	if s.stateTTL <= 0 {
		s.stateTTL = DefaultStateTTL
	}
	if s.maxAge == 0 {
		s.maxAge = DefaultSessionMaxAge
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = logging.WithOperation(s.logger, "auth")

	return s, nil
}

// BeginLogin registers a fresh state and returns the provider consent URL
// along with that state. The URL requests offline access and forces the
// consent prompt so a refresh token is always issued.
func (s *Store) BeginLogin(ctx context.Context, redirectURI string) (authURL, state string, err error) {
	cfg, err := s.loadConfig(redirectURI)
	if err != nil {
		return "", "", err
	}

	state, err = generateToken()
	if err != nil {
		return "", "", err
	}
	if err := s.states.Add(ctx, state, s.stateTTL); err != nil {
		return "", "", err
	}

	authURL = cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
	return authURL, state, nil
}

// VerifyAndConsumeState reports whether state was pending. A state is
// accepted at most once.
func (s *Store) VerifyAndConsumeState(ctx context.Context, state string) bool {
	if state == "" {
		return false
	}
	ok, err := s.states.Consume(ctx, state)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to consume login state", logging.Err(err))
		return false
	}
	return ok
}

// CompleteLogin exchanges the authorization code carried by callbackURL,
// resolves the account email and creates a session. State verification is
// the caller's job and must happen first.
func (s *Store) CompleteLogin(ctx context.Context, callbackURL, redirectURI string) (*Session, error) {
	sess, err := s.completeLogin(ctx, callbackURL, redirectURI)
	if err != nil {
		s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		s.logger.WarnContext(ctx, "login failed", logging.Err(err))
		return nil, err
	}
	s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultSuccess)
	s.logger.InfoContext(ctx, "session created",
		logging.UserHash(sess.Email),
		logging.Domain(sess.Email),
		logging.Session(sess.ID))
	return sess, nil
}

func (s *Store) completeLogin(ctx context.Context, callbackURL, redirectURI string) (*Session, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, &LoginError{Reason: ReasonAuthFailed, Err: err}
	}
	query := u.Query()
	if reason := query.Get("error"); reason != "" {
		return nil, &LoginError{Reason: reason}
	}
	code := query.Get("code")
	if code == "" {
		return nil, &LoginError{Reason: ReasonMissingCode, Err: ErrMissingCode}
	}

	cfg, err := s.loadConfig(redirectURI)
	if err != nil {
		return nil, &LoginError{Reason: ReasonAuthFailed, Err: err}
	}

	ctx = s.oauthContext(ctx)
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, &LoginError{Reason: ReasonAuthFailed, Err: fmt.Errorf("failed to exchange code: %w", err)}
	}

	email, err := s.fetchEmail(ctx, cfg.Client(ctx, token))
	if err != nil {
		return nil, &LoginError{Reason: ReasonAuthFailed, Err: err}
	}

	id, err := generateToken()
	if err != nil {
		return nil, &LoginError{Reason: ReasonAuthFailed, Err: err}
	}

	rec := &session{
		id:          id,
		email:       email,
		token:       token,
		oauthConfig: cfg,
		createdAt:   s.now(),
	}

	s.mu.Lock()
	s.sessions[id] = rec
	s.mu.Unlock()
	s.metrics.IncrementActiveSessions(ctx)

	return rec.view(), nil
}

// Lookup returns the session for id, refreshing its credential first when
// it has expired. A session whose credential cannot be refreshed is removed
// and ErrSessionExpired is returned. Repeated lookups of a healthy session
// return the same view.
func (s *Store) Lookup(ctx context.Context, id string) (*Session, error) {
	rec, ok := s.get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}

	if s.maxAge > 0 && s.now().Sub(rec.createdAt) > s.maxAge {
		s.remove(ctx, id)
		return nil, ErrSessionExpired
	}

	if _, err := s.token(ctx, id); err != nil {
		return nil, err
	}
	return rec.view(), nil
}

// Invalidate removes a session. Unknown IDs are ignored.
func (s *Store) Invalidate(ctx context.Context, id string) {
	if s.remove(ctx, id) {
		s.logger.InfoContext(ctx, "session invalidated", logging.Session(id))
	}
}

// HTTPClient returns a client that authenticates as the session's user.
// Its tokens are refreshed through the store.
func (s *Store) HTTPClient(ctx context.Context, id string) (*http.Client, error) {
	if _, ok := s.get(id); !ok {
		return nil, ErrSessionNotFound
	}
	return oauth2.NewClient(s.oauthContext(ctx), &sessionTokenSource{ctx: ctx, store: s, id: id}), nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Run removes sessions past their maximum age and expired login states
// until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupExpired(ctx)
		}
	}
}

func (s *Store) cleanupExpired(ctx context.Context) {
	if sweeper, ok := s.states.(StateSweeper); ok {
		if n := sweeper.Sweep(ctx); n > 0 {
			s.logger.DebugContext(ctx, "cleaned up expired login states", "count", n)
		}
	}
	if s.maxAge <= 0 {
		return
	}

	now := s.now()
	var expired []string

	s.mu.RLock()
	for id, rec := range s.sessions {
		if now.Sub(rec.createdAt) > s.maxAge {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range expired {
		s.remove(ctx, id)
	}
	if len(expired) > 0 {
		s.logger.DebugContext(ctx, "cleaned up expired sessions", "count", len(expired))
	}
}

func (s *Store) get(id string) (*session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	return rec, ok
}

func (s *Store) remove(ctx context.Context, id string) bool {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		s.metrics.DecrementActiveSessions(ctx)
	}
	return ok
}

func (s *Store) oauthContext(ctx context.Context) context.Context {
	if s.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}
	return ctx
}

func (r *session) view() *Session {
	return &Session{ID: r.id, Email: r.email, CreatedAt: r.createdAt}
}
