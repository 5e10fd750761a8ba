package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tanmaypatil/gmail-chat/internal/google"
	"github.com/tanmaypatil/gmail-chat/internal/logging"
)

const testRedirect = "http://localhost:5001/auth/callback"

// fakeProvider is a minimal OAuth token endpoint.
type fakeProvider struct {
	srv           *httptest.Server
	refreshCalls  atomic.Int32
	refreshDelay  time.Duration
	revoked       atomic.Bool
	lastAuthorize atomic.Value
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	p := &fakeProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")

		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if r.PostForm.Get("code") != "good-code" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "access-1",
				"refresh_token": "refresh-1",
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		case "refresh_token":
			p.refreshCalls.Add(1)
			time.Sleep(p.refreshDelay)
			if p.revoked.Load() || r.PostForm.Get("refresh_token") != "refresh-1" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "access-2",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("GET /api", func(w http.ResponseWriter, r *http.Request) {
		p.lastAuthorize.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) loader() google.ConfigLoader {
	return func(redirectURI string) (*oauth2.Config, error) {
		return &oauth2.Config{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURL:  redirectURI,
			Scopes:       google.DefaultOAuthScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   p.srv.URL + "/auth",
				TokenURL:  p.srv.URL + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}, nil
	}
}

func staticEmail(email string) google.UserInfoFetcher {
	return func(context.Context, *http.Client) (string, error) {
		return email, nil
	}
}

func newTestStore(t *testing.T, p *fakeProvider, mutate ...func(*Config)) *Store {
	t.Helper()

	cfg := Config{
		LoadConfig: p.loader(),
		FetchEmail: staticEmail("jane@example.com"),
		HTTPClient: p.srv.Client(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	store, err := NewStore(cfg)
	require.NoError(t, err)
	return store
}

func login(t *testing.T, store *Store) *Session {
	t.Helper()

	ctx := context.Background()
	_, state, err := store.BeginLogin(ctx, testRedirect)
	require.NoError(t, err)
	require.True(t, store.VerifyAndConsumeState(ctx, state))

	sess, err := store.CompleteLogin(ctx, testRedirect+"?state="+state+"&code=good-code", testRedirect)
	require.NoError(t, err)
	return sess
}

func expireToken(store *Store, id, refreshToken string) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.sessions[id].token = &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	}
}

func TestNewStore_RequiresLoader(t *testing.T) {
	_, err := NewStore(Config{})
	assert.Error(t, err)
}

func TestStore_BeginLogin(t *testing.T) {
	store := newTestStore(t, newFakeProvider(t))
	ctx := context.Background()

	authURL, state, err := store.BeginLogin(ctx, testRedirect)
	require.NoError(t, err)
	assert.Len(t, state, 43)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, state, q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "true", q.Get("include_granted_scopes"))
	assert.Equal(t, testRedirect, q.Get("redirect_uri"))
	assert.Equal(t, "client-id", q.Get("client_id"))
}

func TestStore_BeginLogin_MissingCredentials(t *testing.T) {
	store, err := NewStore(Config{
		LoadConfig: google.FileConfigLoader(google.DefaultOAuthScopes, t.TempDir()+"/absent.json"),
	})
	require.NoError(t, err)

	_, _, err = store.BeginLogin(context.Background(), testRedirect)
	assert.ErrorIs(t, err, google.ErrNoCredentials)
}

func TestStore_VerifyAndConsumeState(t *testing.T) {
	store := newTestStore(t, newFakeProvider(t))
	ctx := context.Background()

	_, state, err := store.BeginLogin(ctx, testRedirect)
	require.NoError(t, err)

	assert.True(t, store.VerifyAndConsumeState(ctx, state), "first use is accepted")
	assert.False(t, store.VerifyAndConsumeState(ctx, state), "second use is rejected")
	assert.False(t, store.VerifyAndConsumeState(ctx, "never-issued"))
	assert.False(t, store.VerifyAndConsumeState(ctx, ""))
}

func TestStore_CompleteLogin(t *testing.T) {
	store := newTestStore(t, newFakeProvider(t))

	sess := login(t, store)
	assert.Equal(t, "jane@example.com", sess.Email)
	assert.Len(t, sess.ID, 43)
	assert.Equal(t, 1, store.Len())

	got, err := store.Lookup(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess, got)
}

func TestStore_CompleteLogin_Failures(t *testing.T) {
	tests := []struct {
		name       string
		callback   string
		fetchEmail google.UserInfoFetcher
		wantReason string
	}{
		{"user declined", testRedirect + "?error=access_denied&state=x", nil, "access_denied"},
		{"missing code", testRedirect + "?state=x", nil, ReasonMissingCode},
		{"bad code", testRedirect + "?state=x&code=forged", nil, ReasonAuthFailed},
		{
			name:     "email unavailable",
			callback: testRedirect + "?state=x&code=good-code",
			fetchEmail: func(context.Context, *http.Client) (string, error) {
				return "", google.ErrNoEmail
			},
			wantReason: ReasonAuthFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t, newFakeProvider(t), func(c *Config) {
				if tt.fetchEmail != nil {
					c.FetchEmail = tt.fetchEmail
				}
			})

			sess, err := store.CompleteLogin(context.Background(), tt.callback, testRedirect)
			assert.Nil(t, sess)

			var loginErr *LoginError
			require.True(t, errors.As(err, &loginErr), "expected LoginError, got %v", err)
			assert.Equal(t, tt.wantReason, loginErr.Reason)
			assert.Zero(t, store.Len(), "no session may be created on failure")
		})
	}
}

func TestStore_Lookup(t *testing.T) {
	store := newTestStore(t, newFakeProvider(t))

	_, err := store.Lookup(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	sess := login(t, store)
	first, err := store.Lookup(context.Background(), sess.ID)
	require.NoError(t, err)
	second, err := store.Lookup(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second, "lookup is idempotent")
}

func TestStore_Lookup_RefreshesExpiredToken(t *testing.T) {
	p := newFakeProvider(t)
	store := newTestStore(t, p)
	sess := login(t, store)
	expireToken(store, sess.ID, "refresh-1")

	got, err := store.Lookup(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Email, got.Email)
	assert.Equal(t, int32(1), p.refreshCalls.Load())

	tok, err := store.token(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken, "refresh token is retained")
}

func TestStore_Lookup_ExpiredWithoutRefreshToken(t *testing.T) {
	p := newFakeProvider(t)
	store := newTestStore(t, p)
	sess := login(t, store)
	expireToken(store, sess.ID, "")

	_, err := store.Lookup(context.Background(), sess.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Zero(t, store.Len())
	assert.Zero(t, p.refreshCalls.Load())
}

func TestStore_Lookup_RefreshFailureInvalidates(t *testing.T) {
	p := newFakeProvider(t)
	store := newTestStore(t, p)
	sess := login(t, store)
	expireToken(store, sess.ID, "refresh-1")
	p.revoked.Store(true)

	_, err := store.Lookup(context.Background(), sess.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)

	_, err = store.Lookup(context.Background(), sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound, "session is gone after a failed refresh")
}

func TestStore_ConcurrentLookupsShareOneRefresh(t *testing.T) {
	p := newFakeProvider(t)
	p.refreshDelay = 50 * time.Millisecond
	store := newTestStore(t, p)
	sess := login(t, store)
	expireToken(store, sess.ID, "refresh-1")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Lookup(context.Background(), sess.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), p.refreshCalls.Load())
}

func TestStore_SessionMaxAge(t *testing.T) {
	store := newTestStore(t, newFakeProvider(t), func(c *Config) { c.SessionMaxAge = time.Hour })
	sess := login(t, store)

	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err := store.Lookup(context.Background(), sess.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Zero(t, store.Len())
}

func TestStore_CleanupExpired(t *testing.T) {
	store := newTestStore(t, newFakeProvider(t), func(c *Config) { c.SessionMaxAge = time.Hour })
	login(t, store)
	login(t, store)
	require.Equal(t, 2, store.Len())

	store.cleanupExpired(context.Background())
	assert.Equal(t, 2, store.Len())

	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	store.cleanupExpired(context.Background())
	assert.Zero(t, store.Len())
}

func TestStore_CleanupSweepsLoginStates(t *testing.T) {
	tests := []struct {
		name   string
		maxAge time.Duration
	}{
		{"with session max age", time.Hour},
		{"session age limit disabled", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			states := NewMemoryStateStore(0)
			store := newTestStore(t, newFakeProvider(t), func(c *Config) {
				c.States = states
				c.SessionMaxAge = tt.maxAge
			})
			ctx := context.Background()

			for range 3 {
				_, _, err := store.BeginLogin(ctx, testRedirect)
				require.NoError(t, err)
			}
			require.Equal(t, 3, states.Len())

			store.cleanupExpired(ctx)
			assert.Equal(t, 3, states.Len(), "pending states survive")

			states.now = func() time.Time { return time.Now().Add(DefaultStateTTL + time.Minute) }
			store.cleanupExpired(ctx)
			assert.Zero(t, states.Len())
		})
	}
}

func TestStore_RunSweepsUntilCancelled(t *testing.T) {
	states := NewMemoryStateStore(0)
	store := newTestStore(t, newFakeProvider(t), func(c *Config) { c.States = states })

	_, _, err := store.BeginLogin(context.Background(), testRedirect)
	require.NoError(t, err)
	states.mu.Lock()
	states.now = func() time.Time { return time.Now().Add(time.Hour) }
	states.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return states.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestStore_LoginLogsDomainNotAddress(t *testing.T) {
	var buf bytes.Buffer
	store := newTestStore(t, newFakeProvider(t), func(c *Config) {
		c.Logger = logging.NewLogger(&buf, logging.FormatJSON, false)
	})
	login(t, store)

	var created map[string]any
	for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var line map[string]any
		require.NoError(t, json.Unmarshal(raw, &line))
		if line["msg"] == "session created" {
			created = line
		}
	}
	require.NotNil(t, created)
	assert.Equal(t, "example.com", created["user_domain"])
	assert.Equal(t, logging.AnonymizeEmail("jane@example.com"), created[logging.KeyUserHash])
	assert.NotContains(t, buf.String(), "jane@example.com")
}

func TestStore_Invalidate(t *testing.T) {
	store := newTestStore(t, newFakeProvider(t))
	sess := login(t, store)

	store.Invalidate(context.Background(), sess.ID)
	store.Invalidate(context.Background(), sess.ID)

	_, err := store.Lookup(context.Background(), sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStore_HTTPClient(t *testing.T) {
	p := newFakeProvider(t)
	store := newTestStore(t, p)
	sess := login(t, store)

	_, err := store.HTTPClient(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	client, err := store.HTTPClient(context.Background(), sess.ID)
	require.NoError(t, err)

	resp, err := client.Get(p.srv.URL + "/api")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "Bearer access-1", p.lastAuthorize.Load())
}

func TestIsTokenExpired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		token *oauth2.Token
		want  bool
	}{
		{"nil token", nil, true},
		{"empty access token", &oauth2.Token{Expiry: now.Add(time.Hour)}, true},
		{"far from expiry", &oauth2.Token{AccessToken: "a", Expiry: now.Add(time.Hour)}, false},
		{"within threshold", &oauth2.Token{AccessToken: "a", Expiry: now.Add(10 * time.Second)}, true},
		{"already expired", &oauth2.Token{AccessToken: "a", Expiry: now.Add(-time.Minute)}, true},
		{"no expiry set", &oauth2.Token{AccessToken: "a"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTokenExpired(tt.token, now, refreshThreshold))
		})
	}
}
