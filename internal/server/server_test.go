package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tanmaypatil/gmail-chat/internal/agent"
	"github.com/tanmaypatil/gmail-chat/internal/auth"
	"github.com/tanmaypatil/gmail-chat/internal/gmail"
	"github.com/tanmaypatil/gmail-chat/internal/logging"
	"github.com/tanmaypatil/gmail-chat/internal/tools/gmail_tools"
)

const (
	testBaseURL     = "http://localhost:5001"
	testFrontendURL = "http://localhost:8000"
	testEmail       = "user@example.com"
)

// fakeGoogle serves the OAuth token endpoint and the Gmail attachment
// endpoint used by the handlers.
type fakeGoogle struct {
	srv         *httptest.Server
	expiresIn   atomic.Int64
	revoked     atomic.Bool
	attachments map[string][]byte
}

func newFakeGoogle(t *testing.T) *fakeGoogle {
	t.Helper()

	g := &fakeGoogle{attachments: map[string][]byte{}}
	g.expiresIn.Store(3600)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")

		grant := r.PostForm.Get("grant_type")
		if (grant == "authorization_code" && r.PostForm.Get("code") != "good-code") ||
			(grant == "refresh_token" && g.revoked.Load()) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access",
			"refresh_token": "refresh",
			"token_type":    "Bearer",
			"expires_in":    g.expiresIn.Load(),
		})
	})
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{mid}/attachments/{aid}", func(w http.ResponseWriter, r *http.Request) {
		data, ok := g.attachments[r.PathValue("mid")+"/"+r.PathValue("aid")]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found."}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"size": len(data),
			"data": base64.URLEncoding.EncodeToString(data),
		})
	})

	g.srv = httptest.NewServer(mux)
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGoogle) loader(redirectURI string) (*oauth2.Config, error) {
	return &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  g.srv.URL + "/auth",
			TokenURL: g.srv.URL + "/token",
		},
	}, nil
}

// stubAgent returns a canned result, or err, and records its calls.
type stubAgent struct {
	mu       sync.Mutex
	messages []string
	result   *agent.Result
	err      error
}

func (a *stubAgent) Run(_ context.Context, message string, mailbox gmail_tools.Mailbox) (*agent.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, message)
	if mailbox == nil {
		panic("nil mailbox")
	}
	if a.err != nil {
		return nil, a.err
	}
	return a.result, nil
}

// logBuffer collects JSON log lines written by concurrent handlers.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// lines decodes every record logged so far.
func (b *logBuffer) lines(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	for _, raw := range bytes.Split(bytes.TrimSpace(b.buf.Bytes()), []byte("\n")) {
		if len(raw) == 0 {
			continue
		}
		var line map[string]any
		require.NoError(t, json.Unmarshal(raw, &line))
		out = append(out, line)
	}
	return out
}

type testEnv struct {
	google       *fakeGoogle
	store        *auth.Store
	agent        *stubAgent
	downloadsDir string
	logs         *logBuffer
	handler      http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	g := newFakeGoogle(t)
	store, err := auth.NewStore(auth.Config{
		LoadConfig: g.loader,
		FetchEmail: func(context.Context, *http.Client) (string, error) { return testEmail, nil },
	})
	require.NoError(t, err)

	env := &testEnv{
		google:       g,
		store:        store,
		agent:        &stubAgent{result: &agent.Result{Response: "hello", Attachments: []gmail_tools.AttachmentRef{}}},
		downloadsDir: t.TempDir(),
		logs:         &logBuffer{},
	}

	srv, err := New(Config{
		BaseURL:        testBaseURL,
		FrontendURL:    testFrontendURL,
		AllowedOrigins: []string{testFrontendURL},
	}, Deps{
		Store: store,
		Agent: env.agent,
		Mailboxes: GmailMailboxFactory(
			gmail.WithEndpoint(g.srv.URL+"/"),
			gmail.WithDownloadsDir(env.downloadsDir),
		),
		Logger: logging.NewLogger(env.logs, logging.FormatJSON, false),
	})
	require.NoError(t, err)

	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// login runs the OAuth flow and returns the session cookie.
func (e *testEnv) login(t *testing.T) *http.Cookie {
	t.Helper()

	rec := e.do(t, http.MethodGet, "/auth/login", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var login LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.NotEmpty(t, login.State)

	rec = e.do(t, http.MethodGet, "/auth/callback?"+url.Values{"state": {login.State}, "code": {"good-code"}}.Encode(), "")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, testFrontendURL+"/index.html", rec.Header().Get("Location"))

	return findCookie(t, rec)
}

func findCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", SessionCookieName)
	return nil
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestNew_Validation(t *testing.T) {
	store, err := auth.NewStore(auth.Config{LoadConfig: func(string) (*oauth2.Config, error) { return &oauth2.Config{}, nil }})
	require.NoError(t, err)
	deps := Deps{Store: store, Agent: &stubAgent{}, Mailboxes: GmailMailboxFactory()}

	tests := []struct {
		name    string
		cfg     Config
		deps    Deps
		wantErr string
	}{
		{name: "valid", cfg: Config{BaseURL: testBaseURL}, deps: deps},
		{name: "missing base url", cfg: Config{}, deps: deps, wantErr: "base URL is required"},
		{name: "bad scheme", cfg: Config{BaseURL: "ftp://host"}, deps: deps, wantErr: "unsupported scheme"},
		{name: "bad frontend", cfg: Config{BaseURL: testBaseURL, FrontendURL: "nohost"}, deps: deps, wantErr: "invalid frontend URL"},
		{name: "missing store", cfg: Config{BaseURL: testBaseURL}, deps: Deps{Agent: deps.Agent, Mailboxes: deps.Mailboxes}, wantErr: "credential store"},
		{name: "missing agent", cfg: Config{BaseURL: testBaseURL}, deps: Deps{Store: store, Mailboxes: deps.Mailboxes}, wantErr: "chat agent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.deps)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_RedirectURI(t *testing.T) {
	cfg := Config{BaseURL: "https://chat.example.com/"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://chat.example.com/auth/callback", cfg.RedirectURI())
	assert.Equal(t, "https://chat.example.com", cfg.frontend())
	assert.Equal(t, DefaultAddr, cfg.Addr)
}
