package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/tanmaypatil/gmail-chat/internal/agent"
	"github.com/tanmaypatil/gmail-chat/internal/auth"
	"github.com/tanmaypatil/gmail-chat/internal/gmail"
	"github.com/tanmaypatil/gmail-chat/internal/instrumentation"
	"github.com/tanmaypatil/gmail-chat/internal/logging"
	"github.com/tanmaypatil/gmail-chat/internal/tools/gmail_tools"
)

// Chatter answers one user message using the given mailbox.
type Chatter interface {
	Run(ctx context.Context, message string, mailbox gmail_tools.Mailbox) (*agent.Result, error)
}

// Mailbox is what a request needs from the user's mailbox.
type Mailbox interface {
	gmail_tools.Mailbox
	DownloadAttachment(ctx context.Context, messageID, attachmentID, filename string) *gmail.DownloadedFile
}

// MailboxFactory builds a mailbox client for one request from an
// authenticated HTTP client.
type MailboxFactory func(ctx context.Context, client *http.Client) (Mailbox, error)

// GmailMailboxFactory returns a factory creating Gmail clients with opts.
func GmailMailboxFactory(opts ...gmail.Option) MailboxFactory {
	return func(ctx context.Context, client *http.Client) (Mailbox, error) {
		c, err := gmail.NewClient(ctx, client, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Deps are the collaborators injected into a Server.
type Deps struct {
	Store     *auth.Store
	Agent     Chatter
	Mailboxes MailboxFactory
	Health    *HealthChecker
	Logger    *slog.Logger
	Metrics   *instrumentation.Metrics
}

// Server serves the chat API.
type Server struct {
	cfg        Config
	store      *auth.Store
	agent      Chatter
	mailboxes  MailboxFactory
	health     *HealthChecker
	logger     *slog.Logger
	metrics    *instrumentation.Metrics
	httpServer *http.Server
}

// New validates cfg and wires the handlers.
func New(cfg Config, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, errors.New("credential store is required")
	}
	if deps.Agent == nil {
		return nil, errors.New("chat agent is required")
	}
	if deps.Mailboxes == nil {
		return nil, errors.New("mailbox factory is required")
	}

	s := &Server{
		cfg:       cfg,
		store:     deps.Store,
		agent:     deps.Agent,
		mailboxes: deps.Mailboxes,
		health:    deps.Health,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}
	if s.health == nil {
		s.health = NewHealthChecker()
	}
	// Readiness turns green once Serve has a listener.
	s.health.SetReady(false)
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = logging.WithOperation(s.logger, "http")
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s, nil
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /auth/login", s.handleLogin)
	mux.HandleFunc("GET /auth/callback", s.handleCallback)
	mux.HandleFunc("GET /auth/user", s.handleUser)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)

	mux.Handle("POST /api/chat", s.requireSession(http.HandlerFunc(s.handleChat)))
	mux.Handle("POST /api/download-attachment", s.requireSession(http.HandlerFunc(s.handleDownload)))

	s.health.RegisterHealthEndpoints(mux)

	return chainMiddlewares(mux,
		s.withCORS,
		s.withObservability,
		withRequestID,
		s.withRecover,
	)
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("starting API server", "addr", l.Addr().String(), "base_url", s.cfg.BaseURL)
	s.health.SetReady(true)
	return s.httpServer.Serve(l)
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Shutdown marks the server not ready and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetShuttingDown()
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
