package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tanmaypatil/gmail-chat/internal/agent"
	"github.com/tanmaypatil/gmail-chat/internal/auth"
	"github.com/tanmaypatil/gmail-chat/internal/gmail"
	"github.com/tanmaypatil/gmail-chat/internal/google"
	"github.com/tanmaypatil/gmail-chat/internal/instrumentation"
	"github.com/tanmaypatil/gmail-chat/internal/llm"
	"github.com/tanmaypatil/gmail-chat/internal/logging"
	"github.com/tanmaypatil/gmail-chat/internal/server"
)

const (
	llmProviderAnthropic = "anthropic"
	llmProviderOpenAI    = "openai"

	stateStoreMemory = "memory"
	stateStoreRedis  = "redis"

	// sessionCleanupInterval is how often sessions past their max age are swept.
	sessionCleanupInterval = 10 * time.Minute
)

// serveConfig holds every setting of the serve command.
type serveConfig struct {
	Addr           string
	BaseURL        string
	FrontendURL    string
	AllowedOrigins []string
	CookieSecure   bool

	CredentialsFiles []string
	DownloadsDir     string

	LLMProvider   string
	LLMBaseURL    string
	Model         string
	MaxTokens     int
	MaxToolRounds int
	SystemPrompt  string

	StateStore string
	RedisURL   string

	MetricsEnabled bool
	MetricsAddr    string

	LogFormat string
	Debug     bool
}

func newServeCmd() *cobra.Command {
	cfg := serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat backend",
		Long: `Start the HTTP backend serving the login flow and the chat API.

Google OAuth:
  The OAuth client is read from credentials_web.json, falling back to
  credentials.json (override with --credentials-file). Both "web" and
  "installed" client descriptors are accepted. The redirect URI
  <base-url>/auth/callback must be registered with Google.

Chat model:
  --llm-provider anthropic (default) needs ANTHROPIC_API_KEY.
  --llm-provider openai needs OPENAI_API_KEY and also works with any
  OpenAI-compatible server via --llm-base-url.

Every flag can also be set through the environment variable shown in its
help text. A .env file in the working directory is loaded first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadDotEnv(".env"); err != nil {
				return err
			}
			loadServeEnvVars(cmd, &cfg)
			if err := cfg.validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Addr, "addr", server.DefaultAddr, "HTTP listen address. Can also use HTTP_ADDR env var.")
	f.StringVar(&cfg.BaseURL, "base-url", "", "Public base URL of this server, used for the OAuth redirect. Defaults to http://localhost<addr>. Can also use BASE_URL env var.")
	f.StringVar(&cfg.FrontendURL, "frontend-url", "", "URL the browser is sent to after login. Defaults to the base URL. Can also use FRONTEND_URL env var.")
	f.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", nil, "Origins allowed to call the API with credentials (comma-separated, \"*\" for any without credentials). Can also use ALLOWED_ORIGINS env var.")
	f.BoolVar(&cfg.CookieSecure, "cookie-secure", false, "Mark the session cookie Secure (required behind HTTPS). Can also use COOKIE_SECURE env var.")

	f.StringSliceVar(&cfg.CredentialsFiles, "credentials-file", nil, "Google OAuth client file, tried in order (default: credentials_web.json, credentials.json). Can also use GOOGLE_CREDENTIALS_FILE env var.")
	f.StringVar(&cfg.DownloadsDir, "downloads-dir", gmail.DefaultDownloadsDir, "Directory downloaded attachments are written to. Can also use DOWNLOADS_DIR env var.")

	f.StringVar(&cfg.LLMProvider, "llm-provider", llmProviderAnthropic, "Chat model provider: anthropic or openai. Can also use LLM_PROVIDER env var.")
	f.StringVar(&cfg.LLMBaseURL, "llm-base-url", "", "Override the model API base URL. Can also use LLM_BASE_URL env var.")
	f.StringVar(&cfg.Model, "model", "", "Model name (default depends on provider). Can also use LLM_MODEL env var.")
	f.IntVar(&cfg.MaxTokens, "max-tokens", agent.DefaultMaxTokens, "Output token budget per model call. Can also use LLM_MAX_TOKENS env var.")
	f.IntVar(&cfg.MaxToolRounds, "max-tool-rounds", agent.DefaultMaxRounds, "Maximum tool rounds per chat message. Can also use MAX_TOOL_ROUNDS env var.")
	f.StringVar(&cfg.SystemPrompt, "system-prompt", "", "Optional system prompt sent with every chat. Can also use SYSTEM_PROMPT env var.")

	f.StringVar(&cfg.StateStore, "state-store", stateStoreMemory, "Pending login state storage: memory or redis. Can also use STATE_STORE env var.")
	f.StringVar(&cfg.RedisURL, "redis-url", "", "Redis URL for --state-store redis (e.g. redis://localhost:6379/0). Can also use REDIS_URL env var.")

	f.BoolVar(&cfg.MetricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	f.StringVar(&cfg.LogFormat, "log-format", "text", "Log format: text or json. Can also use LOG_FORMAT env var.")
	f.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging. Can also use DEBUG env var.")

	return cmd
}

// loadDotEnv loads path into the environment. A missing file is not an
// error; existing variables are never overridden.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// loadServeEnvVars applies environment variables to settings whose flag was
// not set explicitly.
func loadServeEnvVars(cmd *cobra.Command, cfg *serveConfig) {
	flags := cmd.Flags()

	str := func(flag, env string, dst *string) {
		if !flags.Changed(flag) {
			if v := os.Getenv(env); v != "" {
				*dst = v
			}
		}
	}
	list := func(flag, env string, dst *[]string) {
		if !flags.Changed(flag) {
			if v := parseCommaSeparatedList(os.Getenv(env)); v != nil {
				*dst = v
			}
		}
	}
	boolean := func(flag, env string, dst *bool) {
		if !flags.Changed(flag) {
			if v, err := strconv.ParseBool(os.Getenv(env)); err == nil {
				*dst = v
			}
		}
	}
	integer := func(flag, env string, dst *int) {
		if !flags.Changed(flag) {
			if v, err := strconv.Atoi(os.Getenv(env)); err == nil {
				*dst = v
			}
		}
	}

	str("addr", "HTTP_ADDR", &cfg.Addr)
	str("base-url", "BASE_URL", &cfg.BaseURL)
	str("frontend-url", "FRONTEND_URL", &cfg.FrontendURL)
	list("allowed-origins", "ALLOWED_ORIGINS", &cfg.AllowedOrigins)
	boolean("cookie-secure", "COOKIE_SECURE", &cfg.CookieSecure)

	list("credentials-file", "GOOGLE_CREDENTIALS_FILE", &cfg.CredentialsFiles)
	str("downloads-dir", "DOWNLOADS_DIR", &cfg.DownloadsDir)

	str("llm-provider", "LLM_PROVIDER", &cfg.LLMProvider)
	str("llm-base-url", "LLM_BASE_URL", &cfg.LLMBaseURL)
	str("model", "LLM_MODEL", &cfg.Model)
	integer("max-tokens", "LLM_MAX_TOKENS", &cfg.MaxTokens)
	integer("max-tool-rounds", "MAX_TOOL_ROUNDS", &cfg.MaxToolRounds)
	str("system-prompt", "SYSTEM_PROMPT", &cfg.SystemPrompt)

	str("state-store", "STATE_STORE", &cfg.StateStore)
	str("redis-url", "REDIS_URL", &cfg.RedisURL)

	boolean("metrics-enabled", "METRICS_ENABLED", &cfg.MetricsEnabled)
	str("metrics-addr", "METRICS_ADDR", &cfg.MetricsAddr)

	str("log-format", "LOG_FORMAT", &cfg.LogFormat)
	boolean("debug", "DEBUG", &cfg.Debug)
}

func (c *serveConfig) validate() error {
	switch c.LLMProvider {
	case llmProviderAnthropic, llmProviderOpenAI:
	default:
		return fmt.Errorf("unsupported LLM provider %q (supported: anthropic, openai)", c.LLMProvider)
	}

	switch c.StateStore {
	case stateStoreMemory:
	case stateStoreRedis:
		if c.RedisURL == "" {
			return errors.New("--redis-url is required with --state-store redis")
		}
	default:
		return fmt.Errorf("unsupported state store %q (supported: memory, redis)", c.StateStore)
	}

	if c.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", c.MaxTokens)
	}
	if c.MaxToolRounds <= 0 {
		return fmt.Errorf("max tool rounds must be positive, got %d", c.MaxToolRounds)
	}

	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL(c.Addr)
	}
	return nil
}

// defaultBaseURL derives a localhost URL from a listen address.
func defaultBaseURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

// newChatModel builds the configured model client and wraps it with
// instrumentation.
func newChatModel(cfg serveConfig, metrics *instrumentation.Metrics) (llm.ChatModel, error) {
	switch cfg.LLMProvider {
	case llmProviderOpenAI:
		client, err := llm.NewOpenAIClient(os.Getenv("OPENAI_API_KEY"), cfg.LLMBaseURL)
		if err != nil {
			return nil, fmt.Errorf("%w (set OPENAI_API_KEY)", err)
		}
		return llm.Instrumented(client, instrumentation.ServiceOpenAI, metrics), nil

	default:
		var opts []llm.AnthropicOption
		if cfg.LLMBaseURL != "" {
			opts = append(opts, llm.WithAnthropicBaseURL(cfg.LLMBaseURL))
		}
		client, err := llm.NewAnthropicClient(os.Getenv("ANTHROPIC_API_KEY"), opts...)
		if err != nil {
			return nil, fmt.Errorf("%w (set ANTHROPIC_API_KEY)", err)
		}
		return llm.Instrumented(client, instrumentation.ServiceAnthropic, metrics), nil
	}
}

// newStateStore builds the pending login state store and returns a close
// function for it.
func newStateStore(ctx context.Context, cfg serveConfig) (auth.StateStore, func() error, error) {
	if cfg.StateStore == stateStoreRedis {
		store, err := auth.NewRedisStateStoreFromURL(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return auth.NewMemoryStateStore(auth.DefaultMaxPendingStates), func() error { return nil }, nil
}

func runServe(ctx context.Context, cfg serveConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := logging.NewLogger(os.Stderr, cfg.LogFormat, cfg.Debug)
	slog.SetDefault(logger)

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(flushCtx); err != nil {
			logger.Error("error during instrumentation shutdown", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()

	model, err := newChatModel(cfg, metrics)
	if err != nil {
		return err
	}

	chat, err := agent.New(agent.Config{
		Model:     model,
		ModelName: cfg.Model,
		MaxTokens: cfg.MaxTokens,
		MaxRounds: cfg.MaxToolRounds,
		System:    cfg.SystemPrompt,
		Logger:    logging.WithOperation(logger, "chat"),
		Metrics:   metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create chat agent: %w", err)
	}

	states, closeStates, err := newStateStore(shutdownCtx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create state store: %w", err)
	}
	defer func() {
		if err := closeStates(); err != nil {
			logger.Warn("error closing state store", logging.Err(err))
		}
	}()

	loadConfig := google.FileConfigLoader(google.DefaultOAuthScopes, cfg.CredentialsFiles...)
	store, err := auth.NewStore(auth.Config{
		LoadConfig: loadConfig,
		States:     states,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create credential store: %w", err)
	}
	go store.Run(shutdownCtx, sessionCleanupInterval)

	apiConfig := server.Config{
		Addr:           cfg.Addr,
		BaseURL:        cfg.BaseURL,
		FrontendURL:    cfg.FrontendURL,
		AllowedOrigins: cfg.AllowedOrigins,
		CookieSecure:   cfg.CookieSecure,
	}

	health := server.NewHealthChecker()
	health.AddCheck("oauth_client", func(context.Context) error {
		_, err := loadConfig(apiConfig.RedirectURI())
		return err
	})
	if p, ok := states.(interface{ Ping(context.Context) error }); ok {
		health.AddCheck("state_store", p.Ping)
	}
	apiServer, err := server.New(apiConfig, server.Deps{
		Store:  store,
		Agent:  chat,
		Health: health,
		Mailboxes: server.GmailMailboxFactory(
			gmail.WithDownloadsDir(cfg.DownloadsDir),
			gmail.WithLogger(logger),
			gmail.WithMetrics(metrics),
		),
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	var metricsServer *server.MetricsServer
	if cfg.MetricsEnabled && provider.Enabled() && provider.PrometheusHandler() != nil {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:     cfg.MetricsAddr,
			Provider: provider,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", logging.Err(err))
			}
		}()
	}

	logger.Info("gmail-chat backend starting",
		"addr", cfg.Addr,
		"redirect_uri", apiConfig.RedirectURI(),
		"llm_provider", cfg.LLMProvider,
		"max_tool_rounds", cfg.MaxToolRounds,
		"state_store", cfg.StateStore)

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Info("shutdown signal received, stopping HTTP server")
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer drainCancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(drainCtx); err != nil {
			logger.Warn("error during metrics server shutdown", logging.Err(err))
		}
	}
	if err := apiServer.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("error shutting down HTTP server: %w", err)
	}

	logger.Info("HTTP server gracefully stopped")
	return nil
}

// parseCommaSeparatedList parses a comma-separated string into a slice,
// trimming whitespace from each element and filtering out empty strings.
// Returns nil if the input is empty or contains only whitespace/commas.
func parseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
