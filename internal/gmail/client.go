package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/tanmaypatil/gmail-chat/internal/instrumentation"
	"github.com/tanmaypatil/gmail-chat/internal/logging"
)

const (
	// userID addresses the mailbox of the authenticated user.
	userID = "me"

	// DefaultDownloadsDir is used when WithDownloadsDir is not given.
	DefaultDownloadsDir = "downloads"
)

// Client wraps the Gmail Users service for a single signed-in user.
type Client struct {
	svc          *gmail.UsersService
	downloadsDir string
	endpoint     string
	logger       *slog.Logger
	metrics      *instrumentation.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithDownloadsDir sets the directory attachments are written to.
func WithDownloadsDir(dir string) Option {
	return func(c *Client) { c.downloadsDir = dir }
}

// WithLogger sets the logger used for downgraded provider errors.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics records every Gmail call on m.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithEndpoint points the client at a different Gmail API base URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// NewClient creates a Gmail client that authenticates through httpClient.
func NewClient(ctx context.Context, httpClient *http.Client, opts ...Option) (*Client, error) {
	c := &Client{
		downloadsDir: DefaultDownloadsDir,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	svcOpts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if c.endpoint != "" {
		svcOpts = append(svcOpts, option.WithEndpoint(c.endpoint))
	}

	svc, err := gmail.NewService(ctx, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	c.svc = svc.Users
	c.logger = logging.WithOperation(c.logger, "gmail")

	return c, nil
}

// DownloadsDir returns the directory attachments are written to.
func (c *Client) DownloadsDir() string {
	return c.downloadsDir
}

// observe runs one Gmail API call inside a client span and records its
// outcome. resourceID names the message or attachment and may be empty.
func (c *Client) observe(ctx context.Context, operation, resourceID string, call func(ctx context.Context) error) error {
	var attrs []attribute.KeyValue
	if resourceID != "" {
		attrs = append(attrs, attribute.String(instrumentation.SpanAttrResourceID, resourceID))
	}
	ctx, span := instrumentation.StartClientSpan(ctx, instrumentation.ServiceGmail, operation, attrs...)
	defer span.End()

	start := time.Now()
	err := call(ctx)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	c.metrics.RecordGmailOperation(ctx, operation, status, time.Since(start))

	return err
}

// GetMessage retrieves a full Gmail message.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*gmail.Message, error) {
	var msg *gmail.Message
	err := c.observe(ctx, "get", messageID, func(ctx context.Context) error {
		var err error
		msg, err = c.svc.Messages.Get(userID, messageID).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", messageID, err)
	}
	return msg, nil
}

// ListMessageIDs returns the IDs of up to maxResults messages matching query.
func (c *Client) ListMessageIDs(ctx context.Context, query string, maxResults int64) ([]string, error) {
	var res *gmail.ListMessagesResponse
	err := c.observe(ctx, "list", "", func(ctx context.Context) error {
		var err error
		res, err = c.svc.Messages.List(userID).Q(query).MaxResults(maxResults).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	ids := make([]string, 0, len(res.Messages))
	for _, m := range res.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}
