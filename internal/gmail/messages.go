package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/tanmaypatil/gmail-chat/internal/logging"
)

const (
	// DefaultMaxResults is the search size used when the caller gives none.
	DefaultMaxResults = 10

	// MaxSearchResults is the largest page the Gmail list API accepts.
	MaxSearchResults = 500

	mimeTextPlain = "text/plain"
	mimeTextHTML  = "text/html"
)

// Search runs a Gmail search query and returns the parsed messages in the
// order Gmail ranked them. It returns an empty slice when nothing matches
// or when any provider call fails.
func (c *Client) Search(ctx context.Context, query string, maxResults int) []MessageDetail {
	switch {
	case maxResults < 1:
		maxResults = DefaultMaxResults
	case maxResults > MaxSearchResults:
		maxResults = MaxSearchResults
	}

	ids, err := c.ListMessageIDs(ctx, query, int64(maxResults))
	if err != nil {
		c.logger.WarnContext(ctx, "search failed", logging.Err(err))
		return []MessageDetail{}
	}

	results := make([]MessageDetail, 0, len(ids))
	for _, id := range ids {
		msg, err := c.GetMessage(ctx, id)
		if err != nil {
			c.logger.WarnContext(ctx, "search result fetch failed", logging.Err(err))
			return []MessageDetail{}
		}
		results = append(results, parseMessage(msg))
	}
	return results
}

// GetContent fetches one message. It returns nil if the message cannot be
// retrieved.
func (c *Client) GetContent(ctx context.Context, messageID string) *MessageDetail {
	msg, err := c.GetMessage(ctx, messageID)
	if err != nil {
		c.logger.WarnContext(ctx, "get message failed", logging.Err(err))
		return nil
	}
	detail := parseMessage(msg)
	return &detail
}

// parseMessage flattens a full-format Gmail message.
func parseMessage(msg *gmail.Message) MessageDetail {
	detail := MessageDetail{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Subject:  DefaultSubject,
		From:     DefaultHeader,
		To:       DefaultHeader,
		Date:     DefaultHeader,
	}

	payload := msg.Payload
	if payload == nil {
		return detail
	}

	detail.Subject = headerOrDefault(payload.Headers, "Subject", DefaultSubject)
	detail.From = headerOrDefault(payload.Headers, "From", DefaultHeader)
	detail.To = headerOrDefault(payload.Headers, "To", DefaultHeader)
	detail.Date = headerOrDefault(payload.Headers, "Date", DefaultHeader)
	detail.Body = messageBody(payload)

	detail.AttachmentCount = len(attachmentParts(payload))
	detail.HasAttachments = detail.AttachmentCount > 0

	return detail
}

// HeaderValue returns the first header matching name case-insensitively.
func HeaderValue(headers []*gmail.MessagePartHeader, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

func headerOrDefault(headers []*gmail.MessagePartHeader, name, fallback string) string {
	if v, ok := HeaderValue(headers, name); ok {
		return v
	}
	return fallback
}

// messageBody picks the text of a message. Body data on the payload itself
// wins. Otherwise the first text/plain part with data is used, and a
// text/html part only fills in while nothing has been found yet.
func messageBody(payload *gmail.MessagePart) string {
	if payload.Body != nil && payload.Body.Data != "" {
		text, _ := decodeData(payload.Body.Data)
		return text
	}

	var body string
	for _, part := range payload.Parts {
		if part == nil || part.Body == nil || part.Body.Data == "" {
			continue
		}
		switch part.MimeType {
		case mimeTextPlain:
			if text, err := decodeData(part.Body.Data); err == nil {
				return text
			}
		case mimeTextHTML:
			if body == "" {
				body, _ = decodeData(part.Body.Data)
			}
		}
	}
	return body
}

// attachmentParts returns the first-level parts that carry a named
// attachment.
func attachmentParts(payload *gmail.MessagePart) []*gmail.MessagePart {
	var parts []*gmail.MessagePart
	for _, part := range payload.Parts {
		if part != nil && part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// decodeData decodes Gmail's base64url payloads, tolerating both padded and
// unpadded input as well as the standard alphabet.
func decodeData(data string) (string, error) {
	raw, err := decodeBytes(data)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeBytes(data string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding, base64.StdEncoding} {
		if raw, err := enc.DecodeString(data); err == nil {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("failed to decode base64 data of length %d", len(data))
}
