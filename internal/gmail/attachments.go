package gmail

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/tanmaypatil/gmail-chat/internal/logging"
)

const (
	// MaxAttachmentSize defines the maximum attachment size in bytes (25MB)
	MaxAttachmentSize = 25 * 1024 * 1024

	// maxDiskBaseLen bounds the display name carried over to the on-disk name.
	maxDiskBaseLen = 120

	// maxExtensionLen bounds the extension preserved when that name is cut.
	maxExtensionLen = 16
)

// ListAttachments returns the attachments found on the first level of a
// message's parts. It returns an empty slice if the message has none or
// cannot be fetched.
func (c *Client) ListAttachments(ctx context.Context, messageID string) []AttachmentMeta {
	msg, err := c.GetMessage(ctx, messageID)
	if err != nil {
		c.logger.WarnContext(ctx, "list attachments failed", logging.Err(err))
		return []AttachmentMeta{}
	}
	if msg.Payload == nil {
		return []AttachmentMeta{}
	}

	parts := attachmentParts(msg.Payload)
	attachments := make([]AttachmentMeta, 0, len(parts))
	for _, part := range parts {
		attachments = append(attachments, AttachmentMeta{
			Filename:     part.Filename,
			MimeType:     part.MimeType,
			Size:         part.Body.Size,
			AttachmentID: part.Body.AttachmentId,
		})
	}
	return attachments
}

// GetAttachment retrieves and decodes the content of an attachment.
func (c *Client) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	if messageID == "" {
		return nil, errors.New("messageID is required")
	}
	if attachmentID == "" {
		return nil, errors.New("attachmentID is required")
	}

	var body *gmail.MessagePartBody
	err := c.observe(ctx, "attachment", attachmentID, func(ctx context.Context) error {
		var err error
		body, err = c.svc.Messages.Attachments.Get(userID, messageID, attachmentID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment %s: %w", attachmentID, err)
	}

	if body.Size > MaxAttachmentSize {
		return nil, fmt.Errorf("attachment size %d exceeds maximum size %d", body.Size, MaxAttachmentSize)
	}

	data, err := decodeBytes(body.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment data: %w", err)
	}
	if len(data) > MaxAttachmentSize {
		return nil, fmt.Errorf("attachment size %d exceeds maximum size %d", len(data), MaxAttachmentSize)
	}
	return data, nil
}

// DownloadAttachment fetches an attachment and stores it under the
// downloads directory under DiskName. It returns nil on any failure, in
// which case nothing is left on disk.
func (c *Client) DownloadAttachment(ctx context.Context, messageID, attachmentID, filename string) *DownloadedFile {
	data, err := c.GetAttachment(ctx, messageID, attachmentID)
	if err != nil {
		c.logger.WarnContext(ctx, "download attachment failed", logging.Err(err))
		return nil
	}

	path, err := c.writeDownload(messageID, attachmentID, filename, data)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to store attachment", logging.Err(err))
		return nil
	}

	display := SanitizeFilename(filename)
	if display == "" {
		display = filepath.Base(path)
	}

	return &DownloadedFile{
		Path:     path,
		Filename: display,
		Size:     int64(len(data)),
	}
}

// writeDownload writes data to a temporary file and renames it into place
// so a partially written file is never observable at the final path.
func (c *Client) writeDownload(messageID, attachmentID, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(c.downloadsDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create downloads directory: %w", err)
	}

	tmp, err := os.CreateTemp(c.downloadsDir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write attachment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close attachment file: %w", err)
	}

	path := filepath.Join(c.downloadsDir, DiskName(messageID, attachmentID, filename))
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("failed to move attachment into place: %w", err)
	}
	return path, nil
}

// DiskName returns the stored file name for an attachment: a digest of the
// message ID, attachment ID and display name, followed by the sanitized
// display name. Leading dots are dropped and long names are cut, keeping a
// short extension.
func DiskName(messageID, attachmentID, filename string) string {
	sum := sha256.Sum256([]byte(messageID + "\x00" + attachmentID + "\x00" + filename))
	prefix := hex.EncodeToString(sum[:8])

	base := strings.TrimLeft(SanitizeFilename(filename), ". ")
	if base == "" {
		return prefix
	}
	if len(base) > maxDiskBaseLen {
		ext := filepath.Ext(base)
		if len(ext) > maxExtensionLen {
			ext = ""
		}
		stem := strings.TrimSuffix(base, ext)
		for len(stem)+len(ext) > maxDiskBaseLen {
			_, size := utf8.DecodeLastRuneInString(stem)
			stem = stem[:len(stem)-size]
		}
		base = stem + ext
	}
	return prefix + "_" + base
}

// SanitizeFilename strips path elements and control characters from a
// user-visible file name.
func SanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "/", "_")
	filename = strings.ReplaceAll(filename, "\\", "_")
	filename = strings.ReplaceAll(filename, "..", "_")
	filename = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '"' {
			return -1
		}
		return r
	}, filename)
	return strings.TrimSpace(filename)
}
