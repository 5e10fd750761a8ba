package server

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tanmaypatil/gmail-chat/internal/agent"
	"github.com/tanmaypatil/gmail-chat/internal/logging"
)

// ChatRequest is the body of /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// DownloadRequest is the body of /api/download-attachment.
type DownloadRequest struct {
	MessageID    string `json:"message_id"`
	AttachmentID string `json:"attachment_id"`
	Filename     string `json:"filename"`
}

// mailbox binds a mailbox client to the session on the request context.
func (s *Server) mailbox(r *http.Request) (Mailbox, error) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		return nil, errors.New("no session on request")
	}
	client, err := s.store.HTTPClient(r.Context(), sess.ID)
	if err != nil {
		return nil, err
	}
	return s.mailboxes(r.Context(), client)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ChatRequest
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		s.logger.WarnContext(ctx, "rejected chat request", logging.Err(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Message == "" {
		s.logger.WarnContext(ctx, "rejected chat request", slog.String("reason", "empty message"))
		writeError(w, http.StatusBadRequest, "No message provided")
		return
	}

	mb, err := s.mailbox(r)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create mailbox client", logging.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := s.agent.Run(ctx, req.Message, mb)
	if err != nil {
		s.logger.ErrorContext(ctx, "chat failed", logging.Err(err))
		status := http.StatusInternalServerError
		if errors.Is(err, agent.ErrEmptyMessage) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req DownloadRequest
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		s.logger.WarnContext(ctx, "rejected download request", logging.Err(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MessageID == "" || req.AttachmentID == "" || req.Filename == "" {
		s.logger.WarnContext(ctx, "rejected download request", slog.String("reason", "missing parameters"))
		writeError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}

	mb, err := s.mailbox(r)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create mailbox client", logging.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	dl := mb.DownloadAttachment(ctx, req.MessageID, req.AttachmentID, req.Filename)
	if dl == nil {
		s.logger.ErrorContext(ctx, "attachment download failed", slog.String("message_id", req.MessageID))
		writeError(w, http.StatusInternalServerError, "Failed to download attachment")
		return
	}

	f, err := os.Open(dl.Path)
	if err != nil {
		s.logger.ErrorContext(ctx, "downloaded file vanished", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to download attachment")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to stat downloaded file", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to download attachment")
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(dl.Filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename}))
	http.ServeContent(w, r, "", info.ModTime(), f)
}
