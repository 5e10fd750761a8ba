package gmail

// Header fallbacks used when a message lacks the header.
const (
	DefaultSubject = "No Subject"
	DefaultHeader  = "Unknown"
)

// MessageDetail is the parsed view of a Gmail message handed to the model.
// Search results and single-message lookups share this shape.
type MessageDetail struct {
	ID              string `json:"id"`
	ThreadID        string `json:"threadId"`
	Subject         string `json:"subject"`
	From            string `json:"from"`
	To              string `json:"to"`
	Date            string `json:"date"`
	Body            string `json:"body"`
	Snippet         string `json:"snippet"`
	HasAttachments  bool   `json:"hasAttachments"`
	AttachmentCount int    `json:"attachmentCount"`
}

// AttachmentMeta describes one attachment part of a message.
type AttachmentMeta struct {
	Filename     string `json:"filename"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	AttachmentID string `json:"attachmentId"`
}

// DownloadedFile is an attachment persisted under the downloads directory.
// Path is the on-disk location, which never contains caller-supplied text.
// Filename is the name to present to the user.
type DownloadedFile struct {
	Path     string
	Filename string
	Size     int64
}
