package gmail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	gmail "google.golang.org/api/gmail/v1"
)

func TestMessageBody(t *testing.T) {
	tests := []struct {
		name     string
		payload  *gmail.MessagePart
		expected string
	}{
		{
			name:     "top-level body data wins",
			payload:  &gmail.MessagePart{Body: &gmail.MessagePartBody{Data: b64("top")}, Parts: []*gmail.MessagePart{{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("part")}}}},
			expected: "top",
		},
		{
			name: "plain preferred over html",
			payload: &gmail.MessagePart{Parts: []*gmail.MessagePart{
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>html</p>")}},
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("plain")}},
			}},
			expected: "plain",
		},
		{
			name: "first plain part wins",
			payload: &gmail.MessagePart{Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("first")}},
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("second")}},
			}},
			expected: "first",
		},
		{
			name: "html only",
			payload: &gmail.MessagePart{Parts: []*gmail.MessagePart{
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<b>hi</b>")}},
			}},
			expected: "<b>hi</b>",
		},
		{
			name: "plain part without data is skipped",
			payload: &gmail.MessagePart{Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{}},
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<i>x</i>")}},
			}},
			expected: "<i>x</i>",
		},
		{
			name: "nested multipart is not descended",
			payload: &gmail.MessagePart{Parts: []*gmail.MessagePart{
				{MimeType: "multipart/alternative", Body: &gmail.MessagePartBody{}, Parts: []*gmail.MessagePart{
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("deep")}},
				}},
			}},
			expected: "",
		},
		{
			name:     "no body at all",
			payload:  &gmail.MessagePart{},
			expected: "",
		},
		{
			name:     "unpadded base64url",
			payload:  &gmail.MessagePart{Body: &gmail.MessagePartBody{Data: "aGk"}},
			expected: "hi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, messageBody(tt.payload))
		})
	}
}

func TestParseMessage(t *testing.T) {
	msg := &gmail.Message{
		Id:       "m1",
		ThreadId: "t1",
		Snippet:  "snip",
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "subject", Value: "Quarterly report"},
				{Name: "FROM", Value: "bob@example.com"},
				{Name: "To", Value: "me@example.com"},
				{Name: "Date", Value: "Mon, 1 Jan 2024 10:00:00 +0000"},
				{Name: "Subject", Value: "ignored duplicate"},
			},
			Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("see attached")}},
				{MimeType: "application/pdf", Filename: "report.pdf", Body: &gmail.MessagePartBody{AttachmentId: "a1", Size: 100}},
				{MimeType: "image/png", Filename: "chart.png", Body: &gmail.MessagePartBody{AttachmentId: "a2", Size: 50}},
				{MimeType: "image/png", Filename: "inline.png", Body: &gmail.MessagePartBody{}},
			},
		},
	}

	detail := parseMessage(msg)

	assert.Equal(t, MessageDetail{
		ID:              "m1",
		ThreadID:        "t1",
		Subject:         "Quarterly report",
		From:            "bob@example.com",
		To:              "me@example.com",
		Date:            "Mon, 1 Jan 2024 10:00:00 +0000",
		Body:            "see attached",
		Snippet:         "snip",
		HasAttachments:  true,
		AttachmentCount: 2,
	}, detail)
}

func TestParseMessage_Defaults(t *testing.T) {
	detail := parseMessage(&gmail.Message{Id: "m1", ThreadId: "t1", Payload: &gmail.MessagePart{}})

	assert.Equal(t, DefaultSubject, detail.Subject)
	assert.Equal(t, DefaultHeader, detail.From)
	assert.Equal(t, DefaultHeader, detail.To)
	assert.Equal(t, DefaultHeader, detail.Date)
	assert.False(t, detail.HasAttachments)
	assert.Zero(t, detail.AttachmentCount)
}

func TestHeaderValue(t *testing.T) {
	headers := []*gmail.MessagePartHeader{{Name: "Content-Type", Value: "text/plain"}}

	v, ok := HeaderValue(headers, "content-type")
	assert.True(t, ok)
	assert.Equal(t, "text/plain", v)

	_, ok = HeaderValue(headers, "X-Missing")
	assert.False(t, ok)
}
