// Package gmail is the mailbox client used by the chat assistant.
//
// A Client is bound to one signed-in user through the authenticated
// *http.Client it is built from. It offers four operations: Search,
// GetContent, ListAttachments and DownloadAttachment. Provider errors are
// logged and downgraded to empty results or nil values so a single failing
// Gmail call never aborts a chat turn.
//
// Example usage:
//
//	client, err := gmail.NewClient(ctx, httpClient, gmail.WithDownloadsDir("downloads"))
//	if err != nil {
//	    return err
//	}
//
//	for _, msg := range client.Search(ctx, "has:attachment newer_than:7d", 10) {
//	    fmt.Println(msg.Subject, msg.AttachmentCount)
//	}
//
// Only the first level of a message's MIME parts is inspected when
// extracting the body or attachments. Nested multipart structures are not
// descended into.
package gmail
