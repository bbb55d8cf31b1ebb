package mail

import "context"

// RawMessage is one fetched message: its IMAP UID and its unparsed
// RFC 5322 bytes.
type RawMessage struct {
	UID int64
	Raw []byte
}

// Source abstracts the IMAP side of MailLoop so the polling/cursor
// logic in loop.go can be tested without a real IMAP server. imap.go
// provides the production implementation over github.com/emersion/go-imap/v2.
type Source interface {
	// EnsureSession makes sure there is a live, authenticated session
	// with the configured folder selected, reconnecting if necessary.
	EnsureSession(ctx context.Context) error

	// FetchNewSince returns every message with UID strictly greater
	// than lastUID, in ascending UID order.
	FetchNewSince(ctx context.Context, lastUID int64) ([]RawMessage, error)

	Close() error
}

// Sink abstracts the SMTP reply path.
type Sink interface {
	// SendReply delivers a plain-text reply to to with subject/body.
	SendReply(ctx context.Context, to, subject, body string) error
}
