// Package notify delivers job result and failure mails.
package notify

import (
	"context"
	"errors"

	"github.com/ignite/catalog-enricher/internal/pkg/logger"
)

// ErrNoRecipient is returned for a message without a To address.
var ErrNoRecipient = errors.New("notify: message has no recipient")

// Attachment is a file carried by a message.
type Attachment struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Message is one plain-text mail.
type Message struct {
	To         string
	Subject    string
	Text       string
	Attachment *Attachment
}

// Notifier sends a message. Failures are reported, never retried here.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct {
	log *logger.Logger
}

func NewLogSender() *LogSender {
	return &LogSender{log: logger.With("component", "notify")}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	fields := []interface{}{"recipient", msg.To, "subject", msg.Subject}
	if msg.Attachment != nil {
		fields = append(fields, "attachment", msg.Attachment.Filename, "attachment_bytes", len(msg.Attachment.Data))
	}
	s.log.Info("mail not sent (log provider)", fields...)
	return nil
}
