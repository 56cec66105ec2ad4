// Package mailer delivers circulation notices over SMTP. The engine
// only consumes the success/failure of each send; message content and
// transport live here.
package mailer

import (
	"context"
	"fmt"
	"time"

	mail "github.com/wneessen/go-mail"
)

// Sender sends due-reminder and overdue notices via an SMTP relay
// (Mailhog in development).
type Sender struct {
	client *mail.Client
	from   string
}

// NewSender creates an SMTP sender. The timeout bounds each delivery
// attempt; a timed-out send is reported as failed.
func NewSender(host string, port int, from string, timeout time.Duration) (*Sender, error) {
	client, err := mail.NewClient(host,
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.NoTLS),
		mail.WithTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	return &Sender{client: client, from: from}, nil
}

// SendDueReminder sends the due-soon reminder for one loan
func (s *Sender) SendDueReminder(ctx context.Context, to, fullName, bookTitle, dueDate string) error {
	subject := fmt.Sprintf("Reminder: %q is due soon", bookTitle)
	body := fmt.Sprintf(`<h2>Library Due Date Reminder</h2>
<p>Dear %s,</p>
<p>This is a friendly reminder that the following book is due soon:</p>
<ul>
  <li><strong>Book:</strong> %s</li>
  <li><strong>Due Date:</strong> %s</li>
</ul>
<p>Please return or renew the book before the due date to avoid overdue charges.</p>
<p>Thank you,<br>Library Management System</p>`, fullName, bookTitle, dueDate)

	return s.send(ctx, to, subject, body)
}

// SendOverdueNotice sends the overdue notice for one loan
func (s *Sender) SendOverdueNotice(ctx context.Context, to, fullName, bookTitle, dueDate string) error {
	subject := fmt.Sprintf("OVERDUE: %q - Please Return Immediately", bookTitle)
	body := fmt.Sprintf(`<h2>Overdue Book Notice</h2>
<p>Dear %s,</p>
<p>The following book is now <strong>OVERDUE</strong>:</p>
<ul>
  <li><strong>Book:</strong> %s</li>
  <li><strong>Due Date:</strong> %s</li>
</ul>
<p>Please return the book as soon as possible.</p>
<p>Thank you,<br>Library Management System</p>`, fullName, bookTitle, dueDate)

	return s.send(ctx, to, subject, body)
}

func (s *Sender) send(ctx context.Context, to, subject, htmlBody string) error {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}
