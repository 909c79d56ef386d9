// Package notifier delivers alert notifications to their recipients over
// SMTPS (implicit TLS, typically port 465).
package notifier

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"flightwatch/internal/conf"
	"flightwatch/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// SMTPSender sends one email per notification through an SMTPS endpoint.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	sender   string
	logger   *log.Helper
}

// NewSMTPSender creates an SMTP sender from configuration.
func NewSMTPSender(c *conf.SMTP, logger log.Logger) *SMTPSender {
	return &SMTPSender{
		host:     c.Host,
		port:     int(c.Port),
		username: c.Username,
		password: c.Password,
		sender:   c.Sender,
		logger:   log.NewHelper(logger),
	}
}

// Send delivers one notification. The connection honours the context
// deadline for dialing; the SMTP conversation itself is bounded by the
// connection deadline set below.
func (s *SMTPSender) Send(ctx context.Context, n *model.Notification) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: s.host})
	if err != nil {
		return fmt.Errorf("smtp: failed to connect to %s: %w", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(time.Minute))
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp: handshake failed: %w", err)
	}
	defer client.Close()

	if err := client.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
		return fmt.Errorf("smtp: authentication failed: %w", err)
	}

	if err := client.Mail(s.sender); err != nil {
		return fmt.Errorf("smtp: MAIL FROM rejected: %w", err)
	}
	if err := client.Rcpt(n.Email); err != nil {
		return fmt.Errorf("smtp: RCPT TO rejected: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp: DATA rejected: %w", err)
	}
	if _, err := w.Write(formatMessage(s.sender, n)); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp: failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp: failed to finish message: %w", err)
	}

	return client.Quit()
}

// formatMessage renders the notification as an RFC 5322 message.
func formatMessage(sender string, n *model.Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", sender)
	fmt.Fprintf(&b, "To: %s\r\n", n.Email)
	fmt.Fprintf(&b, "Subject: %s\r\n", n.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(n.Body, "\n", "\r\n"))
	return []byte(b.String())
}
