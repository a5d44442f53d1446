// Package notify delivers invoices to clients by e-mail
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/config"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

var (
	// ErrDisabled is returned when SMTP delivery is switched off
	ErrDisabled = errors.New("e-mail delivery is not enabled")
	// ErrDeliveryUnconfirmed is returned when the timeout elapsed before the
	// SMTP server answered. The message may still be delivered.
	ErrDeliveryUnconfirmed = errors.New("invoice email delivery unconfirmed")
)

// Dialer sends prepared messages; *gomail.Dialer satisfies it
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Attachment is a document attached to the invoice e-mail
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Invoice is the content of one invoice e-mail
type Invoice struct {
	To            string
	AccountName   string
	QuoteID       uuid.UUID
	QuoteTitle    string
	InvoiceNumber string
	Amount        float64
	Attachment    *Attachment
}

var invoiceBody = template.Must(template.New("invoice").Parse(`
<h2>Invoice{{if .InvoiceNumber}} {{.InvoiceNumber}}{{end}}</h2>
<p>Dear {{if .AccountName}}{{.AccountName}}{{else}}customer{{end}},</p>
<p>Please find the invoice for <strong>{{.QuoteTitle}}</strong> with a total of <strong>{{printf "%.2f" .Amount}}</strong>.</p>
{{if .Attachment}}<p>The invoice document is attached to this e-mail.</p>{{end}}
<p>Best regards,<br>{{.FromName}}</p>
`))

// EmailSender delivers invoice e-mails synchronously over SMTP
type EmailSender struct {
	dialer   Dialer
	from     string
	fromName string
	timeout  time.Duration
	enabled  bool
	logger   *zap.Logger
}

// NewEmailSender builds a sender from the SMTP configuration
func NewEmailSender(cfg *config.SMTPConfig, logger *zap.Logger) *EmailSender {
	var dialer Dialer
	if cfg.Enabled {
		dialer = gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	}
	return NewEmailSenderWithDialer(dialer, cfg.From, cfg.FromName, cfg.TimeoutDuration(), logger)
}

// NewEmailSenderWithDialer builds a sender around any Dialer. A nil dialer
// yields a disabled sender.
func NewEmailSenderWithDialer(dialer Dialer, from, fromName string, timeout time.Duration, logger *zap.Logger) *EmailSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &EmailSender{
		dialer:   dialer,
		from:     from,
		fromName: fromName,
		timeout:  timeout,
		enabled:  dialer != nil,
		logger:   logger,
	}
}

// Enabled reports whether the sender can deliver
func (s *EmailSender) Enabled() bool {
	return s.enabled
}

// SendInvoice composes and sends the invoice e-mail. It returns only after
// the SMTP server accepted or refused the message, or the timeout elapsed.
// After a timeout the send keeps running and may still succeed, so delivery
// is at-least-once across retries.
func (s *EmailSender) SendInvoice(ctx context.Context, inv Invoice) error {
	if !s.enabled {
		return ErrDisabled
	}
	if inv.To == "" {
		return fmt.Errorf("invoice e-mail has no recipient")
	}

	m, err := s.compose(inv)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send invoice email: %w", err)
		}
	case <-ctx.Done():
		go s.logLateResult(inv, done)
		return fmt.Errorf("%w: %w", ErrDeliveryUnconfirmed, ctx.Err())
	}

	s.logger.Info("Invoice email sent",
		zap.String("quote_id", inv.QuoteID.String()),
		zap.String("to", inv.To),
		zap.Bool("attachment", inv.Attachment != nil),
	)
	return nil
}

// logLateResult records how a send that outlived its timeout ended, so a
// duplicate after a retry can be traced
func (s *EmailSender) logLateResult(inv Invoice, done <-chan error) {
	fields := []zap.Field{zap.String("quote_id", inv.QuoteID.String()), zap.String("to", inv.To)}
	if err := <-done; err != nil {
		s.logger.Warn("Unconfirmed invoice email failed", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Warn("Unconfirmed invoice email was delivered after the timeout", fields...)
}

func (s *EmailSender) compose(inv Invoice) (*gomail.Message, error) {
	var body bytes.Buffer
	data := struct {
		Invoice
		FromName string
	}{Invoice: inv, FromName: s.fromName}
	if err := invoiceBody.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("failed to render invoice email: %w", err)
	}

	subject := "Invoice for " + inv.QuoteTitle
	if inv.InvoiceNumber != "" {
		subject = fmt.Sprintf("Invoice %s: %s", inv.InvoiceNumber, inv.QuoteTitle)
	}

	m := gomail.NewMessage()
	if s.fromName != "" {
		m.SetAddressHeader("From", s.from, s.fromName)
	} else {
		m.SetHeader("From", s.from)
	}
	m.SetHeader("To", inv.To)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body.String())

	if a := inv.Attachment; a != nil {
		payload := a.Data
		m.Attach(a.Filename,
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(payload)
				return err
			}),
			gomail.SetHeader(map[string][]string{"Content-Type": {a.ContentType}}),
		)
	}
	return m, nil
}
