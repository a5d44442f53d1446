package notify_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/config"
	"github.com/straye-as/salesflow-api/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/gomail.v2"
)

type recordingDialer struct {
	err      error
	delay    time.Duration
	messages []*gomail.Message
}

func (d *recordingDialer) DialAndSend(m ...*gomail.Message) error {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.messages = append(d.messages, m...)
	return d.err
}

func sampleInvoice() notify.Invoice {
	return notify.Invoice{
		To:            "billing@acme.com",
		AccountName:   "Acme",
		QuoteID:       uuid.New(),
		QuoteTitle:    "Website redesign",
		InvoiceNumber: "INV-7",
		Amount:        15000,
	}
}

func TestEmailSender_SendInvoice(t *testing.T) {
	dialer := &recordingDialer{}
	sender := notify.NewEmailSenderWithDialer(dialer, "sales@example.com", "Sales", time.Second, zap.NewNop())
	require.True(t, sender.Enabled())

	inv := sampleInvoice()
	inv.Attachment = &notify.Attachment{Filename: "invoice_7.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")}
	require.NoError(t, sender.SendInvoice(context.Background(), inv))
	require.Len(t, dialer.messages, 1)

	m := dialer.messages[0]
	assert.Equal(t, []string{"billing@acme.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{"Invoice INV-7: Website redesign"}, m.GetHeader("Subject"))

	var raw bytes.Buffer
	_, err := m.WriteTo(&raw)
	require.NoError(t, err)
	assert.Contains(t, raw.String(), "invoice_7.pdf")
	assert.Contains(t, raw.String(), "15000.00")
}

func TestEmailSender_Failures(t *testing.T) {
	logger := zap.NewNop()

	t.Run("disabled", func(t *testing.T) {
		sender := notify.NewEmailSender(&config.SMTPConfig{Enabled: false}, logger)
		assert.False(t, sender.Enabled())
		assert.ErrorIs(t, sender.SendInvoice(context.Background(), sampleInvoice()), notify.ErrDisabled)
	})

	t.Run("no recipient", func(t *testing.T) {
		sender := notify.NewEmailSenderWithDialer(&recordingDialer{}, "sales@example.com", "", time.Second, logger)
		inv := sampleInvoice()
		inv.To = ""
		assert.Error(t, sender.SendInvoice(context.Background(), inv))
	})

	t.Run("smtp refused", func(t *testing.T) {
		refused := errors.New("550 mailbox unavailable")
		sender := notify.NewEmailSenderWithDialer(&recordingDialer{err: refused}, "sales@example.com", "", time.Second, logger)
		assert.ErrorIs(t, sender.SendInvoice(context.Background(), sampleInvoice()), refused)
	})

	t.Run("timeout reports an unconfirmed delivery and logs the late result", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		sender := notify.NewEmailSenderWithDialer(&recordingDialer{delay: 100 * time.Millisecond}, "sales@example.com", "", 10*time.Millisecond, zap.New(core))

		err := sender.SendInvoice(context.Background(), sampleInvoice())
		assert.ErrorIs(t, err, notify.ErrDeliveryUnconfirmed)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		assert.Eventually(t, func() bool {
			return logs.FilterMessage("Unconfirmed invoice email was delivered after the timeout").Len() == 1
		}, time.Second, 10*time.Millisecond)
	})
}
