// Package notify delivers the post-transfer gift notice. Delivery is
// best-effort; the voucher transfer is already durable when a dispatcher
// runs.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/mail"
	"net/smtp"
	"strings"

	"github.com/nunster3000/rydr-app-sub000/pkg/bank"
)

// SMTPConfig carries SMTP connection settings.
type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	FromEmail     string
	UseSTARTTLS   bool
	SkipTLSVerify bool
	RedeemBaseURL string
}

// SMTPDispatcher sends the gift notice by email.
type SMTPDispatcher struct {
	cfg SMTPConfig
}

// NewSMTPDispatcher validates the configuration and wires a dispatcher.
func NewSMTPDispatcher(cfg SMTPConfig) (*SMTPDispatcher, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("smtp port must be greater than 0")
	}
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, fmt.Errorf("smtp from_email is required")
	}
	if _, err := mail.ParseAddress(cfg.FromEmail); err != nil {
		return nil, fmt.Errorf("invalid smtp from_email: %w", err)
	}
	return &SMTPDispatcher{cfg: cfg}, nil
}

// SendGiftNotice implements bank.Notifier.
func (dispatcher *SMTPDispatcher) SendGiftNotice(_ context.Context, notice bank.GiftNotice) error {
	addr := fmt.Sprintf("%s:%d", dispatcher.cfg.Host, dispatcher.cfg.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("dial smtp server: %w", err)
	}
	defer client.Close()

	if dispatcher.cfg.UseSTARTTLS {
		ok, _ := client.Extension("STARTTLS")
		if !ok {
			return fmt.Errorf("smtp server does not support STARTTLS")
		}
		if err := client.StartTLS(&tls.Config{
			ServerName:         dispatcher.cfg.Host,
			InsecureSkipVerify: dispatcher.cfg.SkipTLSVerify,
		}); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	}

	if strings.TrimSpace(dispatcher.cfg.Username) != "" {
		ok, _ := client.Extension("AUTH")
		if !ok {
			return fmt.Errorf("smtp server does not support AUTH")
		}
		auth := smtp.PlainAuth("", dispatcher.cfg.Username, dispatcher.cfg.Password, dispatcher.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := client.Mail(dispatcher.cfg.FromEmail); err != nil {
		return fmt.Errorf("smtp MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(notice.Email.String()); err != nil {
		return fmt.Errorf("smtp RCPT TO failed: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := writer.Write([]byte(giftNoticeMessage(dispatcher.cfg, notice))); err != nil {
		_ = writer.Close()
		return fmt.Errorf("smtp write body failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("smtp close body failed: %w", err)
	}
	return client.Quit()
}

func giftNoticeMessage(cfg SMTPConfig, notice bank.GiftNotice) string {
	greeting := "Hi"
	if strings.TrimSpace(notice.Name) != "" {
		greeting = "Hi " + strings.TrimSpace(notice.Name)
	}
	var body strings.Builder
	fmt.Fprintf(&body, "From: %s\r\n", cfg.FromEmail)
	fmt.Fprintf(&body, "To: %s\r\n", notice.Email.String())
	body.WriteString("Subject: You received a RydrBank ride code\r\n")
	body.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	sender := "A friend"
	if strings.TrimSpace(notice.SenderName) != "" {
		sender = strings.TrimSpace(notice.SenderName)
	}
	fmt.Fprintf(&body, "%s,\r\n\r\n%s sent you a ride code: %s\r\n", greeting, sender, notice.Value.String())
	fmt.Fprintf(&body, "It covers up to %d miles of one ride.\r\n", bank.VoucherMaxMiles)
	if strings.TrimSpace(cfg.RedeemBaseURL) != "" {
		fmt.Fprintf(&body, "\r\nRedeem it here: %s\r\n", strings.TrimSpace(cfg.RedeemBaseURL))
	}
	return body.String()
}
