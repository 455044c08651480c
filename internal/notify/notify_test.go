package notify

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/nunster3000/rydr-app-sub000/pkg/bank"
)

func TestGiftNoticeMessage(t *testing.T) {
	t.Parallel()
	cfg := SMTPConfig{
		FromEmail:     "noreply@rydr.example.com",
		RedeemBaseURL: "https://rydr.example.com/redeem",
	}
	notice := bank.GiftNotice{
		Email:      mustEmail(t, "friend@example.com"),
		Name:       "Jordan",
		Value:      mustCodeValue(t, "RYDR-AB23-CD45"),
		SenderName: "Casey",
	}

	message := giftNoticeMessage(cfg, notice)
	for _, fragment := range []string{
		"From: noreply@rydr.example.com",
		"To: friend@example.com",
		"Hi Jordan,",
		"Casey sent you a ride code: RYDR-AB23-CD45",
		"up to 15 miles",
		"https://rydr.example.com/redeem",
	} {
		if !strings.Contains(message, fragment) {
			t.Fatalf("message missing %q:\n%s", fragment, message)
		}
	}
}

func TestGiftNoticeMessageWithoutNameOrRedeemURL(t *testing.T) {
	t.Parallel()
	cfg := SMTPConfig{FromEmail: "noreply@rydr.example.com"}
	notice := bank.GiftNotice{
		Email: mustEmail(t, "friend@example.com"),
		Value: mustCodeValue(t, "RYDR-EF67-GH89"),
	}

	message := giftNoticeMessage(cfg, notice)
	if !strings.Contains(message, "Hi,") {
		t.Fatalf("expected anonymous greeting:\n%s", message)
	}
	if !strings.Contains(message, "A friend sent you a ride code") {
		t.Fatalf("expected anonymous sender line:\n%s", message)
	}
	if strings.Contains(message, "Redeem it here") {
		t.Fatalf("expected no redeem link:\n%s", message)
	}
}

func TestNewSMTPDispatcherValidatesConfig(t *testing.T) {
	t.Parallel()
	valid := SMTPConfig{Host: "smtp.example.com", Port: 587, FromEmail: "noreply@rydr.example.com"}
	if _, err := NewSMTPDispatcher(valid); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(cfg *SMTPConfig)
	}{
		{name: "missing host", mutate: func(cfg *SMTPConfig) { cfg.Host = "" }},
		{name: "zero port", mutate: func(cfg *SMTPConfig) { cfg.Port = 0 }},
		{name: "missing from", mutate: func(cfg *SMTPConfig) { cfg.FromEmail = "" }},
		{name: "malformed from", mutate: func(cfg *SMTPConfig) { cfg.FromEmail = "not-an-address" }},
	}
	for _, testCase := range cases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid
			testCase.mutate(&cfg)
			if _, err := NewSMTPDispatcher(cfg); err == nil {
				t.Fatalf("expected rejection")
			}
		})
	}
}

func TestLogDispatcherNeverFails(t *testing.T) {
	t.Parallel()
	dispatcher := NewLogDispatcher(zap.NewNop())
	notice := bank.GiftNotice{
		Email: mustEmail(t, "quiet@example.com"),
		Value: mustCodeValue(t, "RYDR-JK23-MN45"),
	}
	if err := dispatcher.SendGiftNotice(context.Background(), notice); err != nil {
		t.Fatalf("log dispatcher: %v", err)
	}
}

func mustEmail(t *testing.T, raw string) bank.Email {
	t.Helper()
	email, err := bank.NewEmail(raw)
	if err != nil {
		t.Fatalf("email: %v", err)
	}
	return email
}

func mustCodeValue(t *testing.T, raw string) bank.CodeValue {
	t.Helper()
	value, err := bank.NewCodeValue(raw)
	if err != nil {
		t.Fatalf("code value: %v", err)
	}
	return value
}
