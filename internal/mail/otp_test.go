package mail

import (
	"context"
	"strings"
	"testing"

	"gatehouse.org/internal/auth"
)

type captureMailer struct {
	last Message
}

func (c *captureMailer) Send(_ context.Context, msg Message) error {
	c.last = msg
	return nil
}

func TestOtpSenderRendersCode(t *testing.T) {
	capture := &captureMailer{}
	sender := &OtpSender{Mailer: capture, TTLMinutes: 5}

	err := sender.SendOtpEmail(context.Background(), "user@example.com", "482913", auth.PurposeForgotPassword)
	if err != nil {
		t.Fatalf("SendOtpEmail failed: %v", err)
	}
	if capture.last.To != "user@example.com" {
		t.Fatalf("unexpected recipient: %q", capture.last.To)
	}
	if capture.last.Subject != "Your password reset code" {
		t.Fatalf("unexpected subject: %q", capture.last.Subject)
	}
	if !strings.Contains(capture.last.Body, "482913") {
		t.Fatalf("code missing from body: %q", capture.last.Body)
	}
	if !strings.Contains(capture.last.Body, "5 minutes") {
		t.Fatalf("ttl missing from body: %q", capture.last.Body)
	}
}

func TestSMTPMailerRequiresHost(t *testing.T) {
	m := &SMTPMailer{}
	if err := m.Send(context.Background(), Message{To: "user@example.com"}); err == nil {
		t.Fatal("expected error without smtp host")
	}
}
