package mail

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"gatehouse.org/internal/auth"
)

const otpSubject = "Your verification code"

var otpTemplate = template.Must(template.New("otp").Parse(`Hello,

Your verification code is {{.Code}}.

It expires in {{.TTLMinutes}} minutes. If you did not request it, you can
safely ignore this message.
`))

// OtpSender renders one-time codes into a transactional message and hands
// them to the configured mailer.
type OtpSender struct {
	Mailer     Mailer
	TTLMinutes int
}

func (s *OtpSender) SendOtpEmail(ctx context.Context, recipient, code string, purpose auth.Purpose) error {
	ttl := s.TTLMinutes
	if ttl <= 0 {
		ttl = 5
	}

	var body strings.Builder
	if err := otpTemplate.Execute(&body, struct {
		Code       string
		TTLMinutes int
	}{Code: code, TTLMinutes: ttl}); err != nil {
		return fmt.Errorf("mail: render otp template: %w", err)
	}

	subject := otpSubject
	if purpose == auth.PurposeForgotPassword {
		subject = "Your password reset code"
	}

	if err := s.Mailer.Send(ctx, Message{
		To:      recipient,
		Subject: subject,
		Body:    body.String(),
	}); err != nil {
		return fmt.Errorf("%w: %v", auth.ErrEmailFailed, err)
	}
	return nil
}
