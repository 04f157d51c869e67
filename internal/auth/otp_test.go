package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

type captureMailer struct {
	codes chan string
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{codes: make(chan string, 8)}
}

func (m *captureMailer) SendOtpEmail(_ context.Context, _ string, code string, _ Purpose) error {
	m.codes <- code
	return nil
}

// wait blocks for the asynchronously dispatched code.
func (m *captureMailer) wait(t *testing.T) string {
	t.Helper()
	select {
	case code := <-m.codes:
		return code
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for otp mail")
		return ""
	}
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestSendOtpDeliversCode(t *testing.T) {
	mailer := newCaptureMailer()
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t,
		WithMailer(mailer),
		WithClock(func() time.Time { return current }),
	)
	ctx := context.Background()
	mustSignUp(t, svc, "jane@example.com", "correct-horse")

	expiresAt, err := svc.SendOtp(ctx, "jane@example.com", PurposeForgotPassword)
	if err != nil {
		t.Fatalf("SendOtp: %v", err)
	}
	if want := current.Add(5 * time.Minute); !expiresAt.Equal(want) {
		t.Fatalf("expiry = %v, want %v", expiresAt, want)
	}

	code := mailer.wait(t)
	if len(code) != 6 {
		t.Fatalf("code %q is not 6 digits", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("code %q contains non-digit", code)
		}
	}
}

func TestSendOtpInactiveUser(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	user := mustSignUp(t, svc, "jane@example.com", "correct-horse")

	inactive := false
	if _, err := store.Users(ctx).Update(ctx, user.ID, UserUpdate{Active: &inactive}); err != nil {
		t.Fatalf("deactivate user: %v", err)
	}
	if _, err := svc.SendOtp(ctx, "jane@example.com", PurposeForgotPassword); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVerifyOtpHappyPath(t *testing.T) {
	mailer := newCaptureMailer()
	svc, _ := newTestService(t, WithMailer(mailer))
	ctx := context.Background()
	mustSignUp(t, svc, "jane@example.com", "correct-horse")

	if _, err := svc.SendOtp(ctx, "jane@example.com", PurposeForgotPassword); err != nil {
		t.Fatalf("SendOtp: %v", err)
	}
	code := mailer.wait(t)

	result, err := svc.VerifyOtp(ctx, "jane@example.com", code, PurposeForgotPassword)
	if err != nil {
		t.Fatalf("VerifyOtp: %v", err)
	}
	if result.ResetToken == "" {
		t.Fatal("forgot-password verification must mint a reset token")
	}
	if result.ResetExpiresAt.IsZero() {
		t.Fatal("reset token expiry missing")
	}

	// Codes are single use.
	if _, err := svc.VerifyOtp(ctx, "jane@example.com", code, PurposeForgotPassword); !errors.Is(err, ErrOtpInvalid) {
		t.Fatalf("reused code: expected ErrOtpInvalid, got %v", err)
	}
}

func TestVerifyOtpLockout(t *testing.T) {
	mailer := newCaptureMailer()
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t,
		WithMailer(mailer),
		WithOtpLockout(3, 2*time.Minute),
		WithClock(func() time.Time { return current }),
	)
	ctx := context.Background()
	mustSignUp(t, svc, "jane@example.com", "correct-horse")

	if _, err := svc.SendOtp(ctx, "jane@example.com", PurposeForgotPassword); err != nil {
		t.Fatalf("SendOtp: %v", err)
	}
	code := mailer.wait(t)
	bad := wrongCode(code)

	for i := 0; i < 2; i++ {
		if _, err := svc.VerifyOtp(ctx, "jane@example.com", bad, PurposeForgotPassword); !errors.Is(err, ErrOtpInvalid) {
			t.Fatalf("attempt %d: expected ErrOtpInvalid, got %v", i+1, err)
		}
	}

	var lockErr *OtpLockedError
	if _, err := svc.VerifyOtp(ctx, "jane@example.com", bad, PurposeForgotPassword); !errors.As(err, &lockErr) {
		t.Fatalf("third failure: expected OtpLockedError, got %v", err)
	}
	if lockErr.RetryAfter <= 0 || lockErr.RetryAfter > 2*time.Minute {
		t.Fatalf("unexpected retry-after: %v", lockErr.RetryAfter)
	}

	// While locked even the right code is rejected before being examined.
	if _, err := svc.VerifyOtp(ctx, "jane@example.com", code, PurposeForgotPassword); !errors.As(err, &lockErr) {
		t.Fatalf("locked verify with right code: expected OtpLockedError, got %v", err)
	}

	// Exactly at LockedUntil the lock no longer applies; the row is lazily
	// reset and the still-valid code succeeds.
	current = current.Add(2 * time.Minute)
	if _, err := svc.VerifyOtp(ctx, "jane@example.com", code, PurposeForgotPassword); err != nil {
		t.Fatalf("verify at lock boundary: %v", err)
	}
}

func TestVerifyOtpSuccessResetsAttempts(t *testing.T) {
	mailer := newCaptureMailer()
	svc, _ := newTestService(t, WithMailer(mailer))
	ctx := context.Background()
	mustSignUp(t, svc, "jane@example.com", "correct-horse")

	if _, err := svc.SendOtp(ctx, "jane@example.com", PurposeForgotPassword); err != nil {
		t.Fatalf("SendOtp: %v", err)
	}
	first := mailer.wait(t)
	bad := wrongCode(first)

	for i := 0; i < 2; i++ {
		if _, err := svc.VerifyOtp(ctx, "jane@example.com", bad, PurposeForgotPassword); !errors.Is(err, ErrOtpInvalid) {
			t.Fatalf("warm-up attempt %d: expected ErrOtpInvalid, got %v", i+1, err)
		}
	}
	if _, err := svc.VerifyOtp(ctx, "jane@example.com", first, PurposeForgotPassword); err != nil {
		t.Fatalf("VerifyOtp: %v", err)
	}

	// The counter is back at zero: two more failures stay below the lock
	// threshold.
	if _, err := svc.SendOtp(ctx, "jane@example.com", PurposeForgotPassword); err != nil {
		t.Fatalf("second SendOtp: %v", err)
	}
	mailer.wait(t)
	for i := 0; i < 2; i++ {
		if _, err := svc.VerifyOtp(ctx, "jane@example.com", bad, PurposeForgotPassword); !errors.Is(err, ErrOtpInvalid) {
			t.Fatalf("post-success attempt %d: expected ErrOtpInvalid, got %v", i+1, err)
		}
	}
}

func TestResetPasswordFlow(t *testing.T) {
	mailer := newCaptureMailer()
	svc, _ := newTestService(t, WithMailer(mailer))
	ctx := context.Background()
	mustSignUp(t, svc, "jane@example.com", "correct-horse")

	if _, err := svc.ForgotPassword(ctx, "jane@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	code := mailer.wait(t)
	result, err := svc.VerifyOtp(ctx, "jane@example.com", code, PurposeForgotPassword)
	if err != nil {
		t.Fatalf("VerifyOtp: %v", err)
	}

	if err := svc.ResetPassword(ctx, "short", result.ResetToken); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("short password: expected ErrInvalidInput, got %v", err)
	}
	if err := svc.ResetPassword(ctx, "brand-new-password", ""); !errors.Is(err, ErrResetToken) {
		t.Fatalf("empty token: expected ErrResetToken, got %v", err)
	}

	if err := svc.ResetPassword(ctx, "brand-new-password", result.ResetToken); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, err := svc.ValidateCredentials(ctx, "jane@example.com", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("old password still validates after reset")
	}
	if _, err := svc.ValidateCredentials(ctx, "jane@example.com", "brand-new-password"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}

	// The token is single use.
	if err := svc.ResetPassword(ctx, "yet-another-password", result.ResetToken); !errors.Is(err, ErrResetToken) {
		t.Fatalf("token replay: expected ErrResetToken, got %v", err)
	}
}

func TestResetPasswordPurgesOutstandingTokens(t *testing.T) {
	mailer := newCaptureMailer()
	svc, _ := newTestService(t, WithMailer(mailer))
	ctx := context.Background()
	mustSignUp(t, svc, "jane@example.com", "correct-horse")

	issueToken := func() string {
		t.Helper()
		if _, err := svc.ForgotPassword(ctx, "jane@example.com"); err != nil {
			t.Fatalf("ForgotPassword: %v", err)
		}
		code := mailer.wait(t)
		result, err := svc.VerifyOtp(ctx, "jane@example.com", code, PurposeForgotPassword)
		if err != nil {
			t.Fatalf("VerifyOtp: %v", err)
		}
		return result.ResetToken
	}

	first := issueToken()
	second := issueToken()

	if err := svc.ResetPassword(ctx, "brand-new-password", first); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	// Consuming one token invalidates every other outstanding token.
	if err := svc.ResetPassword(ctx, "another-password-1", second); !errors.Is(err, ErrResetToken) {
		t.Fatalf("purged token: expected ErrResetToken, got %v", err)
	}
}
