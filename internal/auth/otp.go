package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/obs"
)

const otpCodeLength = 6

// SendOtp generates and stores a fresh one-time code for the user and
// dispatches it by mail. Outstanding codes from earlier sends stay valid
// until used or expired; only the attempt gate limits guessing.
func (s *Service) SendOtp(ctx context.Context, email string, purpose Purpose) (time.Time, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		return time.Time{}, err
	}
	if !user.Active {
		return time.Time{}, ErrNotFound
	}

	code, err := generateOtpCode(otpCodeLength)
	if err != nil {
		return time.Time{}, err
	}
	now := s.now().UTC()
	otp := &Otp{
		ID:        ids.New(),
		UserID:    user.ID,
		Code:      code,
		Purpose:   purpose,
		ExpiresAt: now.Add(s.otpTTL),
		CreatedAt: now,
	}
	if err := s.store.Otps(ctx).Create(ctx, otp); err != nil {
		return time.Time{}, err
	}

	// Fire-and-forget: a failed send never rolls back the stored code.
	if s.mailer != nil {
		mailer := s.mailer
		mailCtx := context.WithoutCancel(ctx)
		go func() {
			if err := mailer.SendOtpEmail(mailCtx, email, code, purpose); err != nil {
				obs.LogRequest(map[string]any{
					"level":   "warn",
					"msg":     "otp email delivery failed",
					"purpose": string(purpose),
					"error":   err.Error(),
				})
			}
		}()
	}
	return otp.ExpiresAt, nil
}

// VerifyOtpResult reports a successful verification. For the forgot-password
// purpose it also carries the freshly minted single-use reset token.
type VerifyOtpResult struct {
	ResetToken     string    `json:"reset_token,omitempty"`
	ResetExpiresAt time.Time `json:"reset_expires_at,omitzero"`
}

// VerifyOtp runs the attempt/lockout state machine for (user, purpose):
//
//  1. An active lock fails with OtpLockedError before the code is examined
//     and without consuming an attempt. The boundary is strict: an attempt
//     arriving exactly at LockedUntil is treated as unlocked.
//  2. An expired lock lazily resets the attempt row.
//  3. A wrong code increments the counter atomically; reaching the
//     threshold sets the lock and reports it, otherwise ErrOtpInvalid.
//  4. A correct code is marked used and clears the counter.
func (s *Service) VerifyOtp(ctx context.Context, email, code string, purpose Purpose) (*VerifyOtpResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	otps := s.store.Otps(ctx)
	now := s.now().UTC()

	attempt, err := otps.Attempt(ctx, user.ID, purpose)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if remaining, locked := attempt.LockRemaining(now, s.otpMaxAttempts); locked {
		return nil, &OtpLockedError{RetryAfter: remaining}
	}
	if attempt != nil && attempt.LockedUntil != nil {
		// Lock has lapsed; reset before evaluating this attempt.
		if err := otps.ResetAttempt(ctx, user.ID, purpose); err != nil {
			return nil, err
		}
	}

	otp, err := otps.FindValid(ctx, user.ID, strings.TrimSpace(code), purpose, now)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		updated, incErr := otps.IncrementAttempt(ctx, user.ID, purpose, now, s.otpMaxAttempts, s.otpLockFor)
		if incErr != nil {
			return nil, incErr
		}
		if remaining, locked := updated.LockRemaining(now, s.otpMaxAttempts); locked {
			return nil, &OtpLockedError{RetryAfter: remaining}
		}
		return nil, ErrOtpInvalid
	}

	if err := otps.MarkUsed(ctx, otp.ID); err != nil {
		return nil, err
	}
	if err := otps.ResetAttempt(ctx, user.ID, purpose); err != nil {
		return nil, err
	}

	result := &VerifyOtpResult{}
	if purpose == PurposeForgotPassword {
		reset, err := s.issueResetToken(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		result.ResetToken = reset.Value
		result.ResetExpiresAt = reset.ExpiresAt
	}
	return result, nil
}

func (s *Service) issueResetToken(ctx context.Context, userID string) (*PasswordResetToken, error) {
	value, err := generateOpaqueToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	tok := &PasswordResetToken{
		ID:        ids.New(),
		UserID:    userID,
		Value:     value,
		ExpiresAt: now.Add(s.resetTokenTTL),
		CreatedAt: now,
	}
	if err := s.store.ResetTokens(ctx).Create(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// generateOtpCode draws each digit independently from crypto/rand so the
// code is uniform over [0, 10^length) with no modulo bias.
func generateOtpCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		digit, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate otp digit: %w", err)
		}
		b.WriteByte(byte('0' + digit.Int64()))
	}
	return b.String(), nil
}

func generateOpaqueToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
