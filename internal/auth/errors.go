package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers both unknown email and wrong password so
	// callers cannot probe which factor failed.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrSessionNotFound indicates no session matches the presented device
	// and refresh token pair.
	ErrSessionNotFound = errors.New("auth: session not found")
	// ErrEmailExists indicates a sign-up attempt with a taken email.
	ErrEmailExists = errors.New("auth: email already registered")
	// ErrOtpInvalid indicates the submitted code matched no outstanding OTP.
	ErrOtpInvalid = errors.New("auth: invalid otp")
	// ErrOtpLocked is the sentinel matched by OtpLockedError.
	ErrOtpLocked = errors.New("auth: otp verification locked")
	// ErrResetToken indicates a missing, used or expired password reset token.
	ErrResetToken = errors.New("auth: invalid reset token")
	// ErrEmailFailed indicates a direct mail delivery failure.
	ErrEmailFailed = errors.New("auth: email delivery failed")

	ErrNotFound     = errors.New("auth: not found")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrConflict     = errors.New("auth: already exists")
)

// OtpLockedError reports an active verification lockout. RetryAfter is the
// remaining lock duration so clients can render a countdown.
type OtpLockedError struct {
	RetryAfter time.Duration
}

func (e *OtpLockedError) Error() string {
	return fmt.Sprintf("auth: otp verification locked, retry in %d minute(s)", e.RetryMinutes())
}

// Is lets errors.Is(err, ErrOtpLocked) match regardless of the remaining time.
func (e *OtpLockedError) Is(target error) bool {
	return target == ErrOtpLocked
}

// RetryMinutes returns the remaining lock time rounded up to whole minutes.
func (e *OtpLockedError) RetryMinutes() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	minutes := int((e.RetryAfter + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
