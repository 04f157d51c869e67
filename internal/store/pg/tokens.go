package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gatehouse.org/internal/auth"
)

type sessionStore Store

var _ auth.SessionStore = (*sessionStore)(nil)

func (s *sessionStore) FindByDeviceAndRefresh(ctx context.Context, deviceID, refreshValue string) (*auth.Session, error) {
	var sess auth.Session
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, device_id,
		       access_token, access_expires_at,
		       refresh_token, refresh_expires_at,
		       created_at, updated_at
		from sessions
		where device_id = $1 and refresh_token = $2
	`, deviceID, refreshValue).Scan(
		&sess.ID, &sess.UserID, &sess.DeviceID,
		&sess.Access.Value, &sess.Access.ExpiresAt,
		&sess.Refresh.Value, &sess.Refresh.ExpiresAt,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *sessionStore) Upsert(ctx context.Context, sess *auth.Session) error {
	// One live token pair per (user, device); a second sign-in from the
	// same device replaces the tokens in place.
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, user_id, device_id, access_token, access_expires_at, refresh_token, refresh_expires_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (user_id, device_id) do update set
			access_token = excluded.access_token,
			access_expires_at = excluded.access_expires_at,
			refresh_token = excluded.refresh_token,
			refresh_expires_at = excluded.refresh_expires_at,
			updated_at = now()
	`, sess.ID, sess.UserID, sess.DeviceID,
		sess.Access.Value, sess.Access.ExpiresAt,
		sess.Refresh.Value, sess.Refresh.ExpiresAt,
	)
	return err
}

func (s *sessionStore) DeleteByDevice(ctx context.Context, deviceID string) error {
	_, err := s.db.ExecContext(ctx, `delete from sessions where device_id = $1`, deviceID)
	return err
}

type otpStore Store

var _ auth.OtpStore = (*otpStore)(nil)

func (s *otpStore) Create(ctx context.Context, otp *auth.Otp) error {
	row := s.db.QueryRowContext(ctx, `
		insert into otps (id, user_id, code, purpose, used, expires_at)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at
	`, otp.ID, otp.UserID, otp.Code, otp.Purpose, otp.Used, otp.ExpiresAt)
	return row.Scan(&otp.CreatedAt)
}

func (s *otpStore) FindValid(ctx context.Context, userID, code string, purpose auth.Purpose, now time.Time) (*auth.Otp, error) {
	var otp auth.Otp
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, code, purpose, used, expires_at, created_at
		from otps
		where user_id = $1 and code = $2 and purpose = $3
		  and used = false and expires_at > $4
		order by created_at desc
		limit 1
	`, userID, code, purpose, now).Scan(
		&otp.ID, &otp.UserID, &otp.Code, &otp.Purpose, &otp.Used, &otp.ExpiresAt, &otp.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &otp, nil
}

func (s *otpStore) MarkUsed(ctx context.Context, otpID string) error {
	res, err := s.db.ExecContext(ctx, `update otps set used = true where id = $1`, otpID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *otpStore) Attempt(ctx context.Context, userID string, purpose auth.Purpose) (*auth.OtpAttempt, error) {
	var (
		att    auth.OtpAttempt
		locked sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select user_id, purpose, attempts, last_attempt_at, locked_until
		from otp_attempts
		where user_id = $1 and purpose = $2
	`, userID, purpose).Scan(&att.UserID, &att.Purpose, &att.Attempts, &att.LastAttemptAt, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if locked.Valid {
		t := locked.Time
		att.LockedUntil = &t
	}
	return &att, nil
}

func (s *otpStore) IncrementAttempt(ctx context.Context, userID string, purpose auth.Purpose, now time.Time, maxAttempts int, lockFor time.Duration) (*auth.OtpAttempt, error) {
	// Single statement so concurrent failed verifications cannot lose
	// counter updates. The lock timestamp is set exactly when the counter
	// reaches the threshold and left alone while a lock is already active.
	var (
		att    auth.OtpAttempt
		locked sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		insert into otp_attempts (user_id, purpose, attempts, last_attempt_at, locked_until)
		values ($1, $2, 1, $3, case when 1 >= $4 then $3::timestamptz + $5 else null end)
		on conflict (user_id, purpose) do update set
			attempts = otp_attempts.attempts + 1,
			last_attempt_at = excluded.last_attempt_at,
			locked_until = case
				when otp_attempts.locked_until is not null and otp_attempts.locked_until > $3::timestamptz
					then otp_attempts.locked_until
				when otp_attempts.attempts + 1 >= $4
					then $3::timestamptz + $5
				else null
			end
		returning user_id, purpose, attempts, last_attempt_at, locked_until
	`, userID, purpose, now, maxAttempts, lockFor).Scan(
		&att.UserID, &att.Purpose, &att.Attempts, &att.LastAttemptAt, &locked,
	)
	if err != nil {
		return nil, err
	}
	if locked.Valid {
		t := locked.Time
		att.LockedUntil = &t
	}
	return &att, nil
}

func (s *otpStore) ResetAttempt(ctx context.Context, userID string, purpose auth.Purpose) error {
	_, err := s.db.ExecContext(ctx, `
		delete from otp_attempts where user_id = $1 and purpose = $2
	`, userID, purpose)
	return err
}

type resetTokenStore Store

var _ auth.ResetTokenStore = (*resetTokenStore)(nil)

func (s *resetTokenStore) Create(ctx context.Context, tok *auth.PasswordResetToken) error {
	row := s.db.QueryRowContext(ctx, `
		insert into password_reset_tokens (id, user_id, value, used, expires_at)
		values ($1, $2, $3, $4, $5)
		returning created_at
	`, tok.ID, tok.UserID, tok.Value, tok.Used, tok.ExpiresAt)
	return row.Scan(&tok.CreatedAt)
}

func (s *resetTokenStore) Consume(ctx context.Context, value string, now time.Time) (*auth.PasswordResetToken, error) {
	// Flipping used in the same statement keeps consumption single-use
	// under concurrent resets; the loser sees zero rows.
	var tok auth.PasswordResetToken
	err := s.db.QueryRowContext(ctx, `
		update password_reset_tokens
		set used = true
		where value = $1 and used = false and expires_at > $2
		returning id, user_id, value, used, expires_at, created_at
	`, value, now).Scan(&tok.ID, &tok.UserID, &tok.Value, &tok.Used, &tok.ExpiresAt, &tok.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *resetTokenStore) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from password_reset_tokens where user_id = $1`, userID)
	return err
}
