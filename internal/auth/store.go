package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Actions(ctx context.Context) ActionStore
	Sessions(ctx context.Context) SessionStore
	Otps(ctx context.Context) OtpStore
	ResetTokens(ctx context.Context) ResetTokenStore
}

// UserUpdate carries optional field changes; nil means keep. RoleIDs and
// Grants, when non-nil, replace the user's current sets wholesale.
type UserUpdate struct {
	Email     *string
	Password  *string // already hashed by the caller
	FirstName *string
	LastName  *string
	Active    *bool
	RoleIDs   []string
	Grants    []Grant
}

// UserStore manages users together with their role links and action grants.
type UserStore interface {
	// Create persists the user plus the RoleIDs/Grants present on the struct.
	// A taken email yields ErrEmailExists.
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	// FindByEmail returns the user including PasswordHash and grants.
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	Update(ctx context.Context, id string, upd UserUpdate) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	Delete(ctx context.Context, id string) error
}

type RoleUpdate struct {
	Name      *string
	ActionIDs []string // non-nil replaces the role's action set
}

// RoleStore manages roles and their action sets.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Update(ctx context.Context, id string, upd RoleUpdate) (*Role, error)
	Delete(ctx context.Context, id string) error
}

// ActionStore manages the action catalog.
type ActionStore interface {
	Create(ctx context.Context, action *Action) error
	Find(ctx context.Context, id string) (*Action, error)
	List(ctx context.Context) ([]*Action, error)
	Update(ctx context.Context, id string, name string) (*Action, error)
	Delete(ctx context.Context, id string) error
	// Ensure creates any listed actions that do not exist yet.
	Ensure(ctx context.Context, names []string) error
}

// SessionStore holds one row per (user, device) with upsert semantics.
type SessionStore interface {
	// FindByDeviceAndRefresh matches on deviceID and the exact stored
	// refresh token value; anything else is ErrNotFound.
	FindByDeviceAndRefresh(ctx context.Context, deviceID, refreshValue string) (*Session, error)
	// Upsert creates the (UserID, DeviceID) row or overwrites its token
	// values and expiries in place.
	Upsert(ctx context.Context, s *Session) error
	// DeleteByDevice removes all sessions for the device; deleting a
	// non-existent session is not an error.
	DeleteByDevice(ctx context.Context, deviceID string) error
}

// OtpStore persists one-time codes and the per-(user, purpose) attempt row.
// IncrementAttempt must be a single atomic read-modify-write so concurrent
// failed verifications cannot lose updates.
type OtpStore interface {
	Create(ctx context.Context, otp *Otp) error
	// FindValid returns an unused, unexpired code matching exactly.
	FindValid(ctx context.Context, userID, code string, purpose Purpose, now time.Time) (*Otp, error)
	MarkUsed(ctx context.Context, otpID string) error

	Attempt(ctx context.Context, userID string, purpose Purpose) (*OtpAttempt, error)
	// IncrementAttempt bumps the counter (creating the row on first failure)
	// and, when the new count reaches maxAttempts, sets LockedUntil to
	// now+lockFor. Returns the row after the update.
	IncrementAttempt(ctx context.Context, userID string, purpose Purpose, now time.Time, maxAttempts int, lockFor time.Duration) (*OtpAttempt, error)
	ResetAttempt(ctx context.Context, userID string, purpose Purpose) error
}

// ResetTokenStore manages password reset tokens. Consume must be atomic with
// respect to concurrent resets: the second caller gets ErrNotFound.
type ResetTokenStore interface {
	Create(ctx context.Context, tok *PasswordResetToken) error
	// Consume flips used=false to true on an unexpired token and returns it.
	Consume(ctx context.Context, value string, now time.Time) (*PasswordResetToken, error)
	DeleteByUser(ctx context.Context, userID string) error
}
