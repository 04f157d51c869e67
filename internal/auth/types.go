package auth

import "time"

// Scope bounds a granted action to the user's own resources or to any.
type Scope string

const (
	ScopeOwn Scope = "OWN"
	ScopeAny Scope = "ANY"
)

// Purpose tags an OTP with the flow that requested it.
type Purpose string

const (
	PurposeForgotPassword Purpose = "forgot_password"
)

// DefaultRoleName is the role snapshotted onto every self-registered user.
const DefaultRoleName = "User"

// User is an account holder. PasswordHash never crosses the service boundary:
// service methods return users with the hash cleared.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	RoleIDs []string `json:"role_ids,omitempty"`
	Grants  []Grant  `json:"grants,omitempty"`
}

// Action is a fine-grained capability, e.g. "user:list".
type Action struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Role groups actions. ActionIDs is the role's current action set; it is
// copied onto users at registration time, not joined at authorization time.
type Role struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ActionIDs []string  `json:"action_ids"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Grant is a direct (action, scope) permission on a user. ActionName is
// resolved by the store on read so authorization never joins through roles.
type Grant struct {
	ActionID   string `json:"action_id"`
	ActionName string `json:"action_name,omitempty"`
	Scope      Scope  `json:"scope"`
}

// TokenRecord is a persisted token value with its absolute expiry.
type TokenRecord struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Session is the single live token pair for a (user, device) pair.
type Session struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	DeviceID  string      `json:"device_id"`
	Access    TokenRecord `json:"access"`
	Refresh   TokenRecord `json:"refresh"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Token is the client-facing view of an issued token. TotalDuration is in
// milliseconds and doubles as the cookie max-age source.
type Token struct {
	Value         string    `json:"value"`
	ExpiresAt     time.Time `json:"expires_at"`
	TotalDuration int64     `json:"total_duration"`
}

// Otp is a one-time numeric code bound to a user and purpose. Several unused
// codes may be outstanding at once; the attempt gate below is the only guard.
type Otp struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Code      string    `json:"-"`
	Purpose   Purpose   `json:"purpose"`
	Used      bool      `json:"used"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// OtpAttempt is the per-(user, purpose) failure counter with its lock state.
type OtpAttempt struct {
	UserID        string     `json:"user_id"`
	Purpose       Purpose    `json:"purpose"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt time.Time  `json:"last_attempt_at"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
}

// LockRemaining reports how long the attempt row stays locked at the given
// instant. An attempt arriving exactly at LockedUntil is already unlocked.
func (a *OtpAttempt) LockRemaining(now time.Time, maxAttempts int) (time.Duration, bool) {
	if a == nil || a.LockedUntil == nil {
		return 0, false
	}
	if a.Attempts < maxAttempts {
		return 0, false
	}
	if !a.LockedUntil.After(now) {
		return 0, false
	}
	return a.LockedUntil.Sub(now), true
}

// PasswordResetToken is minted by a successful forgot-password OTP
// verification and consumed exactly once by ResetPassword.
type PasswordResetToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Value     string    `json:"-"`
	Used      bool      `json:"used"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Sanitized returns a copy safe to hand to transport layers.
func (u *User) Sanitized() *User {
	if u == nil {
		return nil
	}
	clone := *u
	clone.PasswordHash = ""
	return &clone
}
