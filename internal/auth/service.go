package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/obs"
)

const (
	defaultOtpTTL        = 5 * time.Minute
	defaultOtpMaxAttempt = 3
	defaultOtpLockFor    = 15 * time.Minute
	defaultResetTokenTTL = 15 * time.Minute

	minPasswordLength = 8
)

// OtpMailer dispatches one-time codes. Delivery is fire-and-forget on the
// OTP path: a failed send never invalidates the stored code.
type OtpMailer interface {
	SendOtpEmail(ctx context.Context, recipient, code string, purpose Purpose) error
}

// Service orchestrates sign-up, sign-in, session rotation and the OTP /
// password-reset state machines on top of a Store.
type Service struct {
	store  Store
	issuer *TokenIssuer
	mailer OtpMailer
	now    func() time.Time

	otpTTL         time.Duration
	otpMaxAttempts int
	otpLockFor     time.Duration
	resetTokenTTL  time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithMailer attaches the OTP mail dispatcher.
func WithMailer(m OtpMailer) ServiceOption {
	return func(s *Service) error {
		s.mailer = m
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
			if s.issuer != nil {
				s.issuer.now = fn
			}
		}
		return nil
	}
}

// WithOtpTTL configures how long a one-time code stays valid.
func WithOtpTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.otpTTL = ttl
		}
		return nil
	}
}

// WithOtpLockout configures the failed-attempt threshold and lock duration.
func WithOtpLockout(maxAttempts int, lockFor time.Duration) ServiceOption {
	return func(s *Service) error {
		if maxAttempts > 0 {
			s.otpMaxAttempts = maxAttempts
		}
		if lockFor > 0 {
			s.otpLockFor = lockFor
		}
		return nil
	}
}

// WithResetTokenTTL configures password reset token lifetime.
func WithResetTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.resetTokenTTL = ttl
		}
		return nil
	}
}

// NewService constructs the auth orchestrator.
func NewService(store Store, issuer *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if issuer == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	svc := &Service{
		store:          store,
		issuer:         issuer,
		now:            time.Now,
		otpTTL:         defaultOtpTTL,
		otpMaxAttempts: defaultOtpMaxAttempt,
		otpLockFor:     defaultOtpLockFor,
		resetTokenTTL:  defaultResetTokenTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// SignUpInput is the self-registration payload.
type SignUpInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// SignUp registers a new user with the default role and a snapshot of its
// actions as OWN-scope grants. Later edits to the role do not propagate.
func (s *Service) SignUp(ctx context.Context, input SignUpInput) (*User, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	if len(input.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	users := s.store.Users(ctx)
	if _, err := users.FindByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("%w: email", ErrEmailExists)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	role, err := s.store.Roles(ctx).FindByName(ctx, DefaultRoleName)
	if err != nil {
		return nil, fmt.Errorf("resolve default role: %w", err)
	}

	grants := make([]Grant, 0, len(role.ActionIDs))
	for _, actionID := range role.ActionIDs {
		grants = append(grants, Grant{ActionID: actionID, Scope: ScopeOwn})
	}

	now := s.now().UTC()
	user := &User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
		RoleIDs:      []string{role.ID},
		Grants:       grants,
	}
	if err := users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user.Sanitized(), nil
}

// ValidateCredentials authenticates an active user by email and password.
// Unknown email and wrong password fail identically.
func (s *Service) ValidateCredentials(ctx context.Context, email, password string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.Active {
		return nil, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user.Sanitized(), nil
}

// SignInInput is the credential payload for session creation.
type SignInInput struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	StaySignedIn bool   `json:"stay_signed_in"`
}

// SignInResult carries the fresh device session and the sanitized user.
type SignInResult struct {
	DeviceID string
	Access   Token
	Refresh  Token
	User     *User
}

// SignIn validates credentials and opens a new device session with a freshly
// generated deviceID.
func (s *Service) SignIn(ctx context.Context, input SignInInput) (*SignInResult, error) {
	user, err := s.ValidateCredentials(ctx, input.Email, input.Password)
	if err != nil {
		return nil, err
	}
	tokens, err := s.createSession(ctx, user.ID, user.Email, input.StaySignedIn)
	if err != nil {
		return nil, err
	}
	return &SignInResult{
		DeviceID: tokens.DeviceID,
		Access:   tokens.Access,
		Refresh:  tokens.Refresh,
		User:     user,
	}, nil
}

func (s *Service) createSession(ctx context.Context, userID, email string, staySignedIn bool) (SessionTokens, error) {
	tokens, err := s.issuer.Issue(userID, email, NewDeviceID(), staySignedIn)
	if err != nil {
		return SessionTokens{}, err
	}
	if err := s.persistSession(ctx, userID, tokens); err != nil {
		return SessionTokens{}, err
	}
	return tokens, nil
}

func (s *Service) persistSession(ctx context.Context, userID string, tokens SessionTokens) error {
	now := s.now().UTC()
	return s.store.Sessions(ctx).Upsert(ctx, &Session{
		ID:        ids.New(),
		UserID:    userID,
		DeviceID:  tokens.DeviceID,
		Access:    TokenRecord{Value: tokens.Access.Value, ExpiresAt: tokens.Access.ExpiresAt},
		Refresh:   TokenRecord{Value: tokens.Refresh.Value, ExpiresAt: tokens.Refresh.ExpiresAt},
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// RotateRefreshToken exchanges the current refresh token of a device session
// for a fresh pair, invalidating the old value by overwriting it in place.
// A replayed (already rotated) token no longer matches and fails; so does an
// expired, forged or cross-device token, which never reaches the store.
func (s *Service) RotateRefreshToken(ctx context.Context, deviceID, oldRefresh string, staySignedIn bool) (*SessionTokens, error) {
	deviceID = strings.TrimSpace(deviceID)
	oldRefresh = strings.TrimSpace(oldRefresh)
	if deviceID == "" || oldRefresh == "" {
		return nil, ErrSessionNotFound
	}
	claims, err := s.issuer.ParseRefresh(oldRefresh)
	if err != nil || claims.DeviceID != deviceID {
		return nil, ErrSessionNotFound
	}
	session, err := s.store.Sessions(ctx).FindByDeviceAndRefresh(ctx, deviceID, oldRefresh)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	user, err := s.store.Users(ctx).Find(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	tokens, err := s.issuer.Issue(user.ID, user.Email, deviceID, staySignedIn)
	if err != nil {
		return nil, err
	}
	if err := s.persistSession(ctx, user.ID, tokens); err != nil {
		return nil, err
	}
	return &tokens, nil
}

// SignOut terminates the device's sessions. Matching is by deviceID alone;
// removing a non-existent session succeeds.
func (s *Service) SignOut(ctx context.Context, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil
	}
	return s.store.Sessions(ctx).DeleteByDevice(ctx, deviceID)
}

// AuthenticateAccessToken verifies a bearer/cookie access token and loads
// the active user behind it.
func (s *Service) AuthenticateAccessToken(ctx context.Context, token string) (*User, error) {
	claims, err := s.issuer.ParseAccess(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	user, err := s.store.Users(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !user.Active {
		return nil, ErrInvalidToken
	}
	return user.Sanitized(), nil
}

// ForgotPassword starts the OTP-based reset flow for the account.
func (s *Service) ForgotPassword(ctx context.Context, email string) (time.Time, error) {
	return s.SendOtp(ctx, email, PurposeForgotPassword)
}

// ResetPassword consumes a reset token, updates the password hash and purges
// any remaining reset tokens for the user. Concurrent resets on the same
// token race on the atomic consume; the loser fails.
func (s *Service) ResetPassword(ctx context.Context, newPassword, token string) error {
	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrResetToken
	}
	resets := s.store.ResetTokens(ctx)
	consumed, err := resets.Consume(ctx, token, s.now().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrResetToken
		}
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.Users(ctx).UpdatePassword(ctx, consumed.UserID, hash); err != nil {
		return err
	}
	if err := resets.DeleteByUser(ctx, consumed.UserID); err != nil {
		obs.LogRequest(map[string]any{
			"level": "warn",
			"msg":   "purge reset tokens failed",
			"error": err.Error(),
		})
	}
	return nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return email, nil
}
