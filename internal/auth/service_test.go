package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		Issuer:        "test-issuer",
	})
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return issuer
}

// seedDefaultRole installs the builtin action catalog and the default role
// holding user:read and user:update.
func seedDefaultRole(t *testing.T, store *MemoryStore) *Role {
	t.Helper()
	ctx := context.Background()
	if err := store.Actions(ctx).Ensure(ctx, BuiltinActions); err != nil {
		t.Fatalf("Ensure actions: %v", err)
	}
	actions, err := store.Actions(ctx).List(ctx)
	if err != nil {
		t.Fatalf("List actions: %v", err)
	}
	var actionIDs []string
	for _, a := range actions {
		if a.Name == "user:read" || a.Name == "user:update" {
			actionIDs = append(actionIDs, a.ID)
		}
	}
	role := &Role{ID: "role_user", Name: DefaultRoleName, ActionIDs: actionIDs}
	if err := store.Roles(ctx).Create(ctx, role); err != nil {
		t.Fatalf("Create role: %v", err)
	}
	return role
}

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	seedDefaultRole(t, store)
	svc, err := NewService(store, newTestIssuer(t), opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func mustSignUp(t *testing.T, svc *Service, email, password string) *User {
	t.Helper()
	user, err := svc.SignUp(context.Background(), SignUpInput{
		Email:     email,
		Password:  password,
		FirstName: "Jane",
		LastName:  "Doe",
	})
	if err != nil {
		t.Fatalf("SignUp(%s): %v", email, err)
	}
	return user
}

func TestSignUpSnapshotsRoleActions(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	user := mustSignUp(t, svc, "jane@example.com", "correct-horse")
	if user.PasswordHash != "" {
		t.Fatal("password hash leaked from SignUp")
	}
	if len(user.RoleIDs) != 1 || user.RoleIDs[0] != "role_user" {
		t.Fatalf("unexpected role ids: %v", user.RoleIDs)
	}
	if len(user.Grants) != 2 {
		t.Fatalf("expected 2 snapshotted grants, got %v", user.Grants)
	}
	for _, g := range user.Grants {
		if g.Scope != ScopeOwn {
			t.Fatalf("snapshot grants must be OWN scope, got %+v", g)
		}
	}

	// Emptying the role later must not touch users created before the edit.
	if _, err := store.Roles(ctx).Update(ctx, "role_user", RoleUpdate{ActionIDs: []string{}}); err != nil {
		t.Fatalf("Update role: %v", err)
	}
	stored, err := store.Users(ctx).Find(ctx, user.ID)
	if err != nil {
		t.Fatalf("Find user: %v", err)
	}
	if len(stored.Grants) != 2 {
		t.Fatalf("role edit propagated to existing user grants: %v", stored.Grants)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	mustSignUp(t, svc, "jane@example.com", "correct-horse")

	_, err := svc.SignUp(context.Background(), SignUpInput{
		Email:    "Jane@Example.com", // case must not bypass the check
		Password: "correct-horse",
	})
	if !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpInput{Email: "not-an-email", Password: "correct-horse"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad email, got %v", err)
	}
	if _, err := svc.SignUp(ctx, SignUpInput{Email: "jane@example.com", Password: "short"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for short password, got %v", err)
	}
}

func TestValidateCredentialsUniformFailure(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	user := mustSignUp(t, svc, "jane@example.com", "correct-horse")

	if _, err := svc.ValidateCredentials(ctx, "nobody@example.com", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.ValidateCredentials(ctx, "jane@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}

	inactive := false
	if _, err := store.Users(ctx).Update(ctx, user.ID, UserUpdate{Active: &inactive}); err != nil {
		t.Fatalf("deactivate user: %v", err)
	}
	if _, err := svc.ValidateCredentials(ctx, "jane@example.com", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("inactive user: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSignInAndRotate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustSignUp(t, svc, "jane@example.com", "correct-horse")

	result, err := svc.SignIn(ctx, SignInInput{Email: "jane@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if result.DeviceID == "" || result.Access.Value == "" || result.Refresh.Value == "" {
		t.Fatalf("incomplete session: %+v", result)
	}
	if result.User.PasswordHash != "" {
		t.Fatal("password hash leaked from SignIn")
	}

	rotated, err := svc.RotateRefreshToken(ctx, result.DeviceID, result.Refresh.Value, false)
	if err != nil {
		t.Fatalf("RotateRefreshToken: %v", err)
	}
	if rotated.DeviceID != result.DeviceID {
		t.Fatalf("rotation changed device id: %s -> %s", result.DeviceID, rotated.DeviceID)
	}
	if rotated.Refresh.Value == result.Refresh.Value {
		t.Fatal("rotation did not mint a new refresh token")
	}

	// The pre-rotation value is overwritten in place and must not replay.
	if _, err := svc.RotateRefreshToken(ctx, result.DeviceID, result.Refresh.Value, false); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on replay, got %v", err)
	}

	// The rotated value stays usable.
	if _, err := svc.RotateRefreshToken(ctx, rotated.DeviceID, rotated.Refresh.Value, false); err != nil {
		t.Fatalf("rotating the fresh token: %v", err)
	}
}

func TestRotateRejectsExpiredRefresh(t *testing.T) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, WithClock(func() time.Time { return current }))
	ctx := context.Background()
	mustSignUp(t, svc, "jane@example.com", "correct-horse")

	result, err := svc.SignIn(ctx, SignInInput{Email: "jane@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	// Still within the 7 day refresh lifetime.
	current = current.Add(24 * time.Hour)
	rotated, err := svc.RotateRefreshToken(ctx, result.DeviceID, result.Refresh.Value, false)
	if err != nil {
		t.Fatalf("rotate within lifetime: %v", err)
	}

	// Past expiry the stored value still matches, but rotation must refuse.
	current = current.Add(7*24*time.Hour + time.Second)
	if _, err := svc.RotateRefreshToken(ctx, rotated.DeviceID, rotated.Refresh.Value, false); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expired refresh rotated: %v", err)
	}
}

func TestRotateRejectsCrossDeviceRefresh(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustSignUp(t, svc, "jane@example.com", "correct-horse")

	first, err := svc.SignIn(ctx, SignInInput{Email: "jane@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	second, err := svc.SignIn(ctx, SignInInput{Email: "jane@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("second SignIn: %v", err)
	}

	// A refresh token is bound to the device it was minted for.
	if _, err := svc.RotateRefreshToken(ctx, first.DeviceID, second.Refresh.Value, false); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("cross-device refresh rotated: %v", err)
	}
}

func TestStaySignedInSelectsLongRefresh(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustSignUp(t, svc, "jane@example.com", "correct-horse")

	short, err := svc.SignIn(ctx, SignInInput{Email: "jane@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	long, err := svc.SignIn(ctx, SignInInput{Email: "jane@example.com", Password: "correct-horse", StaySignedIn: true})
	if err != nil {
		t.Fatalf("SignIn stay: %v", err)
	}

	if short.Refresh.TotalDuration != int64(defaultRefreshMinutes)*60_000 {
		t.Fatalf("short refresh duration: %d", short.Refresh.TotalDuration)
	}
	if long.Refresh.TotalDuration != int64(defaultRefreshLongMinutes)*60_000 {
		t.Fatalf("long refresh duration: %d", long.Refresh.TotalDuration)
	}
	if long.Access.TotalDuration != short.Access.TotalDuration {
		t.Fatal("staySignedIn must not change access token lifetime")
	}
}

func TestSignOutIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustSignUp(t, svc, "jane@example.com", "correct-horse")

	result, err := svc.SignIn(ctx, SignInInput{Email: "jane@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if err := svc.SignOut(ctx, result.DeviceID); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if err := svc.SignOut(ctx, result.DeviceID); err != nil {
		t.Fatalf("second SignOut must succeed: %v", err)
	}
	if _, err := svc.RotateRefreshToken(ctx, result.DeviceID, result.Refresh.Value, false); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after sign-out, got %v", err)
	}
}

func TestAuthenticateAccessToken(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	user := mustSignUp(t, svc, "jane@example.com", "correct-horse")

	result, err := svc.SignIn(ctx, SignInInput{Email: "jane@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	got, err := svc.AuthenticateAccessToken(ctx, result.Access.Value)
	if err != nil {
		t.Fatalf("AuthenticateAccessToken: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("unexpected user: %s", got.ID)
	}

	if _, err := svc.AuthenticateAccessToken(ctx, "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: expected ErrInvalidToken, got %v", err)
	}
	// Refresh tokens must not authenticate requests.
	if _, err := svc.AuthenticateAccessToken(ctx, result.Refresh.Value); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token accepted as access token: %v", err)
	}

	inactive := false
	if _, err := store.Users(ctx).Update(ctx, user.ID, UserUpdate{Active: &inactive}); err != nil {
		t.Fatalf("deactivate user: %v", err)
	}
	if _, err := svc.AuthenticateAccessToken(ctx, result.Access.Value); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("inactive user: expected ErrInvalidToken, got %v", err)
	}
}
