package auth

import (
	"context"
	"testing"
)

func TestEnsureBuiltinsSeedsRolesAndActions(t *testing.T) {
	store := NewMemoryStore()
	rbac, err := NewRBACService(store)
	if err != nil {
		t.Fatalf("NewRBACService: %v", err)
	}
	ctx := context.Background()

	if err := rbac.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}

	actions, err := store.Actions(ctx).List(ctx)
	if err != nil {
		t.Fatalf("List actions: %v", err)
	}
	if len(actions) != len(BuiltinActions) {
		t.Fatalf("seeded %d actions, want %d", len(actions), len(BuiltinActions))
	}

	super, err := store.Roles(ctx).FindByName(ctx, "Superadmin")
	if err != nil {
		t.Fatalf("FindByName Superadmin: %v", err)
	}
	if len(super.ActionIDs) != len(BuiltinActions) {
		t.Fatalf("Superadmin holds %d actions, want %d", len(super.ActionIDs), len(BuiltinActions))
	}
	defaultRole, err := store.Roles(ctx).FindByName(ctx, DefaultRoleName)
	if err != nil {
		t.Fatalf("FindByName %s: %v", DefaultRoleName, err)
	}
	if len(defaultRole.ActionIDs) != 2 {
		t.Fatalf("default role holds %d actions, want 2", len(defaultRole.ActionIDs))
	}

	// Idempotent: a second run must not duplicate or fail.
	if err := rbac.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("second EnsureBuiltins: %v", err)
	}
	roles, err := store.Roles(ctx).List(ctx)
	if err != nil {
		t.Fatalf("List roles: %v", err)
	}
	if len(roles) != 3 {
		t.Fatalf("found %d roles after rerun, want 3", len(roles))
	}
}

// A fresh store plus EnsureBuiltins is the whole DSN-less bootstrap; sign-up
// must work on top of it without any SQL seed.
func TestSignUpAfterEnsureBuiltins(t *testing.T) {
	store := NewMemoryStore()
	rbac, err := NewRBACService(store)
	if err != nil {
		t.Fatalf("NewRBACService: %v", err)
	}
	ctx := context.Background()
	if err := rbac.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}

	svc, err := NewService(store, newTestIssuer(t))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	user, err := svc.SignUp(ctx, SignUpInput{Email: "jane@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if len(user.Grants) != 2 {
		t.Fatalf("expected 2 snapshotted grants, got %v", user.Grants)
	}
}
