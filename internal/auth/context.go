package auth

import "context"

type principalContextKey struct{}

// Principal is the authenticated user with the action grants snapshotted at
// registration time. Authorization never joins through roles.
type Principal struct {
	User   *User
	Grants map[string]Scope // action name -> widest granted scope
}

// NewPrincipal indexes the user's grants by action name. ANY wins over OWN
// when the same action is granted twice.
func NewPrincipal(user *User) Principal {
	grants := make(map[string]Scope, len(user.Grants))
	for _, g := range user.Grants {
		if g.ActionName == "" {
			continue
		}
		if existing, ok := grants[g.ActionName]; ok && existing == ScopeAny {
			continue
		}
		grants[g.ActionName] = g.Scope
	}
	return Principal{User: user, Grants: grants}
}

// Allows reports whether the principal holds the action at any scope.
func (p Principal) Allows(action string) bool {
	_, ok := p.Grants[action]
	return ok
}

// AllowsAny reports whether the principal holds the action with ANY scope,
// i.e. over resources it does not own.
func (p Principal) AllowsAny(action string) bool {
	return p.Grants[action] == ScopeAny
}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.User == nil {
		return "", false
	}
	return p.User.ID, true
}
