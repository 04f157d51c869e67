package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse.org/internal/ids"
)

// BuiltinActions is the seed catalog of entity:verb capabilities.
var BuiltinActions = []string{
	"action:create", "action:list", "action:read", "action:update", "action:delete",
	"role:create", "role:list", "role:read", "role:update", "role:delete",
	"user:create", "user:list", "user:read", "user:update", "user:delete",
}

// builtinRoles mirrors the SQL seed data: Superadmin holds the full catalog,
// Admin manages roles and users, and the default role covers self-service.
var builtinRoles = []struct {
	Name    string
	Actions []string
}{
	{Name: "Superadmin", Actions: BuiltinActions},
	{Name: "Admin", Actions: []string{
		"action:list", "action:read",
		"role:create", "role:list", "role:read", "role:update", "role:delete",
		"user:create", "user:list", "user:read", "user:update", "user:delete",
	}},
	{Name: DefaultRoleName, Actions: []string{"user:read", "user:update"}},
}

// RBACService provides the administrative CRUD surface over users, roles and
// actions. It owns input validation and password hashing; row-level
// constraints stay in the store.
type RBACService struct {
	store Store
	now   func() time.Time
}

// NewRBACService constructs the CRUD service.
func NewRBACService(store Store) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	return &RBACService{store: store, now: time.Now}, nil
}

// EnsureBuiltins creates any missing builtin actions and roles, so a fresh
// store (including the in-memory one) can serve sign-up immediately. Existing
// roles are left untouched.
func (s *RBACService) EnsureBuiltins(ctx context.Context) error {
	actions := s.store.Actions(ctx)
	if err := actions.Ensure(ctx, BuiltinActions); err != nil {
		return err
	}
	list, err := actions.List(ctx)
	if err != nil {
		return err
	}
	idByName := make(map[string]string, len(list))
	for _, a := range list {
		idByName[a.Name] = a.ID
	}

	roles := s.store.Roles(ctx)
	for _, builtin := range builtinRoles {
		if _, err := roles.FindByName(ctx, builtin.Name); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		actionIDs := make([]string, 0, len(builtin.Actions))
		for _, name := range builtin.Actions {
			if id, ok := idByName[name]; ok {
				actionIDs = append(actionIDs, id)
			}
		}
		if _, err := s.CreateRole(ctx, builtin.Name, actionIDs); err != nil && !errors.Is(err, ErrConflict) {
			return fmt.Errorf("ensure role %s: %w", builtin.Name, err)
		}
	}
	return nil
}

// Actions ------------------------------------------------------------------

func (s *RBACService) CreateAction(ctx context.Context, name string) (*Action, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: action name is required", ErrInvalidInput)
	}
	action := &Action{ID: ids.New(), Name: name, CreatedAt: s.now().UTC()}
	if err := s.store.Actions(ctx).Create(ctx, action); err != nil {
		return nil, err
	}
	return action, nil
}

func (s *RBACService) ListActions(ctx context.Context) ([]*Action, error) {
	return s.store.Actions(ctx).List(ctx)
}

func (s *RBACService) GetAction(ctx context.Context, id string) (*Action, error) {
	if id = strings.TrimSpace(id); id == "" {
		return nil, fmt.Errorf("%w: action id is required", ErrInvalidInput)
	}
	return s.store.Actions(ctx).Find(ctx, id)
}

func (s *RBACService) UpdateAction(ctx context.Context, id, name string) (*Action, error) {
	if id = strings.TrimSpace(id); id == "" {
		return nil, fmt.Errorf("%w: action id is required", ErrInvalidInput)
	}
	if name = strings.TrimSpace(name); name == "" {
		return nil, fmt.Errorf("%w: action name is required", ErrInvalidInput)
	}
	return s.store.Actions(ctx).Update(ctx, id, name)
}

func (s *RBACService) DeleteAction(ctx context.Context, id string) error {
	if id = strings.TrimSpace(id); id == "" {
		return fmt.Errorf("%w: action id is required", ErrInvalidInput)
	}
	return s.store.Actions(ctx).Delete(ctx, id)
}

// Roles --------------------------------------------------------------------

func (s *RBACService) CreateRole(ctx context.Context, name string, actionIDs []string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	role := &Role{
		ID:        ids.New(),
		Name:      name,
		ActionIDs: dedupeStrings(actionIDs),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Roles(ctx).Create(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *RBACService) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.store.Roles(ctx).List(ctx)
}

func (s *RBACService) GetRole(ctx context.Context, id string) (*Role, error) {
	if id = strings.TrimSpace(id); id == "" {
		return nil, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	return s.store.Roles(ctx).Find(ctx, id)
}

func (s *RBACService) UpdateRole(ctx context.Context, id string, upd RoleUpdate) (*Role, error) {
	if id = strings.TrimSpace(id); id == "" {
		return nil, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.ActionIDs != nil {
		upd.ActionIDs = dedupeStrings(upd.ActionIDs)
	}
	return s.store.Roles(ctx).Update(ctx, id, upd)
}

func (s *RBACService) DeleteRole(ctx context.Context, id string) error {
	if id = strings.TrimSpace(id); id == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	return s.store.Roles(ctx).Delete(ctx, id)
}

// Users --------------------------------------------------------------------

// CreateUserInput is the administrative creation payload: explicit roles and
// grants instead of the self-registration snapshot.
type CreateUserInput struct {
	Email     string   `json:"email"`
	Password  string   `json:"password"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Active    *bool    `json:"active"`
	RoleIDs   []string `json:"role_ids"`
	Grants    []Grant  `json:"grants"`
}

func (s *RBACService) CreateUser(ctx context.Context, input CreateUserInput) (*User, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	if len(input.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	active := true
	if input.Active != nil {
		active = *input.Active
	}
	now := s.now().UTC()
	user := &User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		Active:       active,
		CreatedAt:    now,
		UpdatedAt:    now,
		RoleIDs:      dedupeStrings(input.RoleIDs),
		Grants:       normalizeGrants(input.Grants),
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	return user.Sanitized(), nil
}

func (s *RBACService) ListUsers(ctx context.Context) ([]*User, error) {
	users, err := s.store.Users(ctx).List(ctx)
	if err != nil {
		return nil, err
	}
	for i, u := range users {
		users[i] = u.Sanitized()
	}
	return users, nil
}

func (s *RBACService) GetUser(ctx context.Context, id string) (*User, error) {
	if id = strings.TrimSpace(id); id == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	user, err := s.store.Users(ctx).Find(ctx, id)
	if err != nil {
		return nil, err
	}
	return user.Sanitized(), nil
}

func (s *RBACService) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	if id = strings.TrimSpace(id); id == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if upd.Email != nil {
		email, err := normalizeEmail(*upd.Email)
		if err != nil {
			return nil, err
		}
		upd.Email = &email
	}
	if upd.Password != nil {
		if len(*upd.Password) < minPasswordLength {
			return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
		}
		hash, err := HashPassword(*upd.Password)
		if err != nil {
			return nil, err
		}
		upd.Password = &hash
	}
	if upd.RoleIDs != nil {
		upd.RoleIDs = dedupeStrings(upd.RoleIDs)
	}
	if upd.Grants != nil {
		upd.Grants = normalizeGrants(upd.Grants)
	}
	user, err := s.store.Users(ctx).Update(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	return user.Sanitized(), nil
}

func (s *RBACService) DeleteUser(ctx context.Context, id string) error {
	if id = strings.TrimSpace(id); id == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.Users(ctx).Delete(ctx, id)
}

func dedupeStrings(values []string) []string {
	if values == nil {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

func normalizeGrants(grants []Grant) []Grant {
	if grants == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(grants))
	result := make([]Grant, 0, len(grants))
	for _, g := range grants {
		g.ActionID = strings.TrimSpace(g.ActionID)
		if g.ActionID == "" {
			continue
		}
		if g.Scope != ScopeAny {
			g.Scope = ScopeOwn
		}
		if _, ok := seen[g.ActionID]; ok {
			continue
		}
		seen[g.ActionID] = struct{}{}
		result = append(result, g)
	}
	return result
}
