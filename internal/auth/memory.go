package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gatehouse.org/internal/ids"
)

// MemoryStore is an in-process Store used by tests and by the API when no
// database DSN is configured. All mutations take the store lock, which gives
// the same atomic read-modify-write guarantees the SQL store gets per row.
type MemoryStore struct {
	mu sync.Mutex

	users       map[string]*User   // by id
	roles       map[string]*Role   // by id
	actions     map[string]*Action // by id
	sessions    map[string]*Session
	otps        map[string]*Otp
	attempts    map[string]*OtpAttempt // keyed userID|purpose
	resetTokens map[string]*PasswordResetToken
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*User),
		roles:       make(map[string]*Role),
		actions:     make(map[string]*Action),
		sessions:    make(map[string]*Session),
		otps:        make(map[string]*Otp),
		attempts:    make(map[string]*OtpAttempt),
		resetTokens: make(map[string]*PasswordResetToken),
	}
}

func (m *MemoryStore) Users(context.Context) UserStore             { return (*memUsers)(m) }
func (m *MemoryStore) Roles(context.Context) RoleStore             { return (*memRoles)(m) }
func (m *MemoryStore) Actions(context.Context) ActionStore         { return (*memActions)(m) }
func (m *MemoryStore) Sessions(context.Context) SessionStore       { return (*memSessions)(m) }
func (m *MemoryStore) Otps(context.Context) OtpStore               { return (*memOtps)(m) }
func (m *MemoryStore) ResetTokens(context.Context) ResetTokenStore { return (*memResets)(m) }

func attemptKey(userID string, purpose Purpose) string {
	return userID + "|" + string(purpose)
}

// resolveGrantNames fills ActionName on a copy of the grants. Callers hold
// the lock.
func (m *MemoryStore) resolveGrantNames(grants []Grant) []Grant {
	if len(grants) == 0 {
		return nil
	}
	out := make([]Grant, len(grants))
	copy(out, grants)
	for i := range out {
		if action, ok := m.actions[out[i].ActionID]; ok {
			out[i].ActionName = action.Name
		}
	}
	return out
}

func (m *MemoryStore) cloneUser(u *User) *User {
	clone := *u
	clone.RoleIDs = append([]string(nil), u.RoleIDs...)
	clone.Grants = m.resolveGrantNames(u.Grants)
	return &clone
}

// Users ---------------------------------------------------------------------

type memUsers MemoryStore

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return fmt.Errorf("%w: email", ErrEmailExists)
		}
	}
	clone := *u
	clone.RoleIDs = append([]string(nil), u.RoleIDs...)
	clone.Grants = append([]Grant(nil), u.Grants...)
	m.users[u.ID] = &clone
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return (*MemoryStore)(m).cloneUser(u), nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return (*MemoryStore)(m).cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) List(_ context.Context) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, (*MemoryStore)(m).cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memUsers) Update(_ context.Context, id string, upd UserUpdate) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Email != nil {
		for otherID, other := range m.users {
			if otherID != id && other.Email == *upd.Email {
				return nil, fmt.Errorf("%w: email", ErrEmailExists)
			}
		}
		u.Email = *upd.Email
	}
	if upd.Password != nil {
		u.PasswordHash = *upd.Password
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.Active != nil {
		u.Active = *upd.Active
	}
	if upd.RoleIDs != nil {
		u.RoleIDs = append([]string(nil), upd.RoleIDs...)
	}
	if upd.Grants != nil {
		u.Grants = append([]Grant(nil), upd.Grants...)
	}
	u.UpdatedAt = time.Now().UTC()
	return (*MemoryStore)(m).cloneUser(u), nil
}

func (m *memUsers) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	return nil
}

// Roles ---------------------------------------------------------------------

type memRoles MemoryStore

func (m *memRoles) Create(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.Name == role.Name {
			return ErrConflict
		}
	}
	clone := *role
	clone.ActionIDs = append([]string(nil), role.ActionIDs...)
	m.roles[role.ID] = &clone
	return nil
}

func (m *memRoles) Find(_ context.Context, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *role
	clone.ActionIDs = append([]string(nil), role.ActionIDs...)
	return &clone, nil
}

func (m *memRoles) FindByName(_ context.Context, name string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, role := range m.roles {
		if role.Name == name {
			clone := *role
			clone.ActionIDs = append([]string(nil), role.ActionIDs...)
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRoles) List(_ context.Context) ([]*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Role, 0, len(m.roles))
	for _, role := range m.roles {
		clone := *role
		clone.ActionIDs = append([]string(nil), role.ActionIDs...)
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRoles) Update(_ context.Context, id string, upd RoleUpdate) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		role.Name = *upd.Name
	}
	if upd.ActionIDs != nil {
		role.ActionIDs = append([]string(nil), upd.ActionIDs...)
	}
	role.UpdatedAt = time.Now().UTC()
	clone := *role
	clone.ActionIDs = append([]string(nil), role.ActionIDs...)
	return &clone, nil
}

func (m *memRoles) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	return nil
}

// Actions -------------------------------------------------------------------

type memActions MemoryStore

func (m *memActions) Create(_ context.Context, action *Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.actions {
		if existing.Name == action.Name {
			return ErrConflict
		}
	}
	clone := *action
	m.actions[action.ID] = &clone
	return nil
}

func (m *memActions) Find(_ context.Context, id string) (*Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	action, ok := m.actions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *action
	return &clone, nil
}

func (m *memActions) List(_ context.Context) ([]*Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Action, 0, len(m.actions))
	for _, action := range m.actions {
		clone := *action
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memActions) Update(_ context.Context, id string, name string) (*Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	action, ok := m.actions[id]
	if !ok {
		return nil, ErrNotFound
	}
	action.Name = name
	clone := *action
	return &clone, nil
}

func (m *memActions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.actions[id]; !ok {
		return ErrNotFound
	}
	delete(m.actions, id)
	return nil
}

func (m *memActions) Ensure(_ context.Context, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := make(map[string]struct{}, len(m.actions))
	for _, action := range m.actions {
		existing[action.Name] = struct{}{}
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := existing[name]; ok {
			continue
		}
		id := ids.New()
		m.actions[id] = &Action{ID: id, Name: name, CreatedAt: time.Now().UTC()}
		existing[name] = struct{}{}
	}
	return nil
}

// Sessions ------------------------------------------------------------------

type memSessions MemoryStore

func (m *memSessions) FindByDeviceAndRefresh(_ context.Context, deviceID, refreshValue string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.DeviceID == deviceID && s.Refresh.Value == refreshValue {
			clone := *s
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memSessions) Upsert(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.UserID == s.UserID && existing.DeviceID == s.DeviceID {
			existing.Access = s.Access
			existing.Refresh = s.Refresh
			existing.UpdatedAt = s.UpdatedAt
			return nil
		}
	}
	clone := *s
	m.sessions[s.ID] = &clone
	return nil
}

func (m *memSessions) DeleteByDevice(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.DeviceID == deviceID {
			delete(m.sessions, id)
		}
	}
	return nil
}

// Otps ----------------------------------------------------------------------

type memOtps MemoryStore

func (m *memOtps) Create(_ context.Context, otp *Otp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *otp
	m.otps[otp.ID] = &clone
	return nil
}

func (m *memOtps) FindValid(_ context.Context, userID, code string, purpose Purpose, now time.Time) (*Otp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, otp := range m.otps {
		if otp.UserID == userID && otp.Code == code && otp.Purpose == purpose && !otp.Used && otp.ExpiresAt.After(now) {
			clone := *otp
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memOtps) MarkUsed(_ context.Context, otpID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	otp, ok := m.otps[otpID]
	if !ok {
		return ErrNotFound
	}
	otp.Used = true
	return nil
}

func (m *memOtps) Attempt(_ context.Context, userID string, purpose Purpose) (*OtpAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt, ok := m.attempts[attemptKey(userID, purpose)]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *attempt
	if attempt.LockedUntil != nil {
		until := *attempt.LockedUntil
		clone.LockedUntil = &until
	}
	return &clone, nil
}

func (m *memOtps) IncrementAttempt(_ context.Context, userID string, purpose Purpose, now time.Time, maxAttempts int, lockFor time.Duration) (*OtpAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := attemptKey(userID, purpose)
	attempt, ok := m.attempts[key]
	if !ok {
		attempt = &OtpAttempt{UserID: userID, Purpose: purpose}
		m.attempts[key] = attempt
	}
	attempt.Attempts++
	attempt.LastAttemptAt = now
	if attempt.Attempts >= maxAttempts && attempt.LockedUntil == nil {
		until := now.Add(lockFor)
		attempt.LockedUntil = &until
	}
	clone := *attempt
	if attempt.LockedUntil != nil {
		until := *attempt.LockedUntil
		clone.LockedUntil = &until
	}
	return &clone, nil
}

func (m *memOtps) ResetAttempt(_ context.Context, userID string, purpose Purpose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, attemptKey(userID, purpose))
	return nil
}

// Reset tokens --------------------------------------------------------------

type memResets MemoryStore

func (m *memResets) Create(_ context.Context, tok *PasswordResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *tok
	m.resetTokens[tok.ID] = &clone
	return nil
}

func (m *memResets) Consume(_ context.Context, value string, now time.Time) (*PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tok := range m.resetTokens {
		if tok.Value == value && !tok.Used && tok.ExpiresAt.After(now) {
			tok.Used = true
			clone := *tok
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memResets) DeleteByUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, tok := range m.resetTokens {
		if tok.UserID == userID {
			delete(m.resetTokens, id)
		}
	}
	return nil
}
