package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gatehouse.org/internal/auth"
)

type userStore Store

var _ auth.UserStore = (*userStore)(nil)

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into users (id, email, password_hash, first_name, last_name, active)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at, updated_at
	`, u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Active)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: %s", auth.ErrEmailExists, u.Email)
		}
		return err
	}

	if err := insertUserRoles(ctx, tx, u.ID, u.RoleIDs); err != nil {
		return err
	}
	if err := insertUserGrants(ctx, tx, u.ID, u.Grants); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	return s.findOne(ctx, `where id = $1`, id)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findOne(ctx, `where email = $1`, email)
}

func (s *userStore) findOne(ctx context.Context, where string, arg any) (*auth.User, error) {
	var u auth.User
	err := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, first_name, last_name, active, created_at, updated_at
		from users `+where,
		arg,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadRoleIDs(ctx, &u); err != nil {
		return nil, err
	}
	if err := s.loadGrants(ctx, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *userStore) List(ctx context.Context) ([]*auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, email, password_hash, first_name, last_name, active, created_at, updated_at
		from users
		order by email
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		var u auth.User
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, u := range users {
		if err := s.loadRoleIDs(ctx, u); err != nil {
			return nil, err
		}
		if err := s.loadGrants(ctx, u); err != nil {
			return nil, err
		}
	}
	return users, nil
}

func (s *userStore) Update(ctx context.Context, id string, upd auth.UserUpdate) (*auth.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Email != nil {
		sets = append(sets, fmt.Sprintf("email = $%d", idx))
		args = append(args, *upd.Email)
		idx++
	}
	if upd.Password != nil {
		sets = append(sets, fmt.Sprintf("password_hash = $%d", idx))
		args = append(args, *upd.Password)
		idx++
	}
	if upd.FirstName != nil {
		sets = append(sets, fmt.Sprintf("first_name = $%d", idx))
		args = append(args, *upd.FirstName)
		idx++
	}
	if upd.LastName != nil {
		sets = append(sets, fmt.Sprintf("last_name = $%d", idx))
		args = append(args, *upd.LastName)
		idx++
	}
	if upd.Active != nil {
		sets = append(sets, fmt.Sprintf("active = $%d", idx))
		args = append(args, *upd.Active)
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update users set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, id)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return nil, auth.ErrEmailExists
			}
			return nil, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if aff == 0 {
			return nil, auth.ErrNotFound
		}
	} else {
		var exists int
		if err := tx.QueryRowContext(ctx, `select 1 from users where id = $1`, id).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, auth.ErrNotFound
			}
			return nil, err
		}
	}

	if upd.RoleIDs != nil {
		if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1`, id); err != nil {
			return nil, err
		}
		if err := insertUserRoles(ctx, tx, id, upd.RoleIDs); err != nil {
			return nil, err
		}
	}
	if upd.Grants != nil {
		if _, err := tx.ExecContext(ctx, `delete from user_actions where user_id = $1`, id); err != nil {
			return nil, err
		}
		if err := insertUserGrants(ctx, tx, id, upd.Grants); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.Find(ctx, id)
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		update users set password_hash = $2, updated_at = now() where id = $1
	`, userID, passwordHash)
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

func (s *userStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
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

func (s *userStore) loadRoleIDs(ctx context.Context, u *auth.User) error {
	rows, err := s.db.QueryContext(ctx, `
		select role_id from user_roles where user_id = $1 order by role_id
	`, u.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	u.RoleIDs = nil
	for rows.Next() {
		var roleID string
		if err := rows.Scan(&roleID); err != nil {
			return err
		}
		u.RoleIDs = append(u.RoleIDs, roleID)
	}
	return rows.Err()
}

func (s *userStore) loadGrants(ctx context.Context, u *auth.User) error {
	rows, err := s.db.QueryContext(ctx, `
		select ua.action_id, a.name, ua.scope
		from user_actions ua
		join actions a on a.id = ua.action_id
		where ua.user_id = $1
		order by a.name
	`, u.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	u.Grants = nil
	for rows.Next() {
		var g auth.Grant
		if err := rows.Scan(&g.ActionID, &g.ActionName, &g.Scope); err != nil {
			return err
		}
		u.Grants = append(u.Grants, g)
	}
	return rows.Err()
}

func insertUserRoles(ctx context.Context, tx *sql.Tx, userID string, roleIDs []string) error {
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_id)
			values ($1, $2)
			on conflict do nothing
		`, userID, roleID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: role %s", auth.ErrNotFound, roleID)
			}
			return err
		}
	}
	return nil
}

func insertUserGrants(ctx context.Context, tx *sql.Tx, userID string, grants []auth.Grant) error {
	for _, g := range grants {
		if _, err := tx.ExecContext(ctx, `
			insert into user_actions (user_id, action_id, scope)
			values ($1, $2, $3)
			on conflict (user_id, action_id) do update set scope = excluded.scope
		`, userID, g.ActionID, g.Scope); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: action %s", auth.ErrNotFound, g.ActionID)
			}
			return err
		}
	}
	return nil
}
