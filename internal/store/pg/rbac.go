package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/ids"
)

type roleStore Store

var _ auth.RoleStore = (*roleStore)(nil)

func (s *roleStore) Create(ctx context.Context, role *auth.Role) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into roles (id, name)
		values ($1, $2)
		returning created_at, updated_at
	`, role.ID, role.Name)
	if err := row.Scan(&role.CreatedAt, &role.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: role %s", auth.ErrConflict, role.Name)
		}
		return err
	}
	if err := insertRoleActions(ctx, tx, role.ID, role.ActionIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	return s.findOne(ctx, `where id = $1`, id)
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	return s.findOne(ctx, `where name = $1`, name)
}

func (s *roleStore) findOne(ctx context.Context, where string, arg any) (*auth.Role, error) {
	var role auth.Role
	err := s.db.QueryRowContext(ctx, `
		select id, name, created_at, updated_at
		from roles `+where,
		arg,
	).Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadActionIDs(ctx, &role); err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *roleStore) List(ctx context.Context) ([]*auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, created_at, updated_at
		from roles
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*auth.Role
	for rows.Next() {
		var role auth.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, &role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, role := range roles {
		if err := s.loadActionIDs(ctx, role); err != nil {
			return nil, err
		}
	}
	return roles, nil
}

func (s *roleStore) Update(ctx context.Context, id string, upd auth.RoleUpdate) (*auth.Role, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if upd.Name != nil {
		res, err := tx.ExecContext(ctx, `
			update roles set name = $2, updated_at = now() where id = $1
		`, id, *upd.Name)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return nil, fmt.Errorf("%w: role %s", auth.ErrConflict, *upd.Name)
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
		if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, id).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, auth.ErrNotFound
			}
			return nil, err
		}
	}

	if upd.ActionIDs != nil {
		if _, err := tx.ExecContext(ctx, `delete from role_actions where role_id = $1`, id); err != nil {
			return nil, err
		}
		if err := insertRoleActions(ctx, tx, id, upd.ActionIDs); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `update roles set updated_at = now() where id = $1`, id); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.Find(ctx, id)
}

func (s *roleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
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

func (s *roleStore) loadActionIDs(ctx context.Context, role *auth.Role) error {
	rows, err := s.db.QueryContext(ctx, `
		select action_id from role_actions where role_id = $1 order by action_id
	`, role.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	role.ActionIDs = nil
	for rows.Next() {
		var actionID string
		if err := rows.Scan(&actionID); err != nil {
			return err
		}
		role.ActionIDs = append(role.ActionIDs, actionID)
	}
	return rows.Err()
}

func insertRoleActions(ctx context.Context, tx *sql.Tx, roleID string, actionIDs []string) error {
	for _, actionID := range actionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_actions (role_id, action_id)
			values ($1, $2)
			on conflict do nothing
		`, roleID, actionID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: action %s", auth.ErrNotFound, actionID)
			}
			return err
		}
	}
	return nil
}

type actionStore Store

var _ auth.ActionStore = (*actionStore)(nil)

func (s *actionStore) Create(ctx context.Context, action *auth.Action) error {
	row := s.db.QueryRowContext(ctx, `
		insert into actions (id, name)
		values ($1, $2)
		returning created_at
	`, action.ID, action.Name)
	if err := row.Scan(&action.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: action %s", auth.ErrConflict, action.Name)
		}
		return err
	}
	return nil
}

func (s *actionStore) Find(ctx context.Context, id string) (*auth.Action, error) {
	var action auth.Action
	err := s.db.QueryRowContext(ctx, `
		select id, name, created_at from actions where id = $1
	`, id).Scan(&action.ID, &action.Name, &action.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &action, nil
}

func (s *actionStore) List(ctx context.Context) ([]*auth.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, created_at from actions order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*auth.Action
	for rows.Next() {
		var action auth.Action
		if err := rows.Scan(&action.ID, &action.Name, &action.CreatedAt); err != nil {
			return nil, err
		}
		actions = append(actions, &action)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return actions, nil
}

func (s *actionStore) Update(ctx context.Context, id string, name string) (*auth.Action, error) {
	res, err := s.db.ExecContext(ctx, `update actions set name = $2 where id = $1`, id, name)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return nil, fmt.Errorf("%w: action %s", auth.ErrConflict, name)
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
	return s.Find(ctx, id)
}

func (s *actionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from actions where id = $1`, id)
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

func (s *actionStore) Ensure(ctx context.Context, names []string) error {
	for _, name := range names {
		if _, err := s.db.ExecContext(ctx, `
			insert into actions (id, name)
			values ($1, $2)
			on conflict (name) do nothing
		`, ids.New(), name); err != nil {
			return err
		}
	}
	return nil
}
