package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgErrUniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// PGStore persists role definitions in Postgres, accessed through
// database/sql over the pgx stdlib driver.
//
// Schema:
//
//	create table rbac_roles (
//	    id          text primary key,
//	    name        text not null,
//	    permissions jsonb not null default '[]',
//	    hierarchy   jsonb not null default '[]',
//	    updated_at  timestamptz not null default now()
//	);
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) (*PGStore, error) {
	if db == nil {
		return nil, errors.New("rbac: database handle is required")
	}
	return &PGStore{db: db}, nil
}

// EnsureSchema creates the roles table when it does not exist yet.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		create table if not exists rbac_roles (
			id          text primary key,
			name        text not null,
			permissions jsonb not null default '[]',
			hierarchy   jsonb not null default '[]',
			updated_at  timestamptz not null default now()
		)
	`)
	if err != nil {
		return fmt.Errorf("rbac: ensure schema: %w", err)
	}
	return nil
}

// LoadRoles reads every role definition.
func (s *PGStore) LoadRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, permissions, hierarchy
		from rbac_roles
		order by id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Role
	for rows.Next() {
		var (
			role         Role
			rawPerms     []byte
			rawHierarchy []byte
		)
		if err := rows.Scan(&role.ID, &role.Name, &rawPerms, &rawHierarchy); err != nil {
			return nil, err
		}
		if len(rawPerms) > 0 {
			if err := json.Unmarshal(rawPerms, &role.Permissions); err != nil {
				return nil, fmt.Errorf("decode permissions for role %s: %w", role.ID, err)
			}
		}
		if len(rawHierarchy) > 0 {
			if err := json.Unmarshal(rawHierarchy, &role.Hierarchy); err != nil {
				return nil, fmt.Errorf("decode hierarchy for role %s: %w", role.ID, err)
			}
		}
		result = append(result, role)
	}
	return result, rows.Err()
}

// SaveRole upserts a role definition.
func (s *PGStore) SaveRole(ctx context.Context, role Role) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	hierarchy, err := json.Marshal(role.Hierarchy)
	if err != nil {
		return fmt.Errorf("marshal hierarchy: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into rbac_roles (id, name, permissions, hierarchy, updated_at)
		values ($1, $2, $3, $4, now())
		on conflict (id) do update
		set name = excluded.name,
		    permissions = excluded.permissions,
		    hierarchy = excluded.hierarchy,
		    updated_at = now()
	`, role.ID, role.Name, perms, hierarchy)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return fmt.Errorf("%w: role %s", ErrInvalidInput, role.ID)
	}
	return err
}

// DeleteRole removes a role definition.
func (s *PGStore) DeleteRole(ctx context.Context, roleID string) error {
	res, err := s.db.ExecContext(ctx, `delete from rbac_roles where id = $1`, roleID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	return nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	if err == nil {
		return nil, false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
