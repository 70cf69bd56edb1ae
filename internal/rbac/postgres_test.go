package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewPGStore(db)
	if err != nil {
		t.Fatalf("NewPGStore: %v", err)
	}
	return store, mock
}

func TestPGStoreLoadRoles(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "name", "permissions", "hierarchy"}).
		AddRow("admin", "Administrator", []byte(`[{"resource":"roles","action":"manage"}]`), []byte(`["moderator"]`)).
		AddRow("alumni", "Alumni", []byte(`[]`), nil)
	mock.ExpectQuery("select id, name, permissions, hierarchy.*from rbac_roles").WillReturnRows(rows)

	roles, err := store.LoadRoles(context.Background())
	if err != nil {
		t.Fatalf("LoadRoles: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %d", len(roles))
	}
	if roles[0].ID != "admin" || len(roles[0].Permissions) != 1 || roles[0].Permissions[0].Action != ActionManage {
		t.Fatalf("unexpected admin role: %+v", roles[0])
	}
	if len(roles[0].Hierarchy) != 1 || roles[0].Hierarchy[0] != "moderator" {
		t.Fatalf("hierarchy not decoded: %+v", roles[0].Hierarchy)
	}
	if roles[1].Permissions != nil && len(roles[1].Permissions) != 0 {
		t.Fatalf("empty permissions decoded to non-empty set: %+v", roles[1])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreLoadRolesBadJSON(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "name", "permissions", "hierarchy"}).
		AddRow("broken", "Broken", []byte(`{not json`), nil)
	mock.ExpectQuery("select id, name, permissions, hierarchy.*from rbac_roles").WillReturnRows(rows)

	if _, err := store.LoadRoles(context.Background()); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestPGStoreSaveRole(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into rbac_roles").
		WithArgs("alumni", "Alumni", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	role := Role{
		ID:   "alumni",
		Name: "Alumni",
		Permissions: []Permission{
			{Resource: "chat", Action: "read"},
		},
	}
	if err := store.SaveRole(context.Background(), role); err != nil {
		t.Fatalf("SaveRole: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreDeleteRole(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("delete from rbac_roles where id").
		WithArgs("alumni").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.DeleteRole(context.Background(), "alumni"); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}

	mock.ExpectExec("delete from rbac_roles where id").
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.DeleteRole(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreEnsureSchema(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("create table if not exists rbac_roles").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestServiceLoadFromStore(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "name", "permissions", "hierarchy"}).
		AddRow("alumni", "Alumni", []byte(`[{"resource":"chat","action":"read"}]`), nil)
	mock.ExpectQuery("select id, name, permissions, hierarchy.*from rbac_roles").WillReturnRows(rows)

	svc := NewService(store)
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := svc.Role("alumni"); !ok {
		t.Fatalf("loaded role not visible")
	}
}

func TestServiceAddRolePersistsFirst(t *testing.T) {
	store, mock := newMockStore(t)
	svc := NewService(store)

	mock.ExpectExec("insert into rbac_roles").
		WithArgs("support", "Support", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	role := Role{ID: "support", Name: "Support", Permissions: []Permission{{Resource: "tickets", Action: "read"}}}
	if err := svc.AddRole(context.Background(), role); err == nil {
		t.Fatalf("expected store failure to surface")
	}
	if _, ok := svc.Role("support"); ok {
		t.Fatalf("role cached despite failed persistence")
	}
}
