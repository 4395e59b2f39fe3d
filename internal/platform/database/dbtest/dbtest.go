// Package dbtest provides migrated in-memory sqlite databases and row
// fixtures for tests.
package dbtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"taskflow/internal/platform/database"
)

// Open returns a migrated private in-memory database. The pool is pinned to
// one connection so the database lives as long as the test.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite3", "file::memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func IntPtr(v int) *int { return &v }

type TenantOpts struct {
	MaxSites    *int
	MaxOwners   *int
	MaxManagers *int
	MaxUsers    *int
	Modules     string
}

func Tenant(t testing.TB, db *sqlx.DB, name string, opts TenantOpts) string {
	t.Helper()
	id := "tnt_" + uuid.NewString()
	modules := opts.Modules
	if modules == "" {
		modules = "{}"
	}
	now := time.Now().Unix()
	mustExec(t, db, `INSERT INTO tenants (id, name, max_sites, max_owners, max_managers, max_users, available_modules, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, name, opts.MaxSites, opts.MaxOwners, opts.MaxManagers, opts.MaxUsers, modules, now, now)
	return id
}

func Site(t testing.TB, db *sqlx.DB, tenantID, name string) string {
	t.Helper()
	id := "site_" + uuid.NewString()
	now := time.Now().Unix()
	mustExec(t, db, `INSERT INTO sites (id, tenant_id, name, modules, created_at, updated_at) VALUES (?, ?, ?, '{}', ?, ?)`,
		id, tenantID, name, now, now)
	return id
}

type UserOpts struct {
	PasswordHash  *string
	Inactive      bool
	PrimarySiteID *string
	TeamID        *string
	Email         string
}

// User inserts a user with role (ADMIN/OWNER/MANAGER/USER). Users are active
// with a placeholder hash unless opts say otherwise.
func User(t testing.TB, db *sqlx.DB, username, role string, opts UserOpts) string {
	t.Helper()
	id := "usr_" + uuid.NewString()
	email := opts.Email
	if email == "" {
		email = username + "@example.com"
	}
	hash := opts.PasswordHash
	if hash == nil && !opts.Inactive {
		placeholder := "$2a$04$placeholderplaceholderplaceholderplaceholderplacehold"
		hash = &placeholder
	}
	now := time.Now().Unix()
	mustExec(t, db, `INSERT INTO users (id, username, email, first_name, last_name, role_id, password_hash, is_active, must_change_pwd, primary_site_id, team_id, token_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id, username, email, "First", "Last", role, hash, !opts.Inactive, false, opts.PrimarySiteID, opts.TeamID, now, now)
	return id
}

func Member(t testing.TB, db *sqlx.DB, siteID, userID string, isManager bool) {
	t.Helper()
	mustExec(t, db, `INSERT INTO site_memberships (id, site_id, user_id, is_manager, created_at) VALUES (?, ?, ?, ?, ?)`,
		"mbr_"+uuid.NewString(), siteID, userID, isManager, time.Now().Unix())
}

func Team(t testing.TB, db *sqlx.DB, siteID, name string, managerID *string) string {
	t.Helper()
	id := "team_" + uuid.NewString()
	now := time.Now().Unix()
	mustExec(t, db, `INSERT INTO teams (id, site_id, name, manager_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, siteID, name, managerID, now, now)
	return id
}

// Count returns SELECT COUNT(*) for the given query.
func Count(t testing.TB, db *sqlx.DB, query string, args ...interface{}) int {
	t.Helper()
	var n int
	if err := db.Get(&n, query, args...); err != nil {
		t.Fatalf("Count %q: %v", query, err)
	}
	return n
}

func mustExec(t testing.TB, db *sqlx.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("%s: %v", fmt.Sprintf("exec %.40q", query), err)
	}
}
