package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Migrate applies idempotent DDL for the admissions schema. Additive changes
// only; destructive migrations are out of scope.
func Migrate(ctx context.Context, d *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverPostgres:
		schema = schemaPostgres
	case DriverSQLite:
		schema = schemaSQLite
	default:
		return fmt.Errorf("db: unsupported driver %q", driver)
	}

	// Run as one script; if the driver rejects multi-statement scripts,
	// fall back to splitting on semicolons (sufficient for simple DDL).
	if _, err := d.ExecContext(ctx, schema); err != nil {
		for _, stmt := range strings.Split(schema, ";") {
			trim := strings.TrimSpace(stmt)
			if trim == "" {
				continue
			}
			if _, e := d.ExecContext(ctx, stmt); e != nil {
				return fmt.Errorf("db: migrate failed at %q: %w", firstLine(trim), e)
			}
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS schools (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  npsn TEXT NOT NULL UNIQUE,
  code TEXT NOT NULL UNIQUE,
  address TEXT NOT NULL DEFAULT '',
  phone TEXT NOT NULL DEFAULT '',
  email TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'active',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  full_name TEXT NOT NULL,
  phone TEXT NOT NULL DEFAULT '',
  nik TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL,
  school_id INTEGER REFERENCES schools(id),
  email_verified INTEGER NOT NULL DEFAULT 0,
  email_verification_token TEXT NOT NULL DEFAULT '',
  reset_password_token TEXT NOT NULL DEFAULT '',
  reset_password_expires INTEGER,
  last_login_at INTEGER,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS periods (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  school_id INTEGER NOT NULL REFERENCES schools(id),
  academic_year TEXT NOT NULL,
  level TEXT NOT NULL,
  start_date INTEGER NOT NULL,
  end_date INTEGER NOT NULL,
  registration_start INTEGER NOT NULL,
  registration_end INTEGER NOT NULL,
  announcement_date INTEGER,
  reenrollment_deadline INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'draft',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

-- Drafts for the same key may pile up; only one period per key is live.
CREATE UNIQUE INDEX IF NOT EXISTS idx_periods_active_key
  ON periods (school_id, academic_year, level) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS registration_paths (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  period_id INTEGER NOT NULL REFERENCES periods(id) ON DELETE CASCADE,
  school_id INTEGER NOT NULL REFERENCES schools(id),
  path_type TEXT NOT NULL,
  name TEXT NOT NULL,
  quota INTEGER NOT NULL DEFAULT 0,
  description TEXT NOT NULL DEFAULT '',
  scoring_config TEXT NOT NULL DEFAULT '{}',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS registrations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  school_id INTEGER NOT NULL REFERENCES schools(id),
  user_id INTEGER NOT NULL REFERENCES users(id),
  period_id INTEGER NOT NULL REFERENCES periods(id),
  path_id INTEGER NOT NULL REFERENCES registration_paths(id),
  registration_number TEXT UNIQUE,
  student_nisn TEXT NOT NULL,
  student_name TEXT NOT NULL,
  student_gender TEXT NOT NULL DEFAULT '',
  student_birth_place TEXT NOT NULL DEFAULT '',
  student_birth_date INTEGER NOT NULL DEFAULT 0,
  student_religion TEXT NOT NULL DEFAULT '',
  student_address TEXT NOT NULL DEFAULT '',
  student_phone TEXT NOT NULL DEFAULT '',
  student_email TEXT NOT NULL DEFAULT '',
  parent_name TEXT NOT NULL DEFAULT '',
  parent_nik TEXT NOT NULL DEFAULT '',
  parent_phone TEXT NOT NULL DEFAULT '',
  parent_occupation TEXT NOT NULL DEFAULT '',
  parent_income TEXT NOT NULL DEFAULT '',
  previous_school_name TEXT NOT NULL DEFAULT '',
  previous_school_npsn TEXT NOT NULL DEFAULT '',
  previous_school_address TEXT NOT NULL DEFAULT '',
  path_data TEXT NOT NULL DEFAULT '{}',
  selection_score REAL,
  ranking INTEGER,
  status TEXT NOT NULL DEFAULT 'draft',
  rejection_reason TEXT NOT NULL DEFAULT '',
  admin_notes TEXT NOT NULL DEFAULT '',
  submitted_at INTEGER,
  verified_at INTEGER,
  verified_by INTEGER,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_registrations_period_status ON registrations (period_id, status);
CREATE INDEX IF NOT EXISTS idx_registrations_path_ranking ON registrations (path_id, ranking);

CREATE TABLE IF NOT EXISTS documents (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  registration_id INTEGER NOT NULL REFERENCES registrations(id) ON DELETE CASCADE,
  school_id INTEGER NOT NULL REFERENCES schools(id),
  document_type TEXT NOT NULL,
  file_url TEXT NOT NULL,
  file_name TEXT NOT NULL,
  file_size INTEGER NOT NULL,
  mime_type TEXT NOT NULL,
  verification_status TEXT NOT NULL DEFAULT 'pending',
  rejection_reason TEXT NOT NULL DEFAULT '',
  verified_by INTEGER,
  verified_at INTEGER,
  deleted_at INTEGER,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_registration ON documents (registration_id);

CREATE TABLE IF NOT EXISTS audit_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  school_id INTEGER,
  user_id INTEGER,
  entity_type TEXT NOT NULL,
  entity_id INTEGER NOT NULL,
  action TEXT NOT NULL,
  old_value TEXT NOT NULL DEFAULT '',
  new_value TEXT NOT NULL DEFAULT '',
  ip_address TEXT NOT NULL DEFAULT '',
  user_agent TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS federated_identities (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  provider TEXT NOT NULL,
  provider_user_id TEXT NOT NULL,
  access_token TEXT NOT NULL DEFAULT '',
  refresh_token TEXT NOT NULL DEFAULT '',
  token_expires INTEGER,
  sync_status TEXT NOT NULL DEFAULT 'pending',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  UNIQUE (provider, provider_user_id)
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS schools (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  npsn TEXT NOT NULL UNIQUE,
  code TEXT NOT NULL UNIQUE,
  address TEXT NOT NULL DEFAULT '',
  phone TEXT NOT NULL DEFAULT '',
  email TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'active',
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  full_name TEXT NOT NULL,
  phone TEXT NOT NULL DEFAULT '',
  nik TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL,
  school_id BIGINT REFERENCES schools(id),
  email_verified BOOLEAN NOT NULL DEFAULT FALSE,
  email_verification_token TEXT NOT NULL DEFAULT '',
  reset_password_token TEXT NOT NULL DEFAULT '',
  reset_password_expires BIGINT,
  last_login_at BIGINT,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS periods (
  id BIGSERIAL PRIMARY KEY,
  school_id BIGINT NOT NULL REFERENCES schools(id),
  academic_year TEXT NOT NULL,
  level TEXT NOT NULL,
  start_date BIGINT NOT NULL,
  end_date BIGINT NOT NULL,
  registration_start BIGINT NOT NULL,
  registration_end BIGINT NOT NULL,
  announcement_date BIGINT,
  reenrollment_deadline BIGINT NOT NULL,
  status TEXT NOT NULL DEFAULT 'draft',
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);

-- Drafts for the same key may pile up; only one period per key is live.
CREATE UNIQUE INDEX IF NOT EXISTS idx_periods_active_key
  ON periods (school_id, academic_year, level) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS registration_paths (
  id BIGSERIAL PRIMARY KEY,
  period_id BIGINT NOT NULL REFERENCES periods(id) ON DELETE CASCADE,
  school_id BIGINT NOT NULL REFERENCES schools(id),
  path_type TEXT NOT NULL,
  name TEXT NOT NULL,
  quota INTEGER NOT NULL DEFAULT 0,
  description TEXT NOT NULL DEFAULT '',
  scoring_config TEXT NOT NULL DEFAULT '{}',
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS registrations (
  id BIGSERIAL PRIMARY KEY,
  school_id BIGINT NOT NULL REFERENCES schools(id),
  user_id BIGINT NOT NULL REFERENCES users(id),
  period_id BIGINT NOT NULL REFERENCES periods(id),
  path_id BIGINT NOT NULL REFERENCES registration_paths(id),
  registration_number TEXT UNIQUE,
  student_nisn TEXT NOT NULL,
  student_name TEXT NOT NULL,
  student_gender TEXT NOT NULL DEFAULT '',
  student_birth_place TEXT NOT NULL DEFAULT '',
  student_birth_date BIGINT NOT NULL DEFAULT 0,
  student_religion TEXT NOT NULL DEFAULT '',
  student_address TEXT NOT NULL DEFAULT '',
  student_phone TEXT NOT NULL DEFAULT '',
  student_email TEXT NOT NULL DEFAULT '',
  parent_name TEXT NOT NULL DEFAULT '',
  parent_nik TEXT NOT NULL DEFAULT '',
  parent_phone TEXT NOT NULL DEFAULT '',
  parent_occupation TEXT NOT NULL DEFAULT '',
  parent_income TEXT NOT NULL DEFAULT '',
  previous_school_name TEXT NOT NULL DEFAULT '',
  previous_school_npsn TEXT NOT NULL DEFAULT '',
  previous_school_address TEXT NOT NULL DEFAULT '',
  path_data TEXT NOT NULL DEFAULT '{}',
  selection_score DOUBLE PRECISION,
  ranking INTEGER,
  status TEXT NOT NULL DEFAULT 'draft',
  rejection_reason TEXT NOT NULL DEFAULT '',
  admin_notes TEXT NOT NULL DEFAULT '',
  submitted_at BIGINT,
  verified_at BIGINT,
  verified_by BIGINT,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_registrations_period_status ON registrations (period_id, status);
CREATE INDEX IF NOT EXISTS idx_registrations_path_ranking ON registrations (path_id, ranking);

CREATE TABLE IF NOT EXISTS documents (
  id BIGSERIAL PRIMARY KEY,
  registration_id BIGINT NOT NULL REFERENCES registrations(id) ON DELETE CASCADE,
  school_id BIGINT NOT NULL REFERENCES schools(id),
  document_type TEXT NOT NULL,
  file_url TEXT NOT NULL,
  file_name TEXT NOT NULL,
  file_size BIGINT NOT NULL,
  mime_type TEXT NOT NULL,
  verification_status TEXT NOT NULL DEFAULT 'pending',
  rejection_reason TEXT NOT NULL DEFAULT '',
  verified_by BIGINT,
  verified_at BIGINT,
  deleted_at BIGINT,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_registration ON documents (registration_id);

CREATE TABLE IF NOT EXISTS audit_log (
  id BIGSERIAL PRIMARY KEY,
  school_id BIGINT,
  user_id BIGINT,
  entity_type TEXT NOT NULL,
  entity_id BIGINT NOT NULL,
  action TEXT NOT NULL,
  old_value TEXT NOT NULL DEFAULT '',
  new_value TEXT NOT NULL DEFAULT '',
  ip_address TEXT NOT NULL DEFAULT '',
  user_agent TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS federated_identities (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  provider TEXT NOT NULL,
  provider_user_id TEXT NOT NULL,
  access_token TEXT NOT NULL DEFAULT '',
  refresh_token TEXT NOT NULL DEFAULT '',
  token_expires BIGINT,
  sync_status TEXT NOT NULL DEFAULT 'pending',
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL,
  UNIQUE (provider, provider_user_id)
);

-- Row-level security as defense in depth. Application-level scoping is the
-- authoritative mechanism; these policies back it up when the session sets
-- app.current_school_id.
ALTER TABLE periods ENABLE ROW LEVEL SECURITY;
ALTER TABLE registration_paths ENABLE ROW LEVEL SECURITY;
ALTER TABLE registrations ENABLE ROW LEVEL SECURITY;
ALTER TABLE documents ENABLE ROW LEVEL SECURITY;
DROP POLICY IF EXISTS tenant_isolation_periods ON periods;
CREATE POLICY tenant_isolation_periods ON periods
  USING (school_id = current_setting('app.current_school_id', true)::bigint);
DROP POLICY IF EXISTS tenant_isolation_paths ON registration_paths;
CREATE POLICY tenant_isolation_paths ON registration_paths
  USING (school_id = current_setting('app.current_school_id', true)::bigint);
DROP POLICY IF EXISTS tenant_isolation_registrations ON registrations;
CREATE POLICY tenant_isolation_registrations ON registrations
  USING (school_id = current_setting('app.current_school_id', true)::bigint);
DROP POLICY IF EXISTS tenant_isolation_documents ON documents;
CREATE POLICY tenant_isolation_documents ON documents
  USING (school_id = current_setting('app.current_school_id', true)::bigint);
`
