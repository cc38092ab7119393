package config

import (
	"fmt"
	"strings"
)

// dialect holds the column types that differ between the supported engines.
type dialect struct {
	driver   string
	timeType string
	boolType string

	// createIndex is the statement prefix for an idempotent index; MySQL has
	// no IF NOT EXISTS form so duplicate index errors are ignored instead.
	createIndex string
}

var dialects = map[string]dialect{
	"sqlite":   {driver: "sqlite", timeType: "DATETIME", boolType: "BOOLEAN", createIndex: "CREATE INDEX IF NOT EXISTS"},
	"postgres": {driver: "pgx", timeType: "TIMESTAMPTZ", boolType: "BOOLEAN", createIndex: "CREATE INDEX IF NOT EXISTS"},
	"mysql":    {driver: "mysql", timeType: "DATETIME(6)", boolType: "BOOLEAN", createIndex: "CREATE INDEX"},
}

func (d dialect) migrations() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS identities (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL DEFAULT '',
			email VARCHAR(255) NOT NULL UNIQUE,
			email_verified %[2]s NOT NULL DEFAULT FALSE,
			roles VARCHAR(255) NOT NULL DEFAULT 'patient',
			password_hash VARCHAR(255) NOT NULL DEFAULT '',
			banned %[2]s NOT NULL DEFAULT FALSE,
			ban_reason VARCHAR(512) NOT NULL DEFAULT '',
			ban_expires %[1]s NULL,
			created_at %[1]s NOT NULL,
			updated_at %[1]s NOT NULL
		)`, d.timeType, d.boolType),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(64) PRIMARY KEY,
			token_hash VARCHAR(64) NOT NULL UNIQUE,
			identity_id VARCHAR(64) NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			expires_at %[1]s NOT NULL,
			created_at %[1]s NOT NULL,
			updated_at %[1]s NOT NULL,
			ip_address VARCHAR(64) NOT NULL DEFAULT '',
			user_agent VARCHAR(512) NOT NULL DEFAULT '',
			impersonated_by VARCHAR(64) NOT NULL DEFAULT ''
		)`, d.timeType),

		d.createIndex + ` idx_sessions_identity_id ON sessions(identity_id)`,
		d.createIndex + ` idx_sessions_expires_at ON sessions(expires_at)`,
	}
}

func (s *Store) migrate() error {
	for _, m := range s.dialect.migrations() {
		if _, err := s.db.Exec(m); err != nil {
			// MySQL reports an existing index as "Duplicate key name";
			// treat it as a no-op for idempotent migrations.
			if strings.Contains(err.Error(), "Duplicate key name") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
