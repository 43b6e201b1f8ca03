package dbx

import (
	"github.com/jmoiron/sqlx"

	"github.com/relaydata/stripebridge/pkg/errx"
	"github.com/relaydata/stripebridge/pkg/logx"
)

type migration struct {
	version int
	sql     string
}

// Migrate applies pending schema migrations. Idempotent; safe to run from
// both binaries at startup.
func Migrate(db *sqlx.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return errx.Wrap(err, "failed to create schema_migrations", errx.TypeInternal)
	}

	var current int
	if err := db.Get(&current, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`); err != nil {
		return errx.Wrap(err, "failed to read schema version", errx.TypeInternal)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(db, m); err != nil {
			return errx.Wrapf(err, errx.TypeInternal, "migration %d failed", m.version)
		}
		logx.WithField("version", m.version).Info("schema migration applied")
	}
	return nil
}

func apply(db *sqlx.DB, m migration) error {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES ($1)`, m.version); err != nil {
		return err
	}
	return tx.Commit()
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS oauth_states (
	state_hash TEXT PRIMARY KEY,
	mode       TEXT NOT NULL CHECK (mode IN ('test', 'live')),
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS oauth_connections (
	tenant_id               TEXT NOT NULL,
	livemode                BOOLEAN NOT NULL,
	scope                   TEXT NOT NULL DEFAULT '',
	publishable_key         TEXT,
	access_token_ct         TEXT NOT NULL,
	access_token_expires_at TIMESTAMPTZ NOT NULL,
	refresh_token_ct        TEXT NOT NULL,
	refresh_token_rotated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tenant_id, livemode)
);

CREATE INDEX IF NOT EXISTS oauth_connections_expiry_idx
	ON oauth_connections (access_token_expires_at);

CREATE TABLE IF NOT EXISTS provisioned_databases (
	tenant_id       TEXT PRIMARY KEY,
	project_ref     TEXT NOT NULL,
	db_password_ct  TEXT NOT NULL,
	connection_host TEXT NOT NULL,
	region          TEXT NOT NULL,
	install_status  TEXT NOT NULL DEFAULT 'pending',
	install_step    TEXT,
	error_message   TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
}
