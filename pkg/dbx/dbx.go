// Package dbx owns the Postgres pool, the schema bootstrap, and the
// per-tenant advisory lock primitive that serializes provisioning ticks.
package dbx

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/relaydata/stripebridge/pkg/config"
	"github.com/relaydata/stripebridge/pkg/errx"
	"github.com/relaydata/stripebridge/pkg/logx"
)

// Connect opens the pool, applies the pool limits from cfg, and verifies the
// connection within the configured deadline. TLS is the default: a DSN that
// says nothing about sslmode gets sslmode=require appended; disabling it for
// a local database has to be spelled out in DATABASE_URL.
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", withDefaultSSLMode(cfg.URL))
	if err != nil {
		return nil, errx.Wrap(err, "failed to open database", errx.TypeInternal)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errx.Wrap(err, "failed to ping database", errx.TypeInternal)
	}

	logx.WithField("max_open_conns", cfg.MaxOpenConns).Info("database connected")
	return db, nil
}

// withDefaultSSLMode appends sslmode=require when the DSN does not mention
// sslmode, handling both URL and key/value forms.
func withDefaultSSLMode(dsn string) string {
	if strings.Contains(dsn, "sslmode=") {
		return dsn
	}
	if strings.Contains(dsn, "://") {
		if strings.Contains(dsn, "?") {
			return dsn + "&sslmode=require"
		}
		return dsn + "?sslmode=require"
	}
	return dsn + " sslmode=require"
}

// Close closes the pool, logging instead of failing.
func Close(db *sqlx.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		logx.WithError(err).Error("error closing database")
	}
}

// HealthCheck pings the database with a short deadline.
func HealthCheck(ctx context.Context, db *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}
