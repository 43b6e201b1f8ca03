package dbx

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"github.com/jmoiron/sqlx"

	"github.com/relaydata/stripebridge/pkg/errx"
	"github.com/relaydata/stripebridge/pkg/kernel"
	"github.com/relaydata/stripebridge/pkg/logx"
)

// TenantLockKey maps a tenant id to a stable 64-bit advisory lock key.
func TenantLockKey(tenantID kernel.TenantID) int64 {
	sum := sha256.Sum256([]byte(tenantID))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// AdvisoryLocker serializes per-tenant work through WithTenantLock. Services
// depend on this rather than on the pool so tests can substitute a fake.
type AdvisoryLocker struct {
	db *sqlx.DB
}

func NewAdvisoryLocker(db *sqlx.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

func (l *AdvisoryLocker) WithLock(ctx context.Context, tenantID kernel.TenantID, fn func(ctx context.Context) error) (bool, error) {
	return WithTenantLock(ctx, l.db, tenantID, func(ctx context.Context, _ *sqlx.Conn) error {
		return fn(ctx)
	})
}

// WithTenantLock runs fn while holding a session-scoped, non-blocking
// advisory lock for the tenant. The lock lives on a dedicated connection so
// it survives every statement fn runs and releases when the connection goes
// back to the pool.
//
// Returns acquired=false without calling fn when another session holds the
// lock. The unlock is attempted on every exit path; a failed explicit unlock
// is logged only, since closing the connection releases the session lock
// anyway.
func WithTenantLock(ctx context.Context, db *sqlx.DB, tenantID kernel.TenantID, fn func(ctx context.Context, conn *sqlx.Conn) error) (bool, error) {
	conn, err := db.Connx(ctx)
	if err != nil {
		return false, errx.Wrap(err, "failed to obtain connection for advisory lock", errx.TypeInternal)
	}
	defer conn.Close()

	key := TenantLockKey(tenantID)

	var acquired bool
	if err := conn.GetContext(ctx, &acquired, `SELECT pg_try_advisory_lock($1)`, key); err != nil {
		return false, errx.Wrap(err, "failed to acquire advisory lock", errx.TypeInternal)
	}
	if !acquired {
		return false, nil
	}

	defer func() {
		var released bool
		if err := conn.GetContext(context.WithoutCancel(ctx), &released, `SELECT pg_advisory_unlock($1)`, key); err != nil || !released {
			logx.WithField("tenant", tenantID.Redacted()).WithError(err).Warn("advisory unlock failed, relying on connection close")
		}
	}()

	return true, fn(ctx, conn)
}
